// Package config handles loading, parsing, and validating the target
// configuration file passed with -c.
//
// Singer taps conventionally ship JSON config files; YAML is accepted
// as well since the parser handles both.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the target configuration.
//
// JSON example:
//
//	{
//	  "bucket_name": "my-data-lake",
//	  "object_path": "raw/singer",
//	  "append_timestamp_folder": true,
//	  "sync_batch": 10000,
//	  "sync_if_stream_changes": false,
//	  "provider": "gcs",
//	  "format": "jsonl",
//	  "config": {"compression": "snappy"}
//	}
type Config struct {
	// BucketName is the target storage bucket. Required before the
	// first flush; a run with no records never needs it.
	BucketName string `yaml:"bucket_name" json:"bucket_name"`

	// ObjectPath is an optional prefix under which objects are placed.
	ObjectPath string `yaml:"object_path" json:"object_path"`

	// AppendTimestampFolder inserts a run-start timestamp folder
	// segment per stream, fixed once at the start of the run.
	AppendTimestampFolder bool `yaml:"append_timestamp_folder" json:"append_timestamp_folder"`

	// SyncBatch is the per-stream record count that triggers an
	// interim flush. 0 (the default) means unbounded: streams flush
	// only at end of run or on stream change.
	SyncBatch int `yaml:"sync_batch" json:"sync_batch"`

	// SyncIfStreamChanges flushes the previous stream's buffer when
	// consecutive records belong to different streams.
	SyncIfStreamChanges bool `yaml:"sync_if_stream_changes" json:"sync_if_stream_changes"`

	// Provider selects the storage backend: gcs (default), s3, or
	// memory (dry runs).
	Provider string `yaml:"provider" json:"provider"`

	// Format selects the batch object encoding: jsonl (default,
	// .json objects), parquet, or csv.
	Format string `yaml:"format" json:"format"`

	// MetricsAddr, when set, serves /metrics, /health and /status on
	// this address for the duration of the run.
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	// Backend holds provider-specific options (project, region,
	// endpoint, access_key_id, secret_access_key, compression,
	// csv_delimiter).
	Backend map[string]any `yaml:"config" json:"config"`
}

// Default returns the empty configuration used when no config file is
// given. Flushing then fails on the missing bucket name, not before.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw config bytes (JSON or YAML) into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Provider == "" {
		cfg.Provider = "gcs"
	}
	if cfg.Format == "" {
		cfg.Format = "jsonl"
	}
}

// ═══════════════════════════════════════════
// Validation
// ═══════════════════════════════════════════

// ValidationError represents a single validation issue.
type ValidationError struct {
	Field    string
	Message  string
	Severity string // error|warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Field, e.Message)
}

// ValidationResult contains all validation issues.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(field, msg string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: msg, Severity: "error"})
}

func (r *ValidationResult) addWarning(field, msg string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: msg, Severity: "warning"})
}

// Validate checks a Config for correctness. The run path stays lazy
// about the bucket name; this is the eager check for operators.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if cfg.BucketName == "" {
		result.addError("bucket_name", "required")
	}

	switch cfg.Provider {
	case "gcs", "s3", "memory":
	default:
		result.addError("provider", fmt.Sprintf("unsupported provider %q (supported: gcs, s3, memory)", cfg.Provider))
	}

	switch cfg.Format {
	case "jsonl", "parquet", "csv":
	default:
		result.addError("format", fmt.Sprintf("unsupported format %q (supported: jsonl, parquet, csv)", cfg.Format))
	}

	if cfg.SyncBatch < 0 {
		result.addError("sync_batch", "must be >= 0")
	}

	if cfg.Format != "parquet" {
		if _, ok := cfg.Backend["compression"]; ok {
			result.addWarning("config.compression", "only applies to the parquet format")
		}
	}
	if cfg.Format != "csv" {
		if _, ok := cfg.Backend["csv_delimiter"]; ok {
			result.addWarning("config.csv_delimiter", "only applies to the csv format")
		}
	}
	if cfg.Provider != "s3" {
		for _, key := range []string{"region", "endpoint", "access_key_id", "secret_access_key"} {
			if _, ok := cfg.Backend[key]; ok {
				result.addWarning("config."+key, "only applies to the s3 provider")
			}
		}
	}
	if cfg.Provider != "gcs" {
		if _, ok := cfg.Backend["project"]; ok {
			result.addWarning("config.project", "only applies to the gcs provider")
		}
	}

	return result
}
