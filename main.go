// target-gcs — Singer target that persists record streams to object
// storage.
//
// Usage:
//
//	tap-something | target-gcs -c config.json
//	target-gcs validate config.json       # Check a config file
//	target-gcs dry-run -c config.json     # Process input without uploading
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/DTSL/target-gcs/internal/cli"
	"github.com/DTSL/target-gcs/pkg/config"
	"github.com/DTSL/target-gcs/pkg/observability"
	"github.com/DTSL/target-gcs/pkg/sink"
	"github.com/DTSL/target-gcs/pkg/target"
)

func main() {
	args := os.Args[1:]

	// Bare `target-gcs -c config.json` is the Singer convention, so
	// flags without a leading command mean run.
	cmd := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "", "run":
		err = cmdRun(args, false)
	case "dry-run":
		err = cmdRun(args, true)
	case "validate":
		err = cmdValidate(args)
	case "version":
		fmt.Printf("target-gcs %s\n", cli.Version)
	case "help", "--help", "-h":
		cli.PrintBanner()
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: target-gcs [command] [options]

Commands:
  run       [-c <file>]   Read Singer messages from stdin and persist them (default)
  dry-run   [-c <file>]   Process stdin against an in-memory backend, upload nothing
  validate  <file>        Validate a config file
  version                 Print version

Options:
  -c, --config <file>     Config file (JSON or YAML); omitted means empty config

Examples:
  tap-postgres | target-gcs -c config.json
  target-gcs validate config.json
  cat messages.jsonl | target-gcs dry-run -c config.json`)
}

// configPath extracts the -c/--config value from args.
func configPath(args []string) string {
	for i, a := range args {
		if (a == "-c" || a == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// ═══════════════════════════════════════════
// run / dry-run — the persist loop
// ═══════════════════════════════════════════

func cmdRun(args []string, dry bool) error {
	cfg := config.Default()
	if path := configPath(args); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := observability.NewLogger(os.Stderr, os.Getenv("TARGET_GCS_DEBUG") != "")
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mem *sink.MemoryClient
	var client sink.Client
	if dry {
		mem = sink.NewMemoryClient()
		client = mem
	} else {
		var err error
		client, err = buildClient(ctx, cfg)
		if err != nil {
			return err
		}
	}
	defer client.Close()

	t, err := target.New(cfg, client, logger, metrics)
	if err != nil {
		return err
	}
	defer t.Close()

	if cfg.MetricsAddr != "" {
		srv := observability.NewServer(cfg.MetricsAddr, metrics, logger)
		srv.SetStatusFn(t.Status)
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	if err := t.Run(ctx, os.Stdin, os.Stdout); err != nil {
		return err
	}

	if dry {
		printDryRun(mem)
	}
	return nil
}

// buildClient constructs the configured storage backend.
func buildClient(ctx context.Context, cfg *config.Config) (sink.Client, error) {
	switch cfg.Provider {
	case "gcs":
		return sink.NewGCSClient(ctx, cfg.Backend)
	case "s3":
		return sink.NewS3Client(ctx, cfg.Backend)
	case "memory":
		return sink.NewMemoryClient(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s (supported: gcs, s3, memory)", cfg.Provider)
	}
}

func printDryRun(mem *sink.MemoryClient) {
	keys := mem.Keys()
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "dry-run: no objects would be created")
		return
	}
	fmt.Fprintf(os.Stderr, "dry-run: %d object(s) would be created:\n", len(keys))
	for _, key := range keys {
		fmt.Fprintf(os.Stderr, "  %s (%d bytes)\n", key, mem.Size(key))
	}
}

// ═══════════════════════════════════════════
// validate — eager config check
// ═══════════════════════════════════════════

func cmdValidate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: target-gcs validate <config file>")
	}

	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	result := config.Validate(cfg)
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %s: %s\n", w.Field, w.Message)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", e.Field, e.Message)
	}
	if !result.IsValid() {
		return fmt.Errorf("%s: %d error(s)", args[0], len(result.Errors))
	}

	fmt.Printf("✓ %s is valid (bucket %s, provider %s, format %s)\n",
		args[0], cfg.BucketName, cfg.Provider, cfg.Format)
	return nil
}
