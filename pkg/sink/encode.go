package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/parquet-go/parquet-go/compress/gzip"
	"github.com/parquet-go/parquet-go/compress/snappy"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// ═══════════════════════════════════════════
// Batch encoders (parquet / csv)
// ═══════════════════════════════════════════

// EncodeParquet converts a batch of flat records into a Parquet byte
// buffer. Columns are the union of all keys across the batch, sorted
// for deterministic output.
// Compression options: "snappy" (default), "zstd", "gzip", "none".
func EncodeParquet(records []map[string]any, compression string) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}

	columns, colSample := discoverColumns(records)

	nodes := make(map[string]parquet.Node, len(columns))
	for _, col := range columns {
		nodes[col] = buildParquetNode(colSample[col])
	}
	schema := parquet.NewSchema("record", parquet.Group(nodes))

	codec := selectParquetCompression(compression)

	var buf bytes.Buffer
	writerOpts := []parquet.WriterOption{schema}
	if codec != nil {
		writerOpts = append(writerOpts, parquet.Compression(codec))
	}
	writer := parquet.NewGenericWriter[map[string]any](&buf, writerOpts...)

	for _, rec := range records {
		row := make(map[string]any, len(columns))
		for _, col := range columns {
			v, ok := rec[col]
			if !ok {
				row[col] = nil
				continue
			}
			row[col] = v
		}
		if _, err := writer.Write([]map[string]any{row}); err != nil {
			return nil, fmt.Errorf("parquet write row: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("parquet close: %w", err)
	}
	return buf.Bytes(), nil
}

// buildParquetNode creates a parquet.Node for a column's sample value.
func buildParquetNode(sample any) parquet.Node {
	switch sample.(type) {
	case float64, float32:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case int, int64:
		return parquet.Optional(parquet.Leaf(parquet.Int64Type))
	case bool:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	default:
		// strings, coerced lists, nil — all stored as string
		return parquet.Optional(parquet.String())
	}
}

// selectParquetCompression returns the compress.Codec for the given name.
func selectParquetCompression(name string) compress.Codec {
	switch name {
	case "zstd":
		return &zstd.Codec{Level: zstd.DefaultLevel}
	case "gzip":
		return &gzip.Codec{}
	case "none", "uncompressed":
		return nil // parquet-go uses no compression when nil
	default:
		// Default: snappy
		return &snappy.Codec{}
	}
}

// EncodeCSV converts a batch of flat records into RFC 4180 CSV bytes.
// Columns are the union of all keys, sorted alphabetically; nil values
// become empty strings. Delimiter defaults to comma.
func EncodeCSV(records []map[string]any, delimiter rune) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}

	if delimiter == 0 {
		delimiter = ','
	}

	columns, _ := discoverColumns(records)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = delimiter

	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("csv write header: %w", err)
	}

	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			v, ok := rec[col]
			if !ok || v == nil {
				row[i] = ""
				continue
			}
			row[i] = formatCSVValue(v)
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("csv write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv flush: %w", err)
	}
	return buf.Bytes(), nil
}

// formatCSVValue converts a value to its CSV string representation.
func formatCSVValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	case float32:
		return fmt.Sprintf("%g", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// discoverColumns returns the sorted union of keys across a batch plus
// a sample value per column for type inference.
func discoverColumns(records []map[string]any) ([]string, map[string]any) {
	colSample := make(map[string]any)
	for _, rec := range records {
		for k, v := range rec {
			if _, seen := colSample[k]; !seen {
				colSample[k] = v
			}
		}
	}
	columns := make([]string, 0, len(colSample))
	for k := range colSample {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns, colSample
}

// ── Helpers ──────────────────────────────────

// ParseCSVDelimiter parses the csv_delimiter config value into a rune.
// Supports: ",", ";", "\t", "tab", "|", or any single character.
func ParseCSVDelimiter(s string) rune {
	switch s {
	case "", ",":
		return ','
	case "\\t", "tab", "\t":
		return '\t'
	case ";":
		return ';'
	case "|":
		return '|'
	default:
		runes := []rune(s)
		if len(runes) > 0 {
			return runes[0]
		}
		return ','
	}
}

// FormatExtension returns the object extension for a given format.
// The default jsonl format keeps the .json extension of the Singer
// naming convention even though objects contain one JSON per line.
func FormatExtension(format string) string {
	switch format {
	case "parquet":
		return "parquet"
	case "csv":
		return "csv"
	default:
		return "json"
	}
}

// ObjectContentType returns the content type for an object name, based
// on its extension.
func ObjectContentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".parquet"):
		return "application/octet-stream"
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	default:
		return "application/json"
	}
}

// DecodeLines parses newline-delimited JSON back into flat records,
// used when a non-jsonl format re-encodes a spooled buffer at flush
// time.
func DecodeLines(data []byte) ([]map[string]any, error) {
	var records []map[string]any
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("decode spooled record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}
