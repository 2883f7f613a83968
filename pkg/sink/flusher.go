package sink

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/DTSL/target-gcs/pkg/batch"
	"github.com/DTSL/target-gcs/pkg/config"
	"github.com/DTSL/target-gcs/pkg/observability"
)

// ═══════════════════════════════════════════
// Flusher — buffer to durable object
// ═══════════════════════════════════════════

// Flusher drains stream buffers into durably named storage objects.
// Object layout: <object_path>/<stream>[/<run timestamp>]/<stream>_<seq>.<ext>
// The run timestamp segment is fixed once at the start of the run, so
// all of a stream's batches land under the same folder.
type Flusher struct {
	client   Client
	bucket   string
	prefix   string
	runStamp string // empty unless append_timestamp_folder
	format   string
	backend  map[string]any
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewFlusher creates the run's flusher.
func NewFlusher(client Client, cfg *config.Config, runStamp string,
	logger *observability.Logger, metrics *observability.Metrics) *Flusher {
	return &Flusher{
		client:   client,
		bucket:   cfg.BucketName,
		prefix:   cfg.ObjectPath,
		runStamp: runStamp,
		format:   cfg.Format,
		backend:  cfg.Backend,
		logger:   logger,
		metrics:  metrics,
	}
}

// ObjectPath returns the folder a stream's batches are placed under.
func (f *Flusher) ObjectPath(stream string) string {
	if f.runStamp != "" {
		return path.Join(f.prefix, stream, f.runStamp)
	}
	return path.Join(f.prefix, stream)
}

// ObjectName returns "<stream>_<seq>.<ext>" for a batch.
func (f *Flusher) ObjectName(stream string, seq int) string {
	return fmt.Sprintf("%s_%d.%s", stream, seq, FormatExtension(f.format))
}

// Flush uploads a stream's buffered records as a single object at the
// stream's current sequence number, then empties the buffer in place so
// accumulation continues under the same handle. Empty buffers are
// skipped silently, so schema-only streams never produce zero-byte
// objects. Returns whether an object was created; the caller advances
// the sequence only when it was.
//
// Upload errors are logged with bucket/path context and returned
// unmodified: they are fatal to the run, not retried here.
func (f *Flusher) Flush(ctx context.Context, store *batch.Store, stream string) (bool, error) {
	if err := store.Sync(stream); err != nil {
		return false, err
	}
	size, err := store.Size(stream)
	if err != nil {
		return false, err
	}
	if size == 0 {
		return false, nil
	}

	if f.bucket == "" {
		return false, fmt.Errorf("bucket_name is required to flush stream %s", stream)
	}

	name := f.ObjectName(stream, store.Sequence(stream))
	objectName := path.Join(f.ObjectPath(stream), name)

	uploadPath := store.Path(stream)
	cleanup := func() {}
	if f.format != "jsonl" && f.format != "" {
		uploadPath, cleanup, err = f.reencode(store.Path(stream))
		if err != nil {
			return false, fmt.Errorf("encode batch for stream %s: %w", stream, err)
		}
	}
	defer cleanup()

	f.logger.Infof("loading %s/%s (%d buffered bytes)", f.bucket, objectName, size)

	obj := f.client.Bucket(f.bucket).Object(objectName)
	if err := obj.UploadFile(ctx, uploadPath); err != nil {
		f.logger.Errorf("failed to load to bucket %s object %s: %v", f.bucket, objectName, err)
		return false, err
	}

	if f.metrics != nil {
		f.metrics.BatchesFlushed.Add(1)
		f.metrics.BytesFlushed.Add(size)
		f.metrics.RecordsFlushed.Add(int64(store.Count(stream)))
	}

	if err := store.Truncate(stream); err != nil {
		return true, err
	}
	return true, nil
}

// reencode converts a spooled JSONL buffer into the configured format,
// written to a sibling temp file the upload reads from.
func (f *Flusher) reencode(spoolPath string) (string, func(), error) {
	data, err := os.ReadFile(spoolPath)
	if err != nil {
		return "", nil, err
	}
	records, err := DecodeLines(data)
	if err != nil {
		return "", nil, err
	}

	var encoded []byte
	switch f.format {
	case "parquet":
		compression := resolve(f.backend, "compression", "", "snappy")
		encoded, err = EncodeParquet(records, compression)
	case "csv":
		delimiter := ParseCSVDelimiter(resolve(f.backend, "csv_delimiter", "", ","))
		encoded, err = EncodeCSV(records, delimiter)
	default:
		return "", nil, fmt.Errorf("unsupported format %q", f.format)
	}
	if err != nil {
		return "", nil, err
	}

	tmp, err := os.CreateTemp("", "target-gcs-encode-")
	if err != nil {
		return "", nil, err
	}
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, err
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}
