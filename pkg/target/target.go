// Package target implements the persist loop: it consumes Singer
// messages from a byte stream, batches records per stream, flushes
// batches to object storage, and emits the final checkpoint state.
//
// The loop is single-threaded and synchronous. One input line is fully
// processed before the next is read, and a flush is a full barrier: no
// other stream's buffer is touched while an upload is in flight.
package target

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/DTSL/target-gcs/pkg/batch"
	"github.com/DTSL/target-gcs/pkg/config"
	"github.com/DTSL/target-gcs/pkg/flatten"
	"github.com/DTSL/target-gcs/pkg/message"
	"github.com/DTSL/target-gcs/pkg/observability"
	"github.com/DTSL/target-gcs/pkg/schema"
	"github.com/DTSL/target-gcs/pkg/sink"
)

// maxLineSize bounds a single input line. Singer taps can emit wide
// records, so this is generous.
const maxLineSize = 20 * 1024 * 1024

// runStampFormat names the per-run timestamp folder segment.
const runStampFormat = "20060102T150405"

// Target is one run of the sink: registry, batch store, flusher, and
// checkpoint tracking, scoped to a single pass over the input.
type Target struct {
	cfg      *config.Config
	registry *schema.Registry
	store    *batch.Store
	flusher  *sink.Flusher
	logger   *observability.Logger
	metrics  *observability.Metrics

	// state is the last STATE value seen, invalidated (nil) by any
	// later RECORD: the emitted checkpoint must only represent data
	// that was durably flushed.
	state      any
	prevStream string
}

// New creates a run over the given storage client. Callers must defer
// Close so spooled buffers are released on every exit path.
func New(cfg *config.Config, client sink.Client,
	logger *observability.Logger, metrics *observability.Metrics) (*Target, error) {
	store, err := batch.NewStore()
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	runStamp := ""
	if cfg.AppendTimestampFolder {
		runStamp = time.Now().Format(runStampFormat)
	}

	return &Target{
		cfg:      cfg,
		registry: schema.NewRegistry(),
		store:    store,
		flusher:  sink.NewFlusher(client, cfg, runStamp, logger, metrics),
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Close releases the spool directory.
func (t *Target) Close() error {
	return t.store.Close()
}

// Status returns per-stream progress for the /status endpoint.
func (t *Target) Status() map[string]any {
	streams := make(map[string]any)
	for _, name := range t.store.Streams() {
		streams[name] = map[string]any{
			"sequence": t.store.Sequence(name),
			"buffered": t.store.Count(name),
		}
	}
	return map[string]any{"streams": streams}
}

// Run consumes messages from r until EOF, flushes every non-empty
// buffer, and writes the final state line to stateOut. Any protocol,
// validation, or upload error aborts the run.
func (t *Target) Run(ctx context.Context, r io.Reader, stateOut io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.process(ctx, scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	if err := t.flushAll(ctx); err != nil {
		return err
	}
	return t.emitState(stateOut)
}

// process dispatches one input line by its message type.
func (t *Target) process(ctx context.Context, line []byte) error {
	msg, err := message.Decode(line)
	if err != nil {
		t.logger.Errorf("unable to parse line: %s", line)
		return err
	}

	switch msg.Type {
	case message.TypeSchema:
		t.logger.Debugf("registering schema for stream %s (key properties %v)",
			msg.Stream, msg.KeyProperties)
		t.registry.Register(msg.Stream, msg.Schema, msg.KeyProperties)

	case message.TypeRecord:
		return t.processRecord(ctx, msg)

	case message.TypeState:
		t.logger.Debugf("setting state to %v", msg.Value)
		t.state = msg.Value
		t.metrics.StatesIn.Add(1)

	default:
		t.logger.Warnf("unknown message type %q in message %s", msg.Type, line)
	}
	return nil
}

// processRecord validates, flattens, and buffers one record, then
// evaluates the flush trigger.
func (t *Target) processRecord(ctx context.Context, msg *message.Message) error {
	if err := t.registry.Validate(msg.Stream, msg.Record); err != nil {
		return err
	}

	flat := flatten.Flatten(msg.Record)
	if err := t.store.Append(msg.Stream, flat); err != nil {
		return err
	}
	t.metrics.RecordsIn.Add(1)

	decision := batch.Evaluate(msg.Stream, t.store.Count(msg.Stream),
		t.cfg.SyncBatch, t.cfg.SyncIfStreamChanges, t.prevStream)
	if decision.Flush() {
		t.logger.Debugf("flushing stream %s: %s", decision.Stream, decision.Reason)
		flushed, err := t.flusher.Flush(ctx, t.store, decision.Stream)
		if err != nil {
			return err
		}
		if flushed {
			t.store.Advance(decision.Stream)
		}
	}

	// A buffered record invalidates any checkpoint seen before it.
	t.state = nil
	t.prevStream = msg.Stream
	return nil
}

// flushAll drains every non-empty buffer at its current sequence.
func (t *Target) flushAll(ctx context.Context) error {
	for _, name := range t.store.Streams() {
		flushed, err := t.flusher.Flush(ctx, t.store, name)
		if err != nil {
			return err
		}
		if flushed {
			t.store.Advance(name)
		}
	}
	return nil
}

// emitState writes the final checkpoint as one JSON line. A nil state
// emits nothing: it means records were buffered after the last STATE
// message, or no STATE was ever seen.
func (t *Target) emitState(w io.Writer) error {
	if t.state == nil {
		return nil
	}
	line, err := json.Marshal(t.state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	t.logger.Debugf("emitting state %s", line)
	if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}
