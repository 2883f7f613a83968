package target

import (
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"testing"

	"github.com/DTSL/target-gcs/pkg/config"
	"github.com/DTSL/target-gcs/pkg/observability"
	"github.com/DTSL/target-gcs/pkg/sink"
)

const usersSchema = `{"type": "SCHEMA", "stream": "users", "schema": {"type": "object", "properties": {"id": {"type": "integer"}, "name": {"type": "string"}}, "required": ["id"]}, "key_properties": ["id"]}`
const ordersSchema = `{"type": "SCHEMA", "stream": "orders", "schema": {"type": "object", "properties": {"id": {"type": "integer"}}}, "key_properties": ["id"]}`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BucketName = "bkt"
	return cfg
}

// runLines runs a full target pass over the given input lines.
func runLines(t *testing.T, cfg *config.Config, lines ...string) (*sink.MemoryClient, string, error) {
	t.Helper()

	client := sink.NewMemoryClient()
	logger := observability.NewLogger(io.Discard, false)

	tgt, err := New(cfg, client, logger, observability.NewMetrics())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tgt.Close()

	var stateOut bytes.Buffer
	runErr := tgt.Run(context.Background(), strings.NewReader(strings.Join(lines, "\n")), &stateOut)
	return client, stateOut.String(), runErr
}

func TestEndToEndSingleRecord(t *testing.T) {
	client, state, err := runLines(t, testConfig(),
		usersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1, "name": "a"}}`,
		`{"type": "STATE", "value": {"bookmark": 1}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, ok := client.Object("bkt", "users/users_1.json")
	if !ok {
		t.Fatalf("expected object users/users_1.json, have %v", client.Keys())
	}
	if string(data) != `{"id":1,"name":"a"}`+"\n" {
		t.Errorf("unexpected object contents: %q", data)
	}
	if state != `{"bookmark":1}`+"\n" {
		t.Errorf("unexpected state output: %q", state)
	}
}

func TestRecordBeforeSchemaFails(t *testing.T) {
	// Other streams having schemas doesn't help.
	_, _, err := runLines(t, testConfig(),
		ordersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
	)
	if err == nil {
		t.Fatal("expected fatal error for record before schema")
	}
	if !strings.Contains(err.Error(), "before a corresponding schema") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidationFailureAborts(t *testing.T) {
	_, _, err := runLines(t, testConfig(),
		usersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"name": "no-id"}}`,
	)
	if err == nil {
		t.Fatal("expected fatal validation error")
	}
	if !strings.Contains(err.Error(), "missing required field: id") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestBatchSizeFlush(t *testing.T) {
	cfg := testConfig()
	cfg.SyncBatch = 3

	client, _, err := runLines(t, cfg,
		usersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 2}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 3}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Exactly one flush, at sequence 1; the end-of-run pass finds an
	// empty buffer and creates nothing.
	keys := client.Keys()
	if len(keys) != 1 || keys[0] != "bkt/users/users_1.json" {
		t.Fatalf("expected exactly [bkt/users/users_1.json], got %v", keys)
	}
	data, _ := client.Object("bkt", "users/users_1.json")
	if got := strings.Count(string(data), "\n"); got != 3 {
		t.Errorf("expected 3 records in batch, got %d", got)
	}
}

func TestBatchSizeCounterResets(t *testing.T) {
	cfg := testConfig()
	cfg.SyncBatch = 2

	client, _, err := runLines(t, cfg,
		usersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 2}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 3}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// Two records flush as batch 1; the third flushes at end of run as
	// batch 2 under the advanced sequence.
	keys := client.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 objects, got %v", keys)
	}
	if keys[0] != "bkt/users/users_1.json" || keys[1] != "bkt/users/users_2.json" {
		t.Errorf("unexpected object names: %v", keys)
	}
	second, _ := client.Object("bkt", "users/users_2.json")
	if string(second) != `{"id":3}`+"\n" {
		t.Errorf("unexpected second batch contents: %q", second)
	}
}

func TestStreamChangeFlushesPreviousStream(t *testing.T) {
	cfg := testConfig()
	cfg.SyncIfStreamChanges = true

	client, _, err := runLines(t, cfg,
		usersSchema,
		ordersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
		`{"type": "RECORD", "stream": "orders", "record": {"id": 10}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 2}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// RECORD(orders) flushed users_1 before any orders object existed;
	// RECORD(users) then flushed orders_1; the final users record
	// flushed at end of run under sequence 2.
	keys := client.Keys()
	want := []string{
		"bkt/orders/orders_1.json",
		"bkt/users/users_1.json",
		"bkt/users/users_2.json",
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}

	first, _ := client.Object("bkt", "users/users_1.json")
	if string(first) != `{"id":1}`+"\n" {
		t.Errorf("users_1 should hold only the pre-boundary record: %q", first)
	}
}

func TestSchemaOnlyStreamProducesNoObject(t *testing.T) {
	client, _, err := runLines(t, testConfig(),
		usersSchema,
		ordersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	keys := client.Keys()
	if len(keys) != 1 || keys[0] != "bkt/users/users_1.json" {
		t.Errorf("schema-only stream must create nothing: %v", keys)
	}
}

func TestCheckpointInvalidatedByLaterRecord(t *testing.T) {
	_, state, err := runLines(t, testConfig(),
		usersSchema,
		`{"type": "STATE", "value": {"bookmark": 1}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if state != "" {
		t.Errorf("expected no checkpoint after trailing record, got %q", state)
	}
}

func TestCheckpointFromLastStateWins(t *testing.T) {
	_, state, err := runLines(t, testConfig(),
		usersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
		`{"type": "STATE", "value": {"bookmark": 1}}`,
		`{"type": "STATE", "value": {"bookmark": 2}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if state != `{"bookmark":2}`+"\n" {
		t.Errorf("expected last state value, got %q", state)
	}
}

func TestNullStateEmitsNothing(t *testing.T) {
	_, state, err := runLines(t, testConfig(),
		`{"type": "STATE", "value": null}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if state != "" {
		t.Errorf("null checkpoint must emit nothing, got %q", state)
	}
}

func TestUnknownMessageTypeIgnored(t *testing.T) {
	client, _, err := runLines(t, testConfig(),
		usersSchema,
		`{"type": "ACTIVATE_VERSION", "stream": "users", "version": 1}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
	)
	if err != nil {
		t.Fatalf("unknown types must not abort the run: %v", err)
	}
	if len(client.Keys()) != 1 {
		t.Errorf("expected run to continue past unknown type: %v", client.Keys())
	}
}

func TestMissingTypeIsFatal(t *testing.T) {
	_, _, err := runLines(t, testConfig(), `{"stream": "users"}`)
	if err == nil {
		t.Fatal("expected fatal error for line without type")
	}
}

func TestMalformedLineIsFatal(t *testing.T) {
	_, _, err := runLines(t, testConfig(),
		usersSchema,
		`{"type": "RECORD", "stream":`,
	)
	if err == nil {
		t.Fatal("expected fatal error for malformed line")
	}
}

func TestNestedRecordIsFlattened(t *testing.T) {
	client, _, err := runLines(t, testConfig(),
		`{"type": "SCHEMA", "stream": "users", "schema": {"type": "object"}, "key_properties": []}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1, "address": {"city": "paris"}, "tags": ["a", "b"]}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, _ := client.Object("bkt", "users/users_1.json")
	if string(data) != `{"address__city":"paris","id":1,"tags":"[\"a\",\"b\"]"}`+"\n" {
		t.Errorf("unexpected flattened record: %q", data)
	}
}

func TestTimestampFolderFixedPerRun(t *testing.T) {
	cfg := testConfig()
	cfg.AppendTimestampFolder = true
	cfg.SyncBatch = 1

	client, _, err := runLines(t, cfg,
		usersSchema,
		`{"type": "RECORD", "stream": "users", "record": {"id": 1}}`,
		`{"type": "RECORD", "stream": "users", "record": {"id": 2}}`,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	keys := client.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 objects, got %v", keys)
	}
	pattern := regexp.MustCompile(`^bkt/users/\d{8}T\d{6}/users_\d\.json$`)
	for _, key := range keys {
		if !pattern.MatchString(key) {
			t.Errorf("object key missing timestamp folder: %s", key)
		}
	}
	// Same run, same folder for both batches.
	dir := func(k string) string { return k[:strings.LastIndex(k, "/")] }
	if dir(keys[0]) != dir(keys[1]) {
		t.Errorf("timestamp folder changed mid-run: %v", keys)
	}
}

func TestEmptyInputEmitsNothing(t *testing.T) {
	client, state, err := runLines(t, testConfig())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(client.Keys()) != 0 || state != "" {
		t.Errorf("empty input must produce nothing: %v %q", client.Keys(), state)
	}
}

func TestStatusReportsStreams(t *testing.T) {
	client := sink.NewMemoryClient()
	logger := observability.NewLogger(io.Discard, false)

	tgt, err := New(testConfig(), client, logger, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tgt.Close()

	var out bytes.Buffer
	input := usersSchema + "\n" + `{"type": "RECORD", "stream": "users", "record": {"id": 1}}`
	if err := tgt.Run(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	status := tgt.Status()
	streams, ok := status["streams"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected status shape: %v", status)
	}
	if _, ok := streams["users"]; !ok {
		t.Errorf("expected users stream in status: %v", streams)
	}
}
