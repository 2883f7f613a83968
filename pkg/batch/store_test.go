package batch

import (
	"os"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendCreatesStreamLazily(t *testing.T) {
	s := newTestStore(t)

	if got := s.Sequence("users"); got != 1 {
		t.Errorf("unseen stream sequence: expected 1, got %d", got)
	}
	if got := s.Count("users"); got != 0 {
		t.Errorf("unseen stream count: expected 0, got %d", got)
	}

	if err := s.Append("users", map[string]any{"id": float64(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	if got := s.Sequence("users"); got != 1 {
		t.Errorf("expected sequence 1 after first append, got %d", got)
	}
	if got := s.Count("users"); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
	if s.Path("users") == "" {
		t.Error("expected buffer path after first append")
	}
}

func TestAppendWritesJSONLines(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("users", map[string]any{"id": float64(1), "name": "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append("users", map[string]any{"id": float64(2), "name": "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Sync("users"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	data, err := os.ReadFile(s.Path("users"))
	if err != nil {
		t.Fatalf("read buffer: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	if lines[0] != `{"id":1,"name":"a"}` {
		t.Errorf("unexpected first line: %s", lines[0])
	}
	if lines[1] != `{"id":2,"name":"b"}` {
		t.Errorf("unexpected second line: %s", lines[1])
	}
}

func TestCountersAreIndependentPerStream(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Append("a", map[string]any{"i": float64(i)}); err != nil {
			t.Fatalf("append a: %v", err)
		}
	}
	if err := s.Append("b", map[string]any{"i": float64(0)}); err != nil {
		t.Fatalf("append b: %v", err)
	}

	if s.Count("a") != 3 || s.Count("b") != 1 {
		t.Errorf("expected counts a=3 b=1, got a=%d b=%d", s.Count("a"), s.Count("b"))
	}

	s.Advance("a")
	if s.Sequence("a") != 2 || s.Count("a") != 0 {
		t.Errorf("advance a: expected seq=2 count=0, got seq=%d count=%d", s.Sequence("a"), s.Count("a"))
	}
	if s.Sequence("b") != 1 || s.Count("b") != 1 {
		t.Errorf("advance a must not touch b: seq=%d count=%d", s.Sequence("b"), s.Count("b"))
	}
}

func TestTruncateEmptiesBufferInPlace(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("users", map[string]any{"id": float64(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Truncate("users"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	size, err := s.Size("users")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 0 {
		t.Errorf("expected empty buffer, got %d bytes", size)
	}

	// Accumulation continues under the same handle.
	if err := s.Append("users", map[string]any{"id": float64(2)}); err != nil {
		t.Fatalf("append after truncate: %v", err)
	}
	if err := s.Sync("users"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	data, err := os.ReadFile(s.Path("users"))
	if err != nil {
		t.Fatalf("read buffer: %v", err)
	}
	if string(data) != `{"id":2}`+"\n" {
		t.Errorf("unexpected buffer after truncate: %q", data)
	}
}

func TestStreamsSorted(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"c", "a", "b"} {
		if err := s.Append(name, map[string]any{"x": float64(1)}); err != nil {
			t.Fatalf("append %s: %v", name, err)
		}
	}

	got := s.Streams()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("expected sorted [a b c], got %v", got)
	}
}

// Appends race status reads when the metrics server polls mid-run;
// run with -race.
func TestConcurrentStatusReads(t *testing.T) {
	s := newTestStore(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			name := "users"
			if i%2 == 1 {
				name = "orders"
			}
			if err := s.Append(name, map[string]any{"i": float64(i)}); err != nil {
				t.Errorf("append: %v", err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			if got := s.Count("users") + s.Count("orders"); got != 200 {
				t.Errorf("expected 200 records total, got %d", got)
			}
			return
		default:
			for _, name := range s.Streams() {
				s.Sequence(name)
				s.Count(name)
			}
		}
	}
}

func TestCloseRemovesSpoolDir(t *testing.T) {
	s, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Append("users", map[string]any{"id": float64(1)}); err != nil {
		t.Fatalf("append: %v", err)
	}
	dir := s.dir

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected spool dir removed, stat err: %v", err)
	}
}
