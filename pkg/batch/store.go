// Package batch owns the per-stream spool files and the flush-trigger
// decision used by the target's persist loop.
//
// Each stream gets one growing buffer (a temp file of JSON lines), a
// batch sequence number starting at 1, and a count of records appended
// since the last flush. Buffers live in a run-scoped directory that
// Close removes on every exit path.
package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Store owns one spooled buffer and counter pair per stream. The
// mutex covers the streams map and its counters: the persist loop
// writes while the /status handler reads from another goroutine.
type Store struct {
	mu      sync.RWMutex
	dir     string
	streams map[string]*stream
}

type stream struct {
	file  *os.File
	seq   int
	count int
}

// NewStore creates the run's spool directory.
func NewStore() (*Store, error) {
	dir, err := os.MkdirTemp("", "target-gcs-")
	if err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	return &Store{dir: dir, streams: make(map[string]*stream)}, nil
}

// Append serializes one flat record as a JSON line onto the stream's
// buffer, creating the buffer on first use (sequence 1, count 0), and
// increments the stream's record count.
func (s *Store) Append(name string, record map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stream(name)
	if err != nil {
		return err
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record for stream %s: %w", name, err)
	}
	if _, err := st.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to stream %s buffer: %w", name, err)
	}
	st.count++
	return nil
}

// stream returns the named buffer, creating it on first use. Callers
// hold the write lock.
func (s *Store) stream(name string) (*stream, error) {
	if st, ok := s.streams[name]; ok {
		return st, nil
	}
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("create buffer for stream %s: %w", name, err)
	}
	st := &stream{file: f, seq: 1}
	s.streams[name] = st
	return st, nil
}

// Sequence returns the stream's current batch sequence number.
// Unseen streams report 1, the sequence their first batch would carry.
func (s *Store) Sequence(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.streams[name]; ok {
		return st.seq
	}
	return 1
}

// Count returns the number of records appended since the last flush.
func (s *Store) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.streams[name]; ok {
		return st.count
	}
	return 0
}

// Advance increments the stream's batch sequence and resets its record
// count. Called only after a successful flush.
func (s *Store) Advance(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.streams[name]; ok {
		st.seq++
		st.count = 0
	}
}

// Truncate empties a stream's buffer in place so accumulation continues
// under the same handle.
func (s *Store) Truncate(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		return nil
	}
	if err := st.file.Truncate(0); err != nil {
		return fmt.Errorf("truncate stream %s buffer: %w", name, err)
	}
	if _, err := st.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind stream %s buffer: %w", name, err)
	}
	return nil
}

// Sync flushes a stream's buffer to disk so an upload sees its full
// contents.
func (s *Store) Sync(name string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[name]
	if !ok {
		return nil
	}
	if err := st.file.Sync(); err != nil {
		return fmt.Errorf("sync stream %s buffer: %w", name, err)
	}
	return nil
}

// Size returns the stream's current buffer size in bytes.
func (s *Store) Size(name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[name]
	if !ok {
		return 0, nil
	}
	info, err := st.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat stream %s buffer: %w", name, err)
	}
	return info.Size(), nil
}

// Path returns the buffer's file path for upload, or "" for an unseen
// stream.
func (s *Store) Path(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.streams[name]; !ok {
		return ""
	}
	return filepath.Join(s.dir, name)
}

// Streams returns all stream names with a buffer, in sorted order.
func (s *Store) Streams() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every buffer and removes the spool directory. Callers
// defer it so buffers are released on both normal and error exits.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, st := range s.streams {
		if err := st.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close stream %s buffer: %w", name, err)
		}
	}
	if err := os.RemoveAll(s.dir); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("remove spool dir: %w", err)
	}
	return firstErr
}
