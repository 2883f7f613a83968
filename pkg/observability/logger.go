// Package observability provides the run-scoped logger and the HTTP
// endpoints for metrics, health checks, and run status during a
// target-gcs run.
package observability

import (
	"io"
	"log"
)

// Logger is the run-scoped diagnostic logger. Stdout is reserved for
// the final state line, so everything here goes to the writer the
// caller supplies (stderr in production).
type Logger struct {
	out   *log.Logger
	debug bool
}

// NewLogger creates a logger writing to w. Debug lines are dropped
// unless debug is set.
func NewLogger(w io.Writer, debug bool) *Logger {
	return &Logger{
		out:   log.New(w, "target-gcs ", log.LstdFlags|log.LUTC),
		debug: debug,
	}
}

// Debugf logs a debug-level line when debug logging is enabled.
func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.out.Printf("DEBUG "+format, args...)
}

// Infof logs an info-level line.
func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.out.Printf("INFO "+format, args...)
}

// Warnf logs a warning-level line.
func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.out.Printf("WARN "+format, args...)
}

// Errorf logs an error-level line.
func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.out.Printf("ERROR "+format, args...)
}
