package observability

// Server endpoints, enabled with the metrics_addr config option:
//
//	GET /metrics — Prometheus-compatible metrics (text/plain)
//	GET /health  — Liveness probe (always 200 when server is up)
//	GET /status  — JSON run status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics holds run counters exposed via /metrics.
type Metrics struct {
	RecordsIn      atomic.Int64
	RecordsFlushed atomic.Int64
	BatchesFlushed atomic.Int64
	BytesFlushed   atomic.Int64
	StatesIn       atomic.Int64
	StartedAt      time.Time
}

// NewMetrics creates the run's metrics set.
func NewMetrics() *Metrics {
	return &Metrics{StartedAt: time.Now()}
}

// StatusFn is a callback supplying per-stream status for /status.
type StatusFn func() map[string]any

// Server is the HTTP server for observability endpoints.
type Server struct {
	addr     string
	metrics  *Metrics
	statusFn StatusFn
	server   *http.Server
	logger   *Logger
}

// NewServer creates an observability HTTP server over the given
// metrics.
func NewServer(addr string, metrics *Metrics, logger *Logger) *Server {
	return &Server{addr: addr, metrics: metrics, logger: logger}
}

// SetStatusFn sets the callback merged into the /status payload.
func (s *Server) SetStatusFn(fn StatusFn) {
	s.statusFn = fn
}

// Start starts the HTTP server in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("observability server: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// ═══════════════════════════════════════════
// /metrics — Prometheus text format
// ═══════════════════════════════════════════

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.metrics
	uptime := time.Since(m.StartedAt).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	fmt.Fprintf(w, "# HELP target_gcs_records_in_total Total records consumed from input.\n")
	fmt.Fprintf(w, "# TYPE target_gcs_records_in_total counter\n")
	fmt.Fprintf(w, "target_gcs_records_in_total %d\n", m.RecordsIn.Load())

	fmt.Fprintf(w, "# HELP target_gcs_records_flushed_total Total records durably written to storage.\n")
	fmt.Fprintf(w, "# TYPE target_gcs_records_flushed_total counter\n")
	fmt.Fprintf(w, "target_gcs_records_flushed_total %d\n", m.RecordsFlushed.Load())

	fmt.Fprintf(w, "# HELP target_gcs_batches_flushed_total Total batch objects created.\n")
	fmt.Fprintf(w, "# TYPE target_gcs_batches_flushed_total counter\n")
	fmt.Fprintf(w, "target_gcs_batches_flushed_total %d\n", m.BatchesFlushed.Load())

	fmt.Fprintf(w, "# HELP target_gcs_bytes_flushed_total Total bytes uploaded to storage.\n")
	fmt.Fprintf(w, "# TYPE target_gcs_bytes_flushed_total counter\n")
	fmt.Fprintf(w, "target_gcs_bytes_flushed_total %d\n", m.BytesFlushed.Load())

	fmt.Fprintf(w, "# HELP target_gcs_states_in_total Total STATE messages observed.\n")
	fmt.Fprintf(w, "# TYPE target_gcs_states_in_total counter\n")
	fmt.Fprintf(w, "target_gcs_states_in_total %d\n", m.StatesIn.Load())

	fmt.Fprintf(w, "# HELP target_gcs_uptime_seconds Run uptime in seconds.\n")
	fmt.Fprintf(w, "# TYPE target_gcs_uptime_seconds gauge\n")
	fmt.Fprintf(w, "target_gcs_uptime_seconds %.1f\n", uptime)
}

// ═══════════════════════════════════════════
// /health — Liveness probe
// ═══════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": time.Since(s.metrics.StartedAt).String(),
	})
}

// ═══════════════════════════════════════════
// /status — Run status JSON
// ═══════════════════════════════════════════

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	m := s.metrics
	status := map[string]any{
		"uptime": time.Since(m.StartedAt).String(),
		"metrics": map[string]any{
			"records_in":      m.RecordsIn.Load(),
			"records_flushed": m.RecordsFlushed.Load(),
			"batches_flushed": m.BatchesFlushed.Load(),
			"bytes_flushed":   m.BytesFlushed.Load(),
			"states_in":       m.StatesIn.Load(),
		},
	}

	if s.statusFn != nil {
		for k, v := range s.statusFn() {
			status[k] = v
		}
	}

	json.NewEncoder(w).Encode(status)
}
