// Package status serves a small local HTTP surface for inspecting the
// running agent: health, a world snapshot, and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"vigil/internal/metrics"
	"vigil/internal/state"
)

// Server exposes /healthz, /snapshot, and /metrics on a local listener.
type Server struct {
	world          *state.World
	collector      *metrics.MetricsCollector
	logger         *slog.Logger
	activityWindow time.Duration
	srv            *http.Server
}

type Config struct {
	Host           string
	Port           int
	ActivityWindow time.Duration
	Logger         *slog.Logger
}

func NewServer(world *state.World, collector *metrics.MetricsCollector, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = 10 * time.Minute
	}
	s := &Server{
		world:          world,
		collector:      collector,
		logger:         cfg.Logger,
		activityWindow: cfg.ActivityWindow,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/metrics", s.collector.Handler())

	s.srv = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background. Errors other than a clean close
// are logged, not returned.
func (s *Server) Start() {
	go func() {
		s.logger.Info("status server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", "err", err)
		}
	}()
}

// Shutdown stops the listener, waiting up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"uptime": s.collector.Uptime().String(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.world.Snapshot(s.activityWindow)
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		s.logger.Error("snapshot encode failed", "err", err)
	}
}
