package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"git.home.luguber.info/inful/promoter/internal/metrics"
)

// HTTPServer exposes the daemon's operational endpoints: liveness, a status
// snapshot and Prometheus metrics. One listener serves all three.
type HTTPServer struct {
	addr     string
	daemon   *Daemon
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer creates an HTTP server bound to the daemon's configured address.
func NewHTTPServer(addr string, daemon *Daemon) *HTTPServer {
	return &HTTPServer{addr: addr, daemon: daemon}
}

// Start binds the listener and begins serving. Binding happens up front so a
// port conflict fails startup instead of surfacing as a background log line.
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http startup failed on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", metrics.HTTPHandler(s.daemon.promRegistry))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", slog.String("addr", s.addr))
	return nil
}

// Addr returns the bound listen address, useful when the configured address
// uses port 0.
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("HTTP server stopped")
	return nil
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.GetStatus()
	if status != StatusRunning && status != StatusStarting {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": string(status)})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.daemon.StatusSnapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snapshot); err != nil {
		slog.Error("Failed to encode status response", "error", err)
	}
}
