// Package http serves the synchronizer's health checks and read API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/chainguard/internal/ports/inbound"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080")
	Addr string

	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server exposes the health checks and, when a Handler is given, the read API.
//
// Endpoints:
//   - /health/ready  - 200 once the first snapshot has been published
//   - /health/live   - 200 while refreshes keep succeeding
//   - /health        - combined status for monitoring
//
// All health endpoints report 503 once shuttingDown is set, so a replacement instance
// takes traffic before this one stops.
type Server struct {
	server       *http.Server
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewServer creates the server. api may be nil.
func NewServer(config ServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool, api *Handler) *Server {
	defaults := ServerConfigDefaults()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = &atomic.Bool{}
	}

	s := &Server{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "http-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", s.handleReady)
	mux.HandleFunc("GET /health/live", s.handleLive)
	mux.HandleFunc("GET /health", s.handleHealth)
	if api != nil {
		api.RegisterRoutes(mux)
	}

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the server's routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens in the background. Listen errors are returned; serve errors
// after that are logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("starting http server", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(w, s.logger, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsReady() {
		respondJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		respondJSON(w, s.logger, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(w, s.logger, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if s.checker.IsHealthy() {
		respondJSON(w, s.logger, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		respondJSON(w, s.logger, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		respondJSON(w, s.logger, http.StatusServiceUnavailable, map[string]any{
			"status":       "shutting_down",
			"ready":        false,
			"healthy":      false,
			"shuttingDown": true,
		})
		return
	}

	ready := s.checker.IsReady()
	healthy := s.checker.IsHealthy()
	status := "ok"
	statusCode := http.StatusOK
	if !ready || !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	respondJSON(w, s.logger, statusCode, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": false,
	})
}

func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}
