// Package server exposes the easel HTTP surface: the WebSocket endpoint that
// feeds the session orchestrator, plus health, stats and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"pkt.systems/pslog"

	"github.com/dyluth/easel/internal/loggingutil"
	"github.com/dyluth/easel/internal/metrics"
	"github.com/dyluth/easel/internal/registry"
	"github.com/dyluth/easel/internal/session"
	"github.com/dyluth/easel/internal/transport"
	"github.com/dyluth/easel/pkg/board"
)

// DefaultShutdownTimeout bounds the graceful shutdown sequence.
const DefaultShutdownTimeout = 10 * time.Second

// Config wires a Server.
type Config struct {
	Addr            string
	Sessions        *session.Handler
	Upgrader        *transport.Upgrader
	Registry        *registry.Registry
	Store           board.Store
	Metrics         *metrics.Metrics
	Logger          pslog.Logger
	ShutdownTimeout time.Duration
}

// Server is the easel HTTP server.
type Server struct {
	cfg    Config
	logger pslog.Logger
	http   *http.Server

	sessCtx        context.Context
	cancelSessions context.CancelFunc

	// mu orders sessions.Add against the closing flag so no Add runs
	// concurrently with shutdown's Wait.
	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New builds a Server. Nothing listens until Serve or ListenAndServe.
func New(cfg Config) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{
		cfg:    cfg,
		logger: loggingutil.WithSubsystem(cfg.Logger, "server"),
	}
	s.sessCtx, s.cancelSessions = context.WithCancel(context.Background())
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.Methods(http.MethodGet).Path("/ws").HandlerFunc(s.serveWS)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthCheckHandler)
	r.Methods(http.MethodGet).Path("/stats").HandlerFunc(s.statsHandler)
	if s.cfg.Metrics != nil {
		r.Methods(http.MethodGet).Path("/metrics").Handler(s.cfg.Metrics.Handler())
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"duration", m.Duration)
	})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()
	conn, err := s.cfg.Upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("server.upgrade.error", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.cfg.Sessions.Serve(s.sessCtx, conn)
}

// track registers a session unless shutdown has begun.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

func (s *Server) beginClosing() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Registry.Stats()); err != nil {
		s.logger.Warn("server.stats.error", "error", err)
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. Shutdown stops
// accepting, ends every session (saving boards they leave empty) and then
// saves any board still resident.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("server.listening", "addr", ln.Addr().String())
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.beginClosing()
		s.cancelSessions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	return s.shutdown()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("server.shutdown")
	s.beginClosing()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("server.shutdown.http_error", "error", err)
	}

	// Hijacked WebSocket connections are not tracked by http.Server.
	s.cancelSessions()
	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("server.shutdown.sessions_timeout")
	}

	if err := s.cfg.Registry.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush boards on shutdown: %w", err)
	}
	return nil
}
