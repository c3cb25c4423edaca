package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/debateflow/config"
)

// Server hosts the debate's HTTP surface: /ws for the live event stream,
// /metrics for Prometheus, /healthz for liveness.
type Server struct {
	server   *http.Server
	listener net.Listener
	hub      *Broadcaster
	cfg      config.ServerConfig
	errCh    chan error
	logger   *zap.Logger
	mu       sync.Mutex
	closed   bool
}

// New builds the server around an event broadcaster and a metrics
// registry (nil falls back to the default registerer's gatherer).
func New(cfg config.ServerConfig, hub *Broadcaster, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	logger = logger.With(zap.String("component", "http_server"))

	s := &Server{
		hub:    hub,
		cfg:    cfg,
		errCh:  make(chan error, 1),
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", s.handleWS)

	s.server = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Handler exposes the mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving without blocking.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("server is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener
	s.logger.Info("starting HTTP server", zap.String("addr", s.cfg.Addr))

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("shutting down HTTP server")

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	s.listener = nil
	s.logger.Info("HTTP server stopped")
	return nil
}

// WaitForShutdown blocks until a termination signal or a server error,
// then shuts down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		if err != nil {
			s.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS streams the run's events to one client as JSON text frames.
// The connection closes when the run's stream ends or the client leaves.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	events, cancel := s.hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "run finished")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("event marshal failed", zap.Error(err))
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				s.logger.Debug("websocket write failed, dropping client", zap.Error(err))
				return
			}
		}
	}
}
