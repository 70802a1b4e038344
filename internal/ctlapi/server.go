package ctlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
)

// Server serves the control API over a Unix socket.
type Server struct {
	cfg     Config
	handler *Handler
	logger  *slog.Logger
}

// NewServer creates a new Server. Config defaults are applied automatically.
func NewServer(cfg Config, bonding Bonding, counters CounterSource, history MetricsSource, logger *slog.Logger) *Server {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		handler: NewHandler(bonding, counters, history, cfg.RequestTimeout, logger),
		logger:  logger.With("component", "ctlapi"),
	}
}

// Start listens on the configured socket and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	// Remove stale socket.
	os.Remove(s.cfg.SocketPath)

	if dir := filepath.Dir(s.cfg.SocketPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ctlapi: create socket dir: %w", err)
		}
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("ctlapi: listen unix %s: %w", s.cfg.SocketPath, err)
	}
	applySocketPermissions(s.cfg.SocketPath, s.cfg.AdminGroup, s.logger)

	srv := &http.Server{
		Handler:     wrapAdminAuth(s.handler.Mux(), s.cfg.AdminGroup, s.logger),
		ConnContext: connContextWithPeerCred(s.logger),
	}

	s.logger.Info("server started", "socket", s.cfg.SocketPath)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("unix server error", "error", err)
		}
	}()

	<-ctx.Done()
	s.logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", "error", err)
		srv.Close()
	}
	<-done
	os.Remove(s.cfg.SocketPath)

	s.logger.Info("server stopped")
	return ctx.Err()
}
