package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server wraps an http.Server around the gateway and manages its lifecycle
// including graceful shutdown.
type Server struct {
	httpServer *http.Server
	gateway    *Gateway
	timeout    time.Duration
	logger     *slog.Logger
}

// NewServer creates a server for g listening on g's configured address.
func NewServer(g *Gateway) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              g.config.Addr,
			Handler:           g.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		gateway: g,
		timeout: g.config.ShutdownTimeout,
		logger:  g.logger,
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled. It then gracefully shuts down, waiting for in-flight requests
// to complete within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP gateway starting", slog.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("HTTP gateway shutdown requested")
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Info("shutting down HTTP gateway", slog.Duration("timeout", s.timeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("shutdown error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("HTTP gateway stopped")
	return nil
}

// Shutdown gracefully shuts down the server with the given context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
