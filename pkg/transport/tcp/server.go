// Package tcp serves the keyspace wire protocol over TCP, one goroutine per
// connection.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rhuss/keyspace/pkg/debug"
	"github.com/rhuss/keyspace/pkg/observability"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/transport"
)

// ServerConfig holds configuration for the TCP server.
type ServerConfig struct {
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		IdleTimeout:     5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithIdleTimeout closes connections that send nothing for d. Zero disables
// the timeout.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.IdleTimeout = d }
}

// WithShutdownTimeout sets how long shutdown waits for connections to drain.
func WithShutdownTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.config.ShutdownTimeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithMiddleware replaces the default middleware chain.
func WithMiddleware(mw ...transport.Middleware) ServerOption {
	return func(s *Server) { s.middleware = mw }
}

// Server accepts protocol connections and runs each through the dispatcher.
type Server struct {
	config     ServerConfig
	dispatcher *transport.Dispatcher
	middleware []transport.Middleware
	handler    transport.Handler
	sessions   *transport.SessionRegistry
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewServer creates a TCP server for d. Default middleware (recovery,
// request ID, logging, metrics) is applied unless WithMiddleware is given.
func NewServer(d *transport.Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		config:     DefaultServerConfig(),
		dispatcher: d,
		sessions:   transport.NewSessionRegistry(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.middleware == nil {
		s.middleware = transport.DefaultMiddleware(s.logger)
	}
	s.handler = transport.Chain(s.middleware...)(d)
	return s
}

// Serve accepts connections on ln until ctx is cancelled or ln fails. The
// caller owns listening, so it can learn the bound address first.
// On return the listener is closed and every session has been cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("protocol server starting", slog.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var serveErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = err
			}
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
	_ = ln.Close()

	if err := s.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down protocol server",
		slog.Int("sessions", s.sessions.Len()),
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)
	s.sessions.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("protocol server stopped")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Error("protocol server shutdown timed out")
		return context.DeadlineExceeded
	}
}

func (s *Server) serveConn(parent context.Context, conn net.Conn) {
	sess := s.dispatcher.NewSession(conn.RemoteAddr().String())
	logger := s.logger.With(slog.String("session_id", sess.ID()))

	ctx, cancel := context.WithCancel(parent)
	s.sessions.Register(sess.ID(), cancel)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	observability.SessionsActive.Inc()
	logger.Debug("session opened", slog.String("remote_addr", sess.RemoteAddr()))

	defer func() {
		stop()
		cancel()
		_ = conn.Close()
		s.sessions.Remove(sess.ID())
		s.dispatcher.Release(sess)
		observability.SessionsActive.Dec()
		logger.Debug("session closed")
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		if s.config.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		req, err := protocol.ReadRequest(r)
		if err != nil {
			s.readFailed(ctx, logger, w, err)
			return
		}

		debug.Trace(debug.Protocol, "request",
			"session_id", sess.ID(),
			"op", req.Op.String(),
			"args", len(req.Args),
		)
		resp := s.handler.Handle(ctx, sess, req)
		if err := protocol.WriteResponse(w, resp); err != nil {
			logger.Error("encoding response", slog.String("error", err.Error()))
			return
		}
		if err := w.Flush(); err != nil {
			logger.Debug("writing response", slog.String("error", err.Error()))
			return
		}
	}
}

// readFailed reports a read error. Malformed frames get a final BadRequest
// response since the stream position is lost.
func (s *Server) readFailed(ctx context.Context, logger *slog.Logger, w *bufio.Writer, err error) {
	switch {
	case errors.Is(err, io.EOF), ctx.Err() != nil, errors.Is(err, net.ErrClosed):
		return
	case errors.Is(err, protocol.ErrBadMagic),
		errors.Is(err, protocol.ErrFrameTooLarge),
		errors.Is(err, protocol.ErrMalformedFrame):
		logger.Warn("malformed frame", slog.String("error", err.Error()))
		if werr := protocol.WriteResponse(w, protocol.Fail(protocol.StatusBadRequest, "%v", err)); werr == nil {
			_ = w.Flush()
		}
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			logger.Debug("idle timeout")
			return
		}
		logger.Debug("reading request", slog.String("error", err.Error()))
	}
}
