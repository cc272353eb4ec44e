package transport

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/rhuss/keyspace/pkg/auth"
	"github.com/rhuss/keyspace/pkg/gateway"
	"github.com/rhuss/keyspace/pkg/observability"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/value"
)

var pong = []byte("PONG")

// Dispatcher executes protocol requests against the access gateway.
type Dispatcher struct {
	access    *gateway.Access
	password  auth.Password
	limiter   *auth.AttemptLimiter
	commander Commander
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPassword requires AUTH with password before any other command.
func WithPassword(p auth.Password) DispatcherOption {
	return func(d *Dispatcher) { d.password = p }
}

// WithAttemptLimiter throttles failed AUTH attempts per remote host.
func WithAttemptLimiter(l *auth.AttemptLimiter) DispatcherOption {
	return func(d *Dispatcher) { d.limiter = l }
}

// WithCommander routes CALL to c.
func WithCommander(c Commander) DispatcherOption {
	return func(d *Dispatcher) { d.commander = c }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a dispatcher over access.
func NewDispatcher(access *gateway.Access, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{access: access, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewSession opens a session for a connection from remoteAddr.
func (d *Dispatcher) NewSession(remoteAddr string) *Session {
	return NewSession(remoteAddr, !d.password.Required())
}

// Release frees per-session resources once the connection is gone. Failed
// AUTH attempts stay charged to the remote host.
func (d *Dispatcher) Release(s *Session) {
	s.namespace = nil
}

// Handle executes req for s.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	if req.Op == protocol.OpAuth {
		return d.auth(s, req)
	}
	if !s.authenticated {
		return protocol.Fail(protocol.StatusAuthRequired, "authenticate first")
	}

	switch req.Op {
	case protocol.OpSelect:
		return d.selectNamespace(ctx, s, req)
	case protocol.OpSetEx:
		return d.setex(ctx, s, req)
	case protocol.OpGet:
		return d.get(ctx, s, req)
	case protocol.OpDel:
		return d.del(ctx, s, req)
	case protocol.OpExists:
		return d.exists(ctx, s, req)
	case protocol.OpPing:
		if len(req.Args) != 0 {
			return wrongArgs(req, 0)
		}
		return protocol.OK(pong)
	case protocol.OpCall:
		return d.call(ctx, req)
	default:
		return protocol.Fail(protocol.StatusBadRequest, "unknown command %d", uint8(req.Op))
	}
}

func (d *Dispatcher) auth(s *Session, req *protocol.Request) *protocol.Response {
	if len(req.Args) != 1 {
		return wrongArgs(req, 1)
	}
	host := s.RemoteHost()
	if d.limiter.Blocked(host) {
		observability.AuthRejectedTotal.WithLabelValues("tcp", "rate_limited").Inc()
		return protocol.Fail(protocol.StatusRateLimited, "%v", auth.ErrTooManyRequests)
	}
	if !d.password.Check(req.Arg(0)) {
		d.limiter.Fail(host)
		observability.AuthRejectedTotal.WithLabelValues("tcp", "password").Inc()
		d.logger.Warn("authentication failed",
			"session_id", s.ID(),
			"remote_addr", s.RemoteAddr(),
		)
		return protocol.Fail(protocol.StatusAuthFailed, "invalid password")
	}
	s.authenticated = true
	return protocol.OK(nil)
}

func (d *Dispatcher) selectNamespace(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	if len(req.Args) != 1 {
		return wrongArgs(req, 1)
	}
	name := req.Arg(0)
	if name == "" {
		return protocol.Fail(protocol.StatusBadRequest, "empty namespace name")
	}
	if s.namespace != nil && s.namespace.Name() == name {
		return protocol.OK(nil)
	}
	ns, err := d.access.Open(ctx, name)
	if err != nil {
		return errorResponse(err)
	}
	s.namespace = ns
	return protocol.OK(nil)
}

func (d *Dispatcher) setex(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	if len(req.Args) != 3 {
		return wrongArgs(req, 3)
	}
	ns, err := s.selected()
	if err != nil {
		return errorResponse(err)
	}
	key, resp := keyArg(req)
	if resp != nil {
		return resp
	}
	v, err := value.Decode(req.Args[1])
	if err != nil {
		return protocol.Fail(protocol.StatusBadRequest, "invalid value: %v", err)
	}
	ttl, err := strconv.ParseUint(req.Arg(2), 10, 64)
	if err != nil {
		return protocol.Fail(protocol.StatusBadRequest, "invalid ttl %q", req.Arg(2))
	}
	if err := ns.Set(ctx, key, v, ttl); err != nil {
		return errorResponse(err)
	}
	return protocol.OK(nil)
}

func (d *Dispatcher) get(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	if len(req.Args) != 1 {
		return wrongArgs(req, 1)
	}
	ns, err := s.selected()
	if err != nil {
		return errorResponse(err)
	}
	key, resp := keyArg(req)
	if resp != nil {
		return resp
	}
	v, ok, err := ns.Get(ctx, key)
	if err != nil {
		return errorResponse(err)
	}
	if !ok {
		return &protocol.Response{Status: protocol.StatusNil}
	}
	data, err := value.Encode(v)
	if err != nil {
		return errorResponse(err)
	}
	return protocol.OK(data)
}

func (d *Dispatcher) del(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	if len(req.Args) != 1 {
		return wrongArgs(req, 1)
	}
	ns, err := s.selected()
	if err != nil {
		return errorResponse(err)
	}
	key, resp := keyArg(req)
	if resp != nil {
		return resp
	}
	removed, err := ns.Delete(ctx, key)
	if err != nil {
		return errorResponse(err)
	}
	return protocol.OK(boolPayload(removed))
}

func (d *Dispatcher) exists(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	if len(req.Args) != 1 {
		return wrongArgs(req, 1)
	}
	ns, err := s.selected()
	if err != nil {
		return errorResponse(err)
	}
	key, resp := keyArg(req)
	if resp != nil {
		return resp
	}
	found, err := ns.Exists(ctx, key)
	if err != nil {
		return errorResponse(err)
	}
	return protocol.OK(boolPayload(found))
}

func (d *Dispatcher) call(ctx context.Context, req *protocol.Request) *protocol.Response {
	if len(req.Args) < 1 || req.Arg(0) == "" {
		return protocol.Fail(protocol.StatusBadRequest, "CALL needs a command name")
	}
	if d.commander == nil {
		return protocol.OK(nil)
	}
	args := make([]string, len(req.Args)-1)
	for i := range args {
		args[i] = req.Arg(i + 1)
	}
	out, err := d.commander.CallCommand(ctx, req.Arg(0), args)
	if err != nil {
		return protocol.Fail(protocol.StatusExtensionError, "%v", err)
	}
	return protocol.OK([]byte(out))
}

func keyArg(req *protocol.Request) (string, *protocol.Response) {
	key := req.Arg(0)
	if key == "" {
		return "", protocol.Fail(protocol.StatusBadRequest, "empty key")
	}
	return key, nil
}

func wrongArgs(req *protocol.Request, want int) *protocol.Response {
	return protocol.Fail(protocol.StatusBadRequest, "%s takes %s, got %d",
		req.Op, plural(want, "argument"), len(req.Args))
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}

func boolPayload(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}
