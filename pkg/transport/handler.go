package transport

import (
	"context"

	"github.com/rhuss/keyspace/pkg/protocol"
)

// Handler executes one decoded request for a session and returns the
// response to send. Handlers never return nil.
type Handler interface {
	Handle(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response
}

// HandlerFunc is an adapter that allows using an ordinary function as a
// Handler.
type HandlerFunc func(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response

// Handle calls f(ctx, s, req).
func (f HandlerFunc) Handle(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
	return f(ctx, s, req)
}

// Commander runs custom commands sent with CALL. The extension sandbox
// implements it.
type Commander interface {
	CallCommand(ctx context.Context, name string, args []string) (string, error)
}
