package transport

import (
	"context"

	"github.com/google/uuid"

	"github.com/rhuss/keyspace/pkg/protocol"
)

// RequestID returns middleware that assigns a unique request ID to each
// command. If the context already carries a request ID (set by the HTTP
// gateway from the X-Request-ID header), that value is used.
//
// The request ID is stored in the context and can be retrieved with
// RequestIDFromContext.
func RequestID() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
			if RequestIDFromContext(ctx) == "" {
				ctx = ContextWithRequestID(ctx, NewRequestID())
			}
			return next.Handle(ctx, s, req)
		})
	}
}

// NewRequestID returns a time-ordered unique identifier.
func NewRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}
