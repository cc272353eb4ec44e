package transport

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/rhuss/keyspace/pkg/protocol"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to server error responses. The connection stays usable
// after a panic is recovered.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, s *Session, req *protocol.Request) (resp *protocol.Response) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "panic in command handler",
						"session_id", s.ID(),
						"command", req.Op.String(),
						"panic", r,
						"stack", string(debug.Stack()),
					)
					resp = protocol.Fail(protocol.StatusServerError, "internal server error: %v", r)
				}
			}()
			return next.Handle(ctx, s, req)
		})
	}
}
