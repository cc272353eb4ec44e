package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/rhuss/keyspace/pkg/protocol"
)

// Logging returns middleware that emits one structured log entry per
// command. Successful commands log at debug level, server and extension
// failures at error level and client errors at info level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
			start := time.Now()
			resp := next.Handle(ctx, s, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(ctx)),
				slog.String("session_id", s.ID()),
				slog.String("command", req.Op.String()),
				slog.String("namespace", s.Namespace()),
				slog.String("status", resp.Status.String()),
				slog.Duration("duration", time.Since(start)),
			}

			switch resp.Status {
			case protocol.StatusOK, protocol.StatusNil:
				logger.LogAttrs(ctx, slog.LevelDebug, "command completed", attrs...)
			case protocol.StatusServerError, protocol.StatusExtensionError:
				attrs = append(attrs, slog.String("error", string(resp.Payload)))
				logger.LogAttrs(ctx, slog.LevelError, "command failed", attrs...)
			default:
				attrs = append(attrs, slog.String("error", string(resp.Payload)))
				logger.LogAttrs(ctx, slog.LevelInfo, "command rejected", attrs...)
			}
			return resp
		})
	}
}
