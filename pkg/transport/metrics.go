package transport

import (
	"context"
	"time"

	"github.com/rhuss/keyspace/pkg/observability"
	"github.com/rhuss/keyspace/pkg/protocol"
)

// Metrics returns middleware that records command counts and latency.
func Metrics() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, s *Session, req *protocol.Request) *protocol.Response {
			start := time.Now()
			resp := next.Handle(ctx, s, req)
			command := req.Op.String()
			observability.CommandsTotal.WithLabelValues(command, resp.Status.String()).Inc()
			observability.CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
			return resp
		})
	}
}
