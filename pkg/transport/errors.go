package transport

import (
	"context"
	"errors"

	"github.com/rhuss/keyspace/pkg/gateway"
	"github.com/rhuss/keyspace/pkg/protocol"
	"github.com/rhuss/keyspace/pkg/value"
)

// ErrNamespaceRequired is returned for key commands issued before SELECT.
var ErrNamespaceRequired = errors.New("no namespace selected")

// StatusFromError maps a command failure to the wire status reported to the
// client.
func StatusFromError(err error) protocol.Status {
	switch {
	case errors.Is(err, ErrNamespaceRequired):
		return protocol.StatusNamespaceRequired
	case errors.Is(err, value.ErrConversion):
		return protocol.StatusBadRequest
	case errors.Is(err, gateway.ErrAccess),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return protocol.StatusServerError
	default:
		return protocol.StatusServerError
	}
}

// errorResponse builds the response for a failed command.
func errorResponse(err error) *protocol.Response {
	return protocol.Fail(StatusFromError(err), "%v", err)
}
