package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol failures. Client methods wrap the server's
// message with the sentinel matching the response status.
var (
	// ErrAuthenticationFailed is returned when AUTH is rejected.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAuthRequired is returned for commands sent before AUTH.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNamespaceRequired is returned for key commands sent before SELECT.
	ErrNamespaceRequired = errors.New("namespace required")

	// ErrBadRequest is returned for malformed commands.
	ErrBadRequest = errors.New("bad request")

	// ErrRateLimited is returned when too many AUTH attempts failed.
	ErrRateLimited = errors.New("rate limited")

	// ErrServer is returned when the server failed to execute a command.
	ErrServer = errors.New("server error")

	// ErrExtension is returned when an extension command failed.
	ErrExtension = errors.New("extension error")

	// ErrBadMagic is returned when a frame does not start with Magic.
	ErrBadMagic = errors.New("invalid magic byte")

	// ErrFrameTooLarge is returned when a frame body exceeds MaxBodySize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMalformedFrame is returned when argument lengths do not add up.
	ErrMalformedFrame = errors.New("malformed frame")
)

// statusError converts a non-success response into an error.
func statusError(resp *Response) error {
	var sentinel error
	switch resp.Status {
	case StatusAuthFailed:
		sentinel = ErrAuthenticationFailed
	case StatusAuthRequired:
		sentinel = ErrAuthRequired
	case StatusNamespaceRequired:
		sentinel = ErrNamespaceRequired
	case StatusBadRequest:
		sentinel = ErrBadRequest
	case StatusRateLimited:
		sentinel = ErrRateLimited
	case StatusExtensionError:
		sentinel = ErrExtension
	case StatusServerError:
		sentinel = ErrServer
	default:
		return fmt.Errorf("%w: unexpected status %s", ErrServer, resp.Status)
	}
	if len(resp.Payload) == 0 {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, resp.Payload)
}
