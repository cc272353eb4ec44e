package transport

import (
	"net"

	"github.com/google/uuid"

	"github.com/rhuss/keyspace/pkg/gateway"
)

// Session is the state of one protocol connection. It is owned by the
// connection's goroutine and is not safe for concurrent use.
type Session struct {
	id            string
	remoteAddr    string
	authenticated bool
	namespace     *gateway.Namespace
}

// NewSession creates a session. Sessions on a server without a password
// start authenticated.
func NewSession(remoteAddr string, authenticated bool) *Session {
	return &Session{
		id:            uuid.Must(uuid.NewV7()).String(),
		remoteAddr:    remoteAddr,
		authenticated: authenticated,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address the session was opened from.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// RemoteHost returns the host part of RemoteAddr. Authentication attempts
// are throttled per host.
func (s *Session) RemoteHost() string {
	host, _, err := net.SplitHostPort(s.remoteAddr)
	if err != nil {
		return s.remoteAddr
	}
	return host
}

// Authenticated reports whether AUTH succeeded (or was not required).
func (s *Session) Authenticated() bool { return s.authenticated }

// Namespace returns the selected namespace name, or "" before SELECT.
func (s *Session) Namespace() string {
	if s.namespace == nil {
		return ""
	}
	return s.namespace.Name()
}

// selected returns the active namespace handle.
func (s *Session) selected() (*gateway.Namespace, error) {
	if s.namespace == nil {
		return nil, ErrNamespaceRequired
	}
	return s.namespace, nil
}
