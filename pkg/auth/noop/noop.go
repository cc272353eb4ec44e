// Package noop provides a no-op authenticator that accepts all requests.
// Used when no password is configured.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/keyspace/pkg/auth"
)

// Authenticator always returns Yes with the anonymous identity, which may
// use every namespace.
type Authenticator struct{}

func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: auth.Anonymous(),
	}
}
