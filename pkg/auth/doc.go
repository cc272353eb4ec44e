// Package auth provides authentication and authorization for keyspace.
//
// The wire protocol authenticates a session with the server password
// (Password). The HTTP gateway exchanges account credentials for a signed
// token (see package jwt) and authorizes every namespace route against the
// namespaces listed in that token.
//
// HTTP authentication uses a chain-of-responsibility pattern with
// three-outcome voting: each authenticator returns Yes (identity found), No
// (credentials invalid), or Abstain (can't handle). A configurable default
// voter decides when all authenticators abstain.
package auth
