// Package transport defines the command handler interface, the per-connection
// session state machine and the middleware chain for the keyspace wire
// protocol.
//
// A Session moves through Unauthenticated, Authenticated and
// namespace-selected states. The Dispatcher executes decoded protocol
// requests against the storage access gateway, enforcing those states:
// key commands before SELECT fail with ErrNamespaceRequired, every command
// other than AUTH before authentication fails with StatusAuthRequired.
//
// # Middleware
//
// The middleware chain wraps a Handler with cross-cutting concerns.
// Built-in middleware provides panic recovery, request ID assignment,
// structured logging via log/slog and Prometheus command metrics.
//
// The TCP listener lives in package tcp and the JSON/HTTP gateway in
// package http.
package transport
