package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrIO wraps failures of the underlying persistence medium.
	ErrIO = errors.New("storage I/O failure")

	// ErrNamespaceNotFound is returned when a session's namespace no longer
	// exists, which happens only after Manager.Drop.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrEmptyKey is returned when an entry key is the empty string.
	ErrEmptyKey = errors.New("key must not be empty")

	// ErrEmptyNamespace is returned when a namespace name is the empty string.
	ErrEmptyNamespace = errors.New("namespace name must not be empty")
)
