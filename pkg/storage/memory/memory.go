// Package memory provides an in-memory implementation of storage.Persister
// for tests and lightweight deployments. The persisted state outlives any
// single Manager but is lost when the process exits.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/rhuss/keyspace/pkg/storage"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("memory persister closed")

// Store is an in-memory Persister.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]storage.Entry
	closed     bool
}

// Ensure Store implements storage.Persister at compile time.
var _ storage.Persister = (*Store)(nil)

// New creates an empty in-memory persister.
func New() *Store {
	return &Store{namespaces: make(map[string]map[string]storage.Entry)}
}

// Load returns a deep copy of everything persisted so far.
func (s *Store) Load(_ context.Context) (storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	snap := make(storage.Snapshot, len(s.namespaces))
	for name, entries := range s.namespaces {
		copied := make(map[string]storage.Entry, len(entries))
		for k, e := range entries {
			copied[k] = storage.Entry{Value: e.Value.Clone(), ExpireAt: e.ExpireAt}
		}
		snap[name] = copied
	}
	return snap, nil
}

// CreateNamespace records an empty namespace if it does not exist yet.
func (s *Store) CreateNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.namespaces[namespace]; !ok {
		s.namespaces[namespace] = make(map[string]storage.Entry)
	}
	return nil
}

// DropNamespace removes a namespace and its entries.
func (s *Store) DropNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.namespaces, namespace)
	return nil
}

// Put stores a copy of e, creating the namespace if needed.
func (s *Store) Put(_ context.Context, namespace, key string, e storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	entries, ok := s.namespaces[namespace]
	if !ok {
		entries = make(map[string]storage.Entry)
		s.namespaces[namespace] = entries
	}
	entries[key] = storage.Entry{Value: e.Value.Clone(), ExpireAt: e.ExpireAt}
	return nil
}

// Delete removes a single entry.
func (s *Store) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	delete(s.namespaces[namespace], key)
	return nil
}

// Close marks the store closed. The persisted state is kept, and Reopen
// makes it usable again, which simulates a process restart.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Reopen clears the closed flag, keeping the persisted state.
func (s *Store) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = false
}
