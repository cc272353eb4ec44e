package transport

import (
	"context"
	"sync"
)

// SessionRegistry tracks live sessions so a shutting-down server can cancel
// them. It maps session IDs to the cancel function of the connection's
// context.
//
// All methods are safe for concurrent access.
type SessionRegistry struct {
	mu      sync.Mutex
	entries map[string]context.CancelFunc
}

// NewSessionRegistry creates a new empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		entries: make(map[string]context.CancelFunc),
	}
}

// Register adds a live session to the registry.
func (r *SessionRegistry) Register(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = cancel
}

// Cancel cancels a live session by calling its cancel function.
// Returns true if the session was found and cancelled, false if the ID
// was not registered (either already closed or never existed).
func (r *SessionRegistry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.entries[id]
	if !ok {
		return false
	}
	cancel()
	delete(r.entries, id)
	return true
}

// CancelAll cancels every registered session and returns how many there were.
func (r *SessionRegistry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for id, cancel := range r.entries {
		cancel()
		delete(r.entries, id)
	}
	return n
}

// Remove removes a session from the registry without cancelling it.
// Called when a connection closes normally.
func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
