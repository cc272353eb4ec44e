package storage

import (
	"slices"
	"time"

	"github.com/rhuss/keyspace/pkg/value"
)

// Namespace is a single key to Entry store. It is not safe for concurrent
// use; the Manager serializes all access under its guard.
type Namespace struct {
	name    string
	entries map[string]Entry
}

func newNamespace(name string) *Namespace {
	return &Namespace{name: name, entries: make(map[string]Entry)}
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// Len returns the number of physically present entries, expired or not.
func (n *Namespace) Len() int { return len(n.entries) }

// Set inserts or overwrites key. A ttl of zero means the entry never expires.
func (n *Namespace) Set(key string, v value.Value, ttl time.Duration, now time.Time) (Entry, error) {
	if key == "" {
		return Entry{}, ErrEmptyKey
	}
	e := NewEntry(v, ttl, now)
	n.entries[key] = e
	return e, nil
}

// Get returns a copy of the value stored at key. An expired entry is
// removed and reported as absent.
func (n *Namespace) Get(key string, now time.Time) (value.Value, bool) {
	e, ok := n.live(key, now)
	if !ok {
		return value.Value{}, false
	}
	return e.Value.Clone(), true
}

// Exists reports whether key holds a live entry, removing it if expired.
func (n *Namespace) Exists(key string, now time.Time) bool {
	_, ok := n.live(key, now)
	return ok
}

// Delete removes key and reports whether a live entry existed. Removing an
// expired entry reports false.
func (n *Namespace) Delete(key string, now time.Time) bool {
	e, ok := n.entries[key]
	if !ok {
		return false
	}
	delete(n.entries, key)
	return !e.Expired(now)
}

// Sweep removes every expired entry and returns the removed keys in order.
// When remove is non-nil it is called before each removal; the first error
// stops the sweep and leaves that entry in place.
func (n *Namespace) Sweep(now time.Time, remove func(key string) error) ([]string, error) {
	var expired []string
	for k, e := range n.entries {
		if e.Expired(now) {
			expired = append(expired, k)
		}
	}
	slices.Sort(expired)

	removed := make([]string, 0, len(expired))
	for _, k := range expired {
		if remove != nil {
			if err := remove(k); err != nil {
				return removed, err
			}
		}
		delete(n.entries, k)
		removed = append(removed, k)
	}
	return removed, nil
}

// expired reports whether key is present but past its expiration.
func (n *Namespace) expired(key string, now time.Time) bool {
	e, ok := n.entries[key]
	return ok && e.Expired(now)
}

// live returns the entry at key, removing it first if it has expired.
func (n *Namespace) live(key string, now time.Time) (Entry, bool) {
	e, ok := n.entries[key]
	if !ok {
		return Entry{}, false
	}
	if e.Expired(now) {
		delete(n.entries, key)
		return Entry{}, false
	}
	return e, true
}

// put installs e as is, keeping its expiration.
func (n *Namespace) put(key string, e Entry) {
	n.entries[key] = e
}
