package storage

import (
	"context"
	"time"

	"github.com/rhuss/keyspace/pkg/observability"
	"github.com/rhuss/keyspace/pkg/value"
)

// Session is a handle bound to one namespace. It holds no reference to the
// namespace itself; each operation looks it up under the manager guard.
type Session struct {
	manager   *Manager
	namespace string
}

// Namespace returns the name this session is bound to.
func (s *Session) Namespace() string { return s.namespace }

// Set stores v at key. A ttl of zero means the entry never expires.
func (s *Session) Set(ctx context.Context, key string, v value.Value, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	m := s.manager
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	ns, err := s.lookup()
	if err != nil {
		return err
	}
	e := NewEntry(v, ttl, m.now())
	if err := m.persister.Put(context.WithoutCancel(ctx), s.namespace, key, e); err != nil {
		return ioError("writing entry", err)
	}
	ns.put(key, e)
	return nil
}

// Get returns a copy of the value at key. The boolean is false when the key
// is absent or its entry has expired; an expired entry is removed.
func (s *Session) Get(ctx context.Context, key string) (value.Value, bool, error) {
	m := s.manager
	if err := m.lock(ctx); err != nil {
		return value.Value{}, false, err
	}
	defer m.unlock()

	ns, err := s.lookup()
	if err != nil {
		return value.Value{}, false, err
	}
	now := m.now()
	if err := s.expire(ctx, ns, key, now); err != nil {
		return value.Value{}, false, err
	}
	v, ok := ns.Get(key, now)
	return v, ok, nil
}

// Exists reports whether key holds a live entry. An expired entry is removed.
func (s *Session) Exists(ctx context.Context, key string) (bool, error) {
	m := s.manager
	if err := m.lock(ctx); err != nil {
		return false, err
	}
	defer m.unlock()

	ns, err := s.lookup()
	if err != nil {
		return false, err
	}
	now := m.now()
	if err := s.expire(ctx, ns, key, now); err != nil {
		return false, err
	}
	return ns.Exists(key, now), nil
}

// Delete removes key and reports whether a live entry existed before.
func (s *Session) Delete(ctx context.Context, key string) (bool, error) {
	m := s.manager
	if err := m.lock(ctx); err != nil {
		return false, err
	}
	defer m.unlock()

	ns, err := s.lookup()
	if err != nil {
		return false, err
	}
	if _, ok := ns.entries[key]; !ok {
		return false, nil
	}
	if err := m.persister.Delete(context.WithoutCancel(ctx), s.namespace, key); err != nil {
		return false, ioError("deleting entry", err)
	}
	now := m.now()
	if ns.expired(key, now) {
		observability.ExpiredEntriesTotal.WithLabelValues(observability.ExpiryLazy).Inc()
	}
	return ns.Delete(key, now), nil
}

// lookup resolves the bound namespace. The guard must be held.
func (s *Session) lookup() (*Namespace, error) {
	ns, ok := s.manager.namespaces[s.namespace]
	if !ok {
		return nil, ErrNamespaceNotFound
	}
	return ns, nil
}

// expire persists the removal of key if it has expired, so the following
// in-memory read removes it too. The guard must be held.
func (s *Session) expire(ctx context.Context, ns *Namespace, key string, now time.Time) error {
	if !ns.expired(key, now) {
		return nil
	}
	if err := s.manager.persister.Delete(context.WithoutCancel(ctx), s.namespace, key); err != nil {
		return ioError("expiring entry", err)
	}
	observability.ExpiredEntriesTotal.WithLabelValues(observability.ExpiryLazy).Inc()
	s.manager.logger.Debug("entry expired", "namespace", s.namespace, "key", key)
	return nil
}
