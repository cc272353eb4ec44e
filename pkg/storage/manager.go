package storage

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/rhuss/keyspace/pkg/debug"
	"github.com/rhuss/keyspace/pkg/observability"
)

// Manager owns every namespace. A single manager-wide guard serializes all
// operations across namespaces; no method holds it across a call that can
// re-enter the manager.
type Manager struct {
	// guard is a one-slot semaphore. Waiting on it honours context
	// cancellation; once acquired, an operation runs to completion.
	guard chan struct{}

	namespaces map[string]*Namespace
	persister  Persister
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for expiration.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager returns an empty manager without persistence.
func NewManager(opts ...Option) *Manager {
	return newManager(volatile{}, opts)
}

// Open returns a manager backed by p, restoring every namespace and entry
// that p has persisted.
func Open(ctx context.Context, p Persister, opts ...Option) (*Manager, error) {
	if p == nil {
		p = volatile{}
	}
	m := newManager(p, opts)

	snap, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading snapshot: %v", ErrIO, err)
	}

	entries := 0
	for name, stored := range snap {
		ns := newNamespace(name)
		for key, e := range stored {
			ns.put(key, e)
			entries++
		}
		m.namespaces[name] = ns
	}
	observability.Namespaces.Set(float64(len(m.namespaces)))

	m.logger.Info("store restored",
		"namespaces", len(m.namespaces),
		"entries", entries,
	)
	return m, nil
}

func newManager(p Persister, opts []Option) *Manager {
	m := &Manager{
		guard:      make(chan struct{}, 1),
		namespaces: make(map[string]*Namespace),
		persister:  p,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lock acquires the guard or returns the context error while waiting.
func (m *Manager) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case m.guard <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() { <-m.guard }

// Select returns a Session bound to name, creating an empty namespace if
// none exists. It is the only way a namespace comes into existence.
func (m *Manager) Select(ctx context.Context, name string) (*Session, error) {
	if name == "" {
		return nil, ErrEmptyNamespace
	}
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	if _, ok := m.namespaces[name]; !ok {
		if err := m.persister.CreateNamespace(context.WithoutCancel(ctx), name); err != nil {
			return nil, ioError("creating namespace", err)
		}
		m.namespaces[name] = newNamespace(name)
		observability.Namespaces.Set(float64(len(m.namespaces)))
		m.logger.Debug("namespace created", "namespace", name)
	}
	return &Session{manager: m, namespace: name}, nil
}

// Namespaces returns the sorted names of all namespaces.
func (m *Manager) Namespaces(ctx context.Context) ([]string, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Drop removes a namespace and all its entries, reporting whether it
// existed. Sessions bound to it fail with ErrNamespaceNotFound until the
// name is selected again, which recreates it empty.
func (m *Manager) Drop(ctx context.Context, name string) (bool, error) {
	if err := m.lock(ctx); err != nil {
		return false, err
	}
	defer m.unlock()

	if _, ok := m.namespaces[name]; !ok {
		return false, nil
	}
	if err := m.persister.DropNamespace(context.WithoutCancel(ctx), name); err != nil {
		return false, ioError("dropping namespace", err)
	}
	delete(m.namespaces, name)
	observability.Namespaces.Set(float64(len(m.namespaces)))
	m.logger.Info("namespace dropped", "namespace", name)
	return true, nil
}

// Sweep removes every expired entry in every namespace and returns how many
// were removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	if err := m.lock(ctx); err != nil {
		return 0, err
	}
	defer m.unlock()

	wctx := context.WithoutCancel(ctx)
	now := m.now()
	total := 0
	for name, ns := range m.namespaces {
		removed, err := ns.Sweep(now, func(key string) error {
			return m.persister.Delete(wctx, name, key)
		})
		total += len(removed)
		observability.ExpiredEntriesTotal.WithLabelValues(observability.ExpirySweep).Add(float64(len(removed)))
		if err != nil {
			return total, ioError("sweeping "+name, err)
		}
	}
	return total, nil
}

// StartJanitor sweeps expired entries every interval until ctx is done.
// Lazy expiration does not depend on it.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := m.Sweep(ctx)
				if err != nil {
					if ctx.Err() == nil {
						m.logger.Warn("sweep failed", "error", err)
					}
					continue
				}
				if n > 0 {
					m.logger.Debug("swept expired entries", "count", n)
				}
				debug.Log(debug.Storage, "sweep finished", "expired", n)
			}
		}
	}()
}

// Stats summarizes the store contents.
type Stats struct {
	Namespaces int
	Entries    int
}

// Stats returns the namespace count and the number of physically present
// entries, which may include expired entries not yet removed.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	if err := m.lock(ctx); err != nil {
		return Stats{}, err
	}
	defer m.unlock()

	st := Stats{Namespaces: len(m.namespaces)}
	for _, ns := range m.namespaces {
		st.Entries += ns.Len()
	}
	return st, nil
}

// Close closes the persister.
func (m *Manager) Close() error {
	return m.persister.Close()
}

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrIO, op, err)
}
