// Package gateway is the capability-limited facade over the store. Protocol
// handlers and extension scripts reach namespaces only through it.
//
// The verb set is deliberately small: open a namespace, then set, get,
// delete or test a key. There is no way to list keys, enumerate namespaces
// or reach raw entries, so every read goes through the expiration-checked
// paths of the storage package. Internal failures are logged with detail
// and surfaced as ErrAccess.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/rhuss/keyspace/pkg/storage"
	"github.com/rhuss/keyspace/pkg/value"
)

// ErrAccess is the single failure signal of the gateway. The cause is
// logged, not returned.
var ErrAccess = errors.New("storage access failed")

// maxTTL is the largest TTL in seconds that fits a time.Duration.
const maxTTL = uint64(math.MaxInt64 / int64(time.Second))

// Access opens namespace handles.
type Access struct {
	manager *storage.Manager
	logger  *slog.Logger
}

// New returns an Access over m.
func New(m *storage.Manager, logger *slog.Logger) *Access {
	if logger == nil {
		logger = slog.Default()
	}
	return &Access{manager: m, logger: logger}
}

// Open selects name, creating it empty if it does not exist yet.
func (a *Access) Open(ctx context.Context, name string) (*Namespace, error) {
	s, err := a.manager.Select(ctx, name)
	if err != nil {
		return nil, a.fail(ctx, "open", name, "", err)
	}
	return &Namespace{access: a, session: s}, nil
}

// Namespace is a handle to one namespace.
type Namespace struct {
	access  *Access
	session *storage.Session
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.session.Namespace() }

// Set stores v at key for ttlSeconds; zero means the entry never expires.
func (n *Namespace) Set(ctx context.Context, key string, v value.Value, ttlSeconds uint64) error {
	ttl := time.Duration(min(ttlSeconds, maxTTL)) * time.Second
	if err := n.session.Set(ctx, key, v, ttl); err != nil {
		return n.access.fail(ctx, "set", n.Name(), key, err)
	}
	return nil
}

// Get returns a copy of the live value at key.
func (n *Namespace) Get(ctx context.Context, key string) (value.Value, bool, error) {
	v, ok, err := n.session.Get(ctx, key)
	if err != nil {
		return value.Value{}, false, n.access.fail(ctx, "get", n.Name(), key, err)
	}
	return v, ok, nil
}

// Delete removes key and reports whether a live entry existed.
func (n *Namespace) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := n.session.Delete(ctx, key)
	if err != nil {
		return false, n.access.fail(ctx, "delete", n.Name(), key, err)
	}
	return existed, nil
}

// Exists reports whether key holds a live entry.
func (n *Namespace) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := n.session.Exists(ctx, key)
	if err != nil {
		return false, n.access.fail(ctx, "exists", n.Name(), key, err)
	}
	return ok, nil
}

// fail logs err and replaces it with ErrAccess. Context errors pass
// through so callers can tell a timeout from a storage failure.
func (a *Access) fail(ctx context.Context, op, namespace, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	a.logger.WarnContext(ctx, "storage access failed",
		"op", op,
		"namespace", namespace,
		"key", key,
		"error", err,
	)
	return ErrAccess
}
