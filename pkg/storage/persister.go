package storage

import "context"

// Snapshot is the persisted state of a store: namespace name to key to entry.
// Namespaces with no entries are present with an empty (or nil) map.
type Snapshot map[string]map[string]Entry

// Persister is the durability contract of a Manager. Every mutation is
// written through the persister before the in-memory state changes.
type Persister interface {
	// Load returns everything previously persisted.
	Load(ctx context.Context) (Snapshot, error)

	// CreateNamespace records that namespace exists. It must be idempotent.
	CreateNamespace(ctx context.Context, namespace string) error

	// DropNamespace removes namespace and all its entries.
	DropNamespace(ctx context.Context, namespace string) error

	// Put writes or overwrites a single entry.
	Put(ctx context.Context, namespace, key string, e Entry) error

	// Delete removes a single entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, namespace, key string) error

	// Close releases the underlying resources.
	Close() error
}

// volatile keeps nothing; it backs managers created with NewManager.
type volatile struct{}

func (volatile) Load(context.Context) (Snapshot, error) { return Snapshot{}, nil }
func (volatile) CreateNamespace(context.Context, string) error { return nil }
func (volatile) DropNamespace(context.Context, string) error { return nil }
func (volatile) Put(context.Context, string, string, Entry) error { return nil }
func (volatile) Delete(context.Context, string, string) error { return nil }
func (volatile) Close() error { return nil }
