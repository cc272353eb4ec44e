// Package leveldb provides a storage.Persister on top of goleveldb.
//
// Layout:
//
//	n/<namespace>                namespace marker, empty value
//	e/<namespace>\x00<key>       JSON-encoded storage.Entry
package leveldb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/rhuss/keyspace/pkg/storage"
)

var (
	namespacePrefix = []byte("n/")
	entryPrefix     = []byte("e/")
)

// ErrInvalidNamespace is returned for namespace names the key layout cannot
// represent.
var ErrInvalidNamespace = errors.New("namespace name contains NUL")

// Store is a LevelDB-backed Persister.
type Store struct {
	db    *leveldb.DB
	write *opt.WriteOptions
}

// Ensure Store implements storage.Persister at compile time.
var _ storage.Persister = (*Store)(nil)

// Config holds LevelDB settings.
type Config struct {
	// Path is the database directory. It is created if missing.
	Path string

	// Sync forces an fsync after every write.
	Sync bool
}

// New opens (or creates) the database at cfg.Path.
func New(cfg Config) (*Store, error) {
	db, err := leveldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %s: %w", cfg.Path, err)
	}
	return Wrap(db, cfg.Sync), nil
}

// Wrap uses an already opened database.
func Wrap(db *leveldb.DB, sync bool) *Store {
	return &Store{db: db, write: &opt.WriteOptions{Sync: sync}}
}

// Load reads every namespace marker and entry.
func (s *Store) Load(_ context.Context) (storage.Snapshot, error) {
	snap := storage.Snapshot{}

	it := s.db.NewIterator(util.BytesPrefix(namespacePrefix), nil)
	for it.Next() {
		name := string(bytes.TrimPrefix(it.Key(), namespacePrefix))
		snap[name] = map[string]storage.Entry{}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("reading namespaces: %w", err)
	}

	it = s.db.NewIterator(util.BytesPrefix(entryPrefix), nil)
	defer it.Release()
	for it.Next() {
		ns, key, ok := splitEntryKey(it.Key())
		if !ok {
			return nil, fmt.Errorf("malformed entry key %q", it.Key())
		}
		var e storage.Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", ns, key, err)
		}
		if snap[ns] == nil {
			snap[ns] = map[string]storage.Entry{}
		}
		snap[ns][key] = e
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("reading entries: %w", err)
	}
	return snap, nil
}

// CreateNamespace writes the namespace marker.
func (s *Store) CreateNamespace(_ context.Context, namespace string) error {
	if strings.ContainsRune(namespace, 0) {
		return ErrInvalidNamespace
	}
	return s.db.Put(namespaceKey(namespace), nil, s.write)
}

// DropNamespace deletes the marker and every entry of namespace in one batch.
func (s *Store) DropNamespace(_ context.Context, namespace string) error {
	batch := new(leveldb.Batch)
	batch.Delete(namespaceKey(namespace))

	it := s.db.NewIterator(util.BytesPrefix(entryKey(namespace, "")), nil)
	for it.Next() {
		batch.Delete(bytes.Clone(it.Key()))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("listing entries of %s: %w", namespace, err)
	}
	return s.db.Write(batch, s.write)
}

// Put writes the entry and the namespace marker atomically.
func (s *Store) Put(_ context.Context, namespace, key string, e storage.Entry) error {
	if strings.ContainsRune(namespace, 0) {
		return ErrInvalidNamespace
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(namespaceKey(namespace), nil)
	batch.Put(entryKey(namespace, key), data)
	return s.db.Write(batch, s.write)
}

// Delete removes a single entry.
func (s *Store) Delete(_ context.Context, namespace, key string) error {
	return s.db.Delete(entryKey(namespace, key), s.write)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func namespaceKey(namespace string) []byte {
	return append(bytes.Clone(namespacePrefix), namespace...)
}

func entryKey(namespace, key string) []byte {
	k := make([]byte, 0, len(entryPrefix)+len(namespace)+1+len(key))
	k = append(k, entryPrefix...)
	k = append(k, namespace...)
	k = append(k, 0)
	return append(k, key...)
}

func splitEntryKey(k []byte) (namespace, key string, ok bool) {
	rest := bytes.TrimPrefix(k, entryPrefix)
	ns, key2, found := bytes.Cut(rest, []byte{0})
	if !found {
		return "", "", false
	}
	return string(ns), string(key2), true
}
