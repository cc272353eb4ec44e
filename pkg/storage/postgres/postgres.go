// Package postgres provides a PostgreSQL implementation of storage.Persister.
// It uses pgx/v5 for connection pooling and JSONB for entry values.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/keyspace/pkg/storage"
	"github.com/rhuss/keyspace/pkg/value"
)

// Store is a PostgreSQL-backed Persister.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Ensure Store implements storage.Persister at compile time.
var _ storage.Persister = (*Store)(nil)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool, logger: logger}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Load reads all namespaces and entries.
func (s *Store) Load(ctx context.Context) (storage.Snapshot, error) {
	snap := storage.Snapshot{}

	rows, err := s.pool.Query(ctx, "SELECT name FROM namespaces")
	if err != nil {
		return nil, fmt.Errorf("querying namespaces: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning namespaces: %w", err)
	}
	for _, name := range names {
		snap[name] = map[string]storage.Entry{}
	}

	rows, err = s.pool.Query(ctx, "SELECT namespace, key, value, expire_at FROM entries")
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ns, key  string
			raw      []byte
			expireAt *time.Time
		)
		if err := rows.Scan(&ns, &key, &raw, &expireAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		v, err := value.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding %s/%s: %w", ns, key, err)
		}
		e := storage.Entry{Value: v}
		if expireAt != nil {
			e.ExpireAt = *expireAt
		}
		if snap[ns] == nil {
			snap[ns] = map[string]storage.Entry{}
		}
		snap[ns][key] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}

	return snap, nil
}

// CreateNamespace inserts the namespace row if it does not exist.
func (s *Store) CreateNamespace(ctx context.Context, namespace string) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO namespaces (name) VALUES ($1) ON CONFLICT DO NOTHING",
		namespace,
	)
	if err != nil {
		return fmt.Errorf("inserting namespace: %w", err)
	}
	return nil
}

// DropNamespace deletes the namespace; its entries go with it through the
// foreign key cascade.
func (s *Store) DropNamespace(ctx context.Context, namespace string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM namespaces WHERE name = $1", namespace); err != nil {
		return fmt.Errorf("deleting namespace: %w", err)
	}
	return nil
}

// Put upserts an entry, creating its namespace row in the same transaction.
func (s *Store) Put(ctx context.Context, namespace, key string, e storage.Entry) error {
	raw, err := value.Encode(e.Value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"INSERT INTO namespaces (name) VALUES ($1) ON CONFLICT DO NOTHING",
			namespace,
		); err != nil {
			return fmt.Errorf("inserting namespace: %w", err)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO entries (namespace, key, value, expire_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (namespace, key) DO UPDATE
			SET value = EXCLUDED.value,
			    expire_at = EXCLUDED.expire_at,
			    updated_at = now()
		`, namespace, key, json.RawMessage(raw), nullTime(e.ExpireAt))
		if err != nil {
			return fmt.Errorf("upserting entry: %w", err)
		}
		return nil
	})
}

// Delete removes an entry. A missing entry is not an error.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM entries WHERE namespace = $1 AND key = $2",
		namespace, key,
	)
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
