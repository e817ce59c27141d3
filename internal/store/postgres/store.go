// Package postgres implements the two persisted row shapes the core
// touches (§6.3): log and lock. It is grounded on the pack's Postgres
// memory store (pgxpool.Pool, hand-written SQL with $N placeholders,
// pgx.CollectRows) rather than an ORM.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store holds a single connection pool and exposes the Logs and Locks
// sub-stores, the way the pack's Postgres memory store exposes L1/L2
// sub-layers off one pool.
type Store struct {
	pool  *pgxpool.Pool
	logs  *LogStore
	locks *LockStore
}

// NewStore connects to dsn, runs Migrate, and returns a ready Store.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{
		pool:  pool,
		logs:  &LogStore{pool: pool},
		locks: &LockStore{pool: pool},
	}, nil
}

// Pool exposes the underlying connection pool for callers (chiefly tests)
// that need to inspect or reset state directly.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Logs returns the LogRecord sub-store.
func (s *Store) Logs() *LogStore { return s.logs }

// Locks returns the Lock sub-store.
func (s *Store) Locks() *LockStore { return s.locks }

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}
