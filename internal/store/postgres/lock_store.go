package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/llmgateway/core/internal/logrecord"
)

const uniqueViolation = "23505"

// LockStore backs the Finalization Worker's "lease, not advisory lock"
// exclusivity (§4.6 step 1, §9): a row in a unique-keyed table whose
// ownership is decided by expiry rather than a held connection or an
// external coordinator.
type LockStore struct {
	pool *pgxpool.Pool
}

// Acquire attempts to take the named lease. It inserts a Lock row; on a
// unique-key conflict it deletes the row only if it is older than
// leaseDuration, then retries the insert once. A second conflict means
// another worker holds a live lease, and Acquire returns false with no
// error.
func (s *LockStore) Acquire(ctx context.Context, key string, leaseDuration time.Duration) (bool, error) {
	ok, err := s.insert(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if _, err := s.pool.Exec(ctx,
		`DELETE FROM locks WHERE key = $1 AND updated_at < $2`,
		key, time.Now().Add(-leaseDuration),
	); err != nil {
		return false, fmt.Errorf("lock store: reap stale lease: %w", err)
	}

	return s.insert(ctx, key)
}

func (s *LockStore) insert(ctx context.Context, key string) (bool, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO locks (key, created_at, updated_at) VALUES ($1, now(), now())`,
		key,
	)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, nil
	}
	return false, fmt.Errorf("lock store: acquire: %w", err)
}

// Release deletes the named lease, making it immediately available to the
// next Acquire regardless of leaseDuration.
func (s *LockStore) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM locks WHERE key = $1`, key); err != nil {
		return fmt.Errorf("lock store: release: %w", err)
	}
	return nil
}

// Get returns the current Lock row for key, for tests that assert on
// UpdatedAt after an Acquire.
func (s *LockStore) Get(ctx context.Context, key string) (logrecord.Lock, bool, error) {
	var l logrecord.Lock
	err := s.pool.QueryRow(ctx,
		`SELECT key, created_at, updated_at FROM locks WHERE key = $1`, key,
	).Scan(&l.Key, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return logrecord.Lock{}, false, nil
		}
		return logrecord.Lock{}, false, fmt.Errorf("lock store: get: %w", err)
	}
	return l, true, nil
}
