package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate ensures the log and lock tables named in §6.3 exist. It is
// idempotent and safe to call on every startup, matching the pack's
// Postgres store's migrate-on-connect pattern.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS log_records (
	id                 TEXT PRIMARY KEY,
	request_id         TEXT NOT NULL,
	canonical_model    TEXT NOT NULL,
	used_provider      TEXT NOT NULL,
	used_model         TEXT NOT NULL,
	streamed           BOOLEAN NOT NULL,
	prompt_tokens      INTEGER NOT NULL DEFAULT 0,
	completion_tokens  INTEGER NOT NULL DEFAULT 0,
	reasoning_tokens   INTEGER NOT NULL DEFAULT 0,
	cached_tokens      INTEGER NOT NULL DEFAULT 0,
	total_tokens       INTEGER NOT NULL DEFAULT 0,
	input_cost         DOUBLE PRECISION,
	output_cost        DOUBLE PRECISION,
	cached_input_cost  DOUBLE PRECISION,
	cost               DOUBLE PRECISION,
	finish_reason      TEXT NOT NULL DEFAULT '',
	error_kind         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	finalized_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS log_records_pending_idx
	ON log_records (created_at)
	WHERE finalized_at IS NULL;

CREATE TABLE IF NOT EXISTS locks (
	key        TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}
