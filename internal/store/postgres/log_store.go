package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/llmgateway/core/internal/logrecord"
)

// LogStore persists LogRecord rows (§3, §6.3). Obtain one via Store.Logs
// rather than constructing directly.
type LogStore struct {
	pool *pgxpool.Pool
}

// Write inserts a new LogRecord at response end, with token counts
// best-effort and cost fields left nil for the Finalization Worker to fill
// in (§3 lifecycle).
func (s *LogStore) Write(ctx context.Context, r logrecord.LogRecord) error {
	const q = `
		INSERT INTO log_records
			(id, request_id, canonical_model, used_provider, used_model, streamed,
			 prompt_tokens, completion_tokens, reasoning_tokens, cached_tokens, total_tokens,
			 finish_reason, error_kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.pool.Exec(ctx, q,
		r.ID, r.RequestID, r.CanonicalModel, r.UsedProvider, r.UsedModel, r.Streamed,
		r.PromptTokens, r.CompletionTokens, r.ReasoningTokens, r.CachedTokens, r.TotalTokens,
		r.FinishReason, string(r.ErrorKind), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log store: write: %w", err)
	}
	return nil
}

// SelectPendingBatch returns up to limit LogRecords whose finalizedAt is
// still NULL (§4.6 step 2), oldest first so the worker drains backlog in
// arrival order.
func (s *LogStore) SelectPendingBatch(ctx context.Context, limit int) ([]logrecord.LogRecord, error) {
	const q = `
		SELECT id, request_id, canonical_model, used_provider, used_model, streamed,
		       prompt_tokens, completion_tokens, reasoning_tokens, cached_tokens, total_tokens,
		       finish_reason, error_kind, created_at
		FROM   log_records
		WHERE  finalized_at IS NULL
		ORDER  BY created_at
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("log store: select pending: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (logrecord.LogRecord, error) {
		var r logrecord.LogRecord
		var errorKind string
		if err := row.Scan(
			&r.ID, &r.RequestID, &r.CanonicalModel, &r.UsedProvider, &r.UsedModel, &r.Streamed,
			&r.PromptTokens, &r.CompletionTokens, &r.ReasoningTokens, &r.CachedTokens, &r.TotalTokens,
			&r.FinishReason, &errorKind, &r.CreatedAt,
		); err != nil {
			return logrecord.LogRecord{}, err
		}
		r.ErrorKind = logrecord.ErrorKind(errorKind)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("log store: scan pending: %w", err)
	}
	return records, nil
}

// FinalizeInput bundles the fields the Finalization Worker computes before
// mutating a record (§4.5, §4.6 step 3).
type FinalizeInput struct {
	PromptTokens     int
	CompletionTokens int
	ReasoningTokens  int
	CachedTokens     int
	TotalTokens      int
	InputCost        float64
	OutputCost       float64
	CachedInputCost  float64
	Cost             float64
}

// Finalize writes the computed cost and token fields and sets finalizedAt,
// the single mutation a LogRecord ever receives after creation.
func (s *LogStore) Finalize(ctx context.Context, id string, in FinalizeInput) error {
	const q = `
		UPDATE log_records
		SET    prompt_tokens     = $2,
		       completion_tokens = $3,
		       reasoning_tokens  = $4,
		       cached_tokens     = $5,
		       total_tokens      = $6,
		       input_cost        = $7,
		       output_cost       = $8,
		       cached_input_cost = $9,
		       cost              = $10,
		       finalized_at      = now()
		WHERE  id = $1 AND finalized_at IS NULL`

	tag, err := s.pool.Exec(ctx, q, id,
		in.PromptTokens, in.CompletionTokens, in.ReasoningTokens, in.CachedTokens, in.TotalTokens,
		in.InputCost, in.OutputCost, in.CachedInputCost, in.Cost,
	)
	if err != nil {
		return fmt.Errorf("log store: finalize: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("log store: finalize: record %q already finalized or missing", id)
	}
	return nil
}
