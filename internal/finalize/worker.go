// Package finalize implements the Finalization Worker (§4.6): a long-lived
// process that, on each tick, leases a named job and recomputes cost for
// every PENDING LogRecord before releasing the lease. Keeping this off the
// request hot path is the "background finalization instead of synchronous
// cost" design note (§9): dispatch never blocks on cost arithmetic.
//
// LogRecord never persists the request/response text (§3), so by the time
// a record reaches this worker there is nothing left to re-tokenize;
// "recompute missing token counts" (§4.6 step 3) reduces to recomputing
// cost from whatever counts the Dispatcher already estimated inline at
// response time (§4.3 step 6), which is the only place raw text exists.
package finalize

import (
	"context"
	"log/slog"
	"time"

	"github.com/llmgateway/core/internal/logrecord"
	"github.com/llmgateway/core/internal/registry"
	"github.com/llmgateway/core/internal/store/postgres"
	"github.com/llmgateway/core/internal/usage"
)

const jobKey = "finalize-log-records"

// LogStore is the subset of postgres.LogStore the worker needs, kept as an
// interface so tests can exercise Tick's control flow with an in-memory
// fake instead of a live database (the same seam dispatch.LogWriter uses).
type LogStore interface {
	SelectPendingBatch(ctx context.Context, limit int) ([]logrecord.LogRecord, error)
	Finalize(ctx context.Context, id string, in postgres.FinalizeInput) error
}

// LockStore is the subset of postgres.LockStore the worker needs.
type LockStore interface {
	Acquire(ctx context.Context, key string, leaseDuration time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Worker drives the lease/scan/compute/release loop on a fixed tick.
type Worker struct {
	Logs          LogStore
	Locks         LockStore
	Registry      *registry.Registry
	Logger        *slog.Logger
	TickInterval  time.Duration // default 30s
	LeaseDuration time.Duration // default 10 minutes, LOCK_DURATION_MINUTES
	BatchSize     int           // default 100
}

// New builds a Worker with the spec's documented defaults, overridable by
// setting the returned Worker's fields before calling Run.
func New(logs LogStore, locks LockStore, reg *registry.Registry, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		Logs:          logs,
		Locks:         locks,
		Registry:      reg,
		Logger:        logger,
		TickInterval:  30 * time.Second,
		LeaseDuration: 10 * time.Minute,
		BatchSize:     100,
	}
}

// Run ticks until ctx is cancelled, calling Tick once per interval. Errors
// from an individual tick are logged, never fatal, matching §7's
// "Finalization Worker errors are logged; the row remains PENDING".
func (w *Worker) Run(ctx context.Context) {
	interval := w.TickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Tick(ctx); err != nil {
				w.Logger.Error("finalize: tick failed", "error", err)
			}
		}
	}
}

// Tick runs one pass of §4.6 steps 1-4. A skipped tick (lease unavailable)
// is not an error.
func (w *Worker) Tick(ctx context.Context) error {
	leaseDuration := w.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = 10 * time.Minute
	}

	acquired, err := w.Locks.Acquire(ctx, jobKey, leaseDuration)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := w.Locks.Release(ctx, jobKey); err != nil {
			w.Logger.Error("finalize: failed to release lease", "error", err)
		}
	}()

	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	pending, err := w.Logs.SelectPendingBatch(ctx, batchSize)
	if err != nil {
		return err
	}

	for _, rec := range pending {
		if err := w.finalizeOne(ctx, rec); err != nil {
			w.Logger.Error("finalize: failed to finalize record", "error", err, "id", rec.ID)
		}
	}
	return nil
}

// finalizeOne recomputes missing token counts and cost for one record
// (§4.6 step 3) and writes the result. A record whose used provider/model
// no longer resolves in the registry is finalized with zero cost rather
// than left pending forever — the registry is the only place prices live.
func (w *Worker) finalizeOne(ctx context.Context, rec logrecord.LogRecord) error {
	totals := usage.Totals{
		PromptTokens:     rec.PromptTokens,
		CachedTokens:     rec.CachedTokens,
		CompletionTokens: rec.CompletionTokens,
		ReasoningTokens:  rec.ReasoningTokens,
	}

	var mapping registry.ProviderMapping
	if model, ok := w.Registry.GetModel(registry.CanonicalModelID(rec.CanonicalModel)); ok {
		mapping, _ = model.MappingFor(rec.UsedProvider)
	}

	cost := usage.Cost(totals, mapping)

	cachedPrice := mapping.InputPrice
	if mapping.CachedInputPrice != nil {
		cachedPrice = *mapping.CachedInputPrice
	}
	nonCached := totals.PromptTokens - totals.CachedTokens
	if nonCached < 0 {
		nonCached = 0
	}
	inputCost := float64(nonCached)*mapping.InputPrice + float64(totals.CachedTokens)*cachedPrice
	outputCost := float64(totals.CompletionTokens+totals.ReasoningTokens) * mapping.OutputPrice

	return w.Logs.Finalize(ctx, rec.ID, postgres.FinalizeInput{
		PromptTokens:     totals.PromptTokens,
		CompletionTokens: totals.CompletionTokens,
		ReasoningTokens:  totals.ReasoningTokens,
		CachedTokens:     totals.CachedTokens,
		TotalTokens:      totals.PromptTokens + totals.CompletionTokens + totals.ReasoningTokens,
		InputCost:        inputCost,
		OutputCost:       outputCost,
		CachedInputCost:  float64(totals.CachedTokens) * cachedPrice,
		Cost:             cost,
	})
}
