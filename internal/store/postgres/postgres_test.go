package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/internal/logrecord"
	"github.com/llmgateway/core/internal/store/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if GATEWAY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("GATEWAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GATEWAY_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	store, err := postgres.NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	_, err = store.Pool().Exec(ctx, "TRUNCATE log_records, locks")
	require.NoError(t, err)

	return store
}

func sampleRecord(id string) logrecord.LogRecord {
	return logrecord.LogRecord{
		ID:               id,
		RequestID:        "req-" + id,
		CanonicalModel:   "gpt-5",
		UsedProvider:     "openai",
		UsedModel:        "gpt-5-2025-10-01",
		Streamed:         false,
		PromptTokens:     10,
		CompletionTokens: 5,
		FinishReason:     "stop",
		ErrorKind:        logrecord.ErrorNone,
		CreatedAt:        time.Now().UTC(),
	}
}

func TestLogStore_WriteThenSelectPendingBatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	logs := store.Logs()

	require.NoError(t, logs.Write(ctx, sampleRecord("log-1")))
	require.NoError(t, logs.Write(ctx, sampleRecord("log-2")))

	pending, err := logs.SelectPendingBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, r := range pending {
		assert.True(t, r.Pending())
	}
}

func TestLogStore_FinalizeSetsCostAndFinalizedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	logs := store.Logs()

	require.NoError(t, logs.Write(ctx, sampleRecord("log-finalize")))

	require.NoError(t, logs.Finalize(ctx, "log-finalize", postgres.FinalizeInput{
		PromptTokens:     10,
		CompletionTokens: 5,
		TotalTokens:      15,
		InputCost:        0.001,
		OutputCost:       0.002,
		Cost:             0.003,
	}))

	pending, err := logs.SelectPendingBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLogStore_FinalizeTwiceFails(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	logs := store.Logs()

	require.NoError(t, logs.Write(ctx, sampleRecord("log-twice")))
	require.NoError(t, logs.Finalize(ctx, "log-twice", postgres.FinalizeInput{Cost: 0.01}))

	err := logs.Finalize(ctx, "log-twice", postgres.FinalizeInput{Cost: 0.02})
	assert.Error(t, err)
}

func TestLockStore_ConcurrentAcquireOnlyOneWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	locks := store.Locks()

	results := make(chan bool, 2)
	go func() {
		ok, err := locks.Acquire(ctx, "finalize-worker", time.Minute)
		require.NoError(t, err)
		results <- ok
	}()
	go func() {
		ok, err := locks.Acquire(ctx, "finalize-worker", time.Minute)
		require.NoError(t, err)
		results <- ok
	}()

	first, second := <-results, <-results
	assert.True(t, first != second, "exactly one acquirer should win")
}

func TestLockStore_StaleLeaseIsReaped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	locks := store.Locks()

	ok, err := locks.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.Pool().Exec(ctx,
		"UPDATE locks SET updated_at = $1 WHERE key = 'k'", time.Now().Add(-15*time.Minute))
	require.NoError(t, err)

	ok, err = locks.Acquire(ctx, "k", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	lock, found, err := locks.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, time.Now(), lock.UpdatedAt, 5*time.Second)
}

func TestLockStore_ReleaseAllowsImmediateReacquire(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	locks := store.Locks()

	ok, err := locks.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locks.Release(ctx, "k"))

	ok, err = locks.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
