package finalize

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/core/internal/logrecord"
	"github.com/llmgateway/core/internal/registry"
	"github.com/llmgateway/core/internal/store/postgres"
)

type fakeLogStore struct {
	mu       sync.Mutex
	pending  []logrecord.LogRecord
	finalize map[string]postgres.FinalizeInput
}

func newFakeLogStore(records ...logrecord.LogRecord) *fakeLogStore {
	return &fakeLogStore{pending: records, finalize: make(map[string]postgres.FinalizeInput)}
}

func (f *fakeLogStore) SelectPendingBatch(_ context.Context, limit int) ([]logrecord.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit < len(f.pending) {
		return append([]logrecord.LogRecord{}, f.pending[:limit]...), nil
	}
	return append([]logrecord.LogRecord{}, f.pending...), nil
}

func (f *fakeLogStore) Finalize(_ context.Context, id string, in postgres.FinalizeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalize[id] = in
	for i, r := range f.pending {
		if r.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

type fakeLockStore struct {
	mu     sync.Mutex
	held   map[string]bool
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{held: make(map[string]bool)}
}

func (f *fakeLockStore) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLockStore) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(
		[]registry.ProviderDescriptor{{ID: "openai", SupportsStreaming: true}},
		[]registry.ModelDescriptor{{
			ID: "gpt-x",
			Mappings: []registry.ProviderMapping{{
				ProviderID:  "openai",
				InputPrice:  0.000002,
				OutputPrice: 0.000004,
			}},
		}},
	)
	require.NoError(t, err)
	return reg
}

func TestTick_FinalizesPendingRecordsAndReleasesLease(t *testing.T) {
	logs := newFakeLogStore(logrecord.LogRecord{
		ID:               "rec-1",
		CanonicalModel:   "gpt-x",
		UsedProvider:     "openai",
		PromptTokens:     100,
		CompletionTokens: 50,
	})
	locks := newFakeLockStore()
	w := New(logs, locks, testRegistry(t), nil)

	err := w.Tick(context.Background())
	require.NoError(t, err)

	assert.Empty(t, logs.pending, "pending record should be finalized and removed")
	in, ok := logs.finalize["rec-1"]
	require.True(t, ok)
	assert.Equal(t, 100, in.PromptTokens)
	assert.Equal(t, 50, in.CompletionTokens)
	assert.Greater(t, in.Cost, 0.0)
	assert.False(t, locks.held[jobKey], "lease must be released after the tick")
}

func TestTick_SkipsWhenLeaseUnavailable(t *testing.T) {
	logs := newFakeLogStore(logrecord.LogRecord{ID: "rec-1", CanonicalModel: "gpt-x", UsedProvider: "openai"})
	locks := newFakeLockStore()
	locks.held[jobKey] = true // another worker holds the lease

	w := New(logs, locks, testRegistry(t), nil)
	err := w.Tick(context.Background())
	require.NoError(t, err)

	assert.Len(t, logs.pending, 1, "record should remain untouched when the lease can't be acquired")
}

func TestFinalizeOne_UnknownMappingFinalizesWithZeroCost(t *testing.T) {
	logs := newFakeLogStore(logrecord.LogRecord{
		ID:             "rec-1",
		CanonicalModel: "unknown-model",
		UsedProvider:   "openai",
	})
	locks := newFakeLockStore()
	w := New(logs, locks, testRegistry(t), nil)

	require.NoError(t, w.Tick(context.Background()))

	in := logs.finalize["rec-1"]
	assert.Equal(t, 0.0, in.Cost)
}
