package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cortexd.db")
	adapter, err := NewSQLiteAdapter(path)
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })
	return adapter
}

func sampleRecord(id string) *domain.Record {
	now := time.Now()
	return &domain.Record{
		ID:         id,
		Kind:       domain.KindEpisodic,
		AgentID:    "agent-1",
		Content:    domain.Content{"text": "did a thing"},
		Embedding:  []float32{0.6, 0.8},
		Metadata:   domain.Metadata{"domain": "ops"},
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Importance: 0.5,
		Confidence: 0.5,
	}
}

func TestSQLiteAdapterStoreAndGet(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	rec := sampleRecord("rec-1")
	require.NoError(t, adapter.Store(ctx, rec))

	got, err := adapter.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.AgentID, got.AgentID)
	assert.Equal(t, rec.Kind, got.Kind)
	assert.Equal(t, "ops", got.Metadata["domain"])
	assert.InDelta(t, 0.6, got.Embedding[0], 1e-6)
}

func TestSQLiteAdapterGetMissingReturnsNotFound(t *testing.T) {
	adapter := newTestAdapter(t)
	_, err := adapter.Get(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSQLiteAdapterUpdateOptimisticConcurrency(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	rec := sampleRecord("rec-2")
	require.NoError(t, adapter.Store(ctx, rec))

	rec.Importance = 0.9
	require.NoError(t, adapter.Update(ctx, rec, 1))
	assert.Equal(t, int64(2), rec.Version)

	// Stale version is rejected.
	stale := sampleRecord("rec-2")
	stale.Importance = 0.1
	err := adapter.Update(ctx, stale, 1)
	assert.Error(t, err)
}

func TestSQLiteAdapterSoftDeleteExcludesFromCandidates(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	rec := sampleRecord("rec-3")
	require.NoError(t, adapter.Store(ctx, rec))
	require.NoError(t, adapter.SoftDelete(ctx, "rec-3"))

	candidates, err := adapter.Candidates(ctx, CandidateFilter{AgentID: "agent-1"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestSQLiteAdapterCandidatesFiltersByKindAndDomain(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	episodic := sampleRecord("rec-4")
	semantic := sampleRecord("rec-5")
	semantic.Kind = domain.KindSemantic
	semantic.Metadata = domain.Metadata{"domain": "billing"}

	require.NoError(t, adapter.Store(ctx, episodic))
	require.NoError(t, adapter.Store(ctx, semantic))

	got, err := adapter.Candidates(ctx, CandidateFilter{Kinds: []domain.Kind{domain.KindSemantic}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rec-5", got[0].ID)

	got, err = adapter.Candidates(ctx, CandidateFilter{Domain: "ops"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "rec-4", got[0].ID)
}

func TestSQLiteAdapterStats(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, adapter.Store(ctx, sampleRecord("rec-6")))
	require.NoError(t, adapter.Store(ctx, sampleRecord("rec-7")))

	stats, err := adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.TotalByKind[domain.KindEpisodic])
	assert.Contains(t, stats.LastActivity, "agent-1")
}
