package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/embedding"
	"github.com/cortexd/cortexd/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	adapter, err := storage.NewSQLiteAdapter(filepath.Join(t.TempDir(), "cortexd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { adapter.Close() })

	embeddings := embedding.NewService(embedding.NewHashProvider(16), 1000, time.Hour)
	cfg := Config{NoveltyMin: 0.15, DomainSaturation: 0.80, ScoreFloor: 0.05}
	return NewService(adapter, embeddings, cfg)
}

func episodicRequest(sessionID string) domain.StoreRequest {
	return domain.StoreRequest{
		Kind:    domain.KindEpisodic,
		AgentID: "agent-1",
		Content: domain.Content{
			domain.FieldSessionID: sessionID,
			domain.FieldContext:   map[string]interface{}{"note": sessionID},
			"importance":          0.6,
		},
	}
}

func TestServiceStoreAndGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	outcome, err := svc.Store(ctx, episodicRequest("sess-1"))
	require.NoError(t, err)
	require.Empty(t, outcome.Rejected)
	require.NotEmpty(t, outcome.ID)

	rec, err := svc.Get(ctx, outcome.ID)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", rec.AgentID)
	assert.Equal(t, 0.6, rec.Importance)
}

func TestServiceStoreRejectsMissingRequiredField(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Store(context.Background(), domain.StoreRequest{
		Kind:    domain.KindEpisodic,
		Content: domain.Content{domain.FieldSessionID: "sess-1"}, // missing context
	})
	assert.Error(t, err)
}

func TestServiceStoreRejectsBelowFloor(t *testing.T) {
	svc := newTestService(t)
	req := episodicRequest("sess-2")
	req.Content["importance"] = 0.01

	outcome, err := svc.Store(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.RejectBelowFloor, outcome.Rejected)
}

func TestServiceSemanticMergeOnDuplicateKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first := domain.StoreRequest{
		Kind:    domain.KindSemantic,
		AgentID: "agent-1",
		Content: domain.Content{
			domain.FieldConcept:    "retry-budget",
			domain.FieldDefinition: "a cap on retry attempts",
			domain.FieldDomain:     "reliability",
			domain.FieldRelations:  map[string]interface{}{},
			"confidence":           0.6,
		},
	}
	out1, err := svc.Store(ctx, first)
	require.NoError(t, err)
	require.NotEmpty(t, out1.ID)

	second := first
	second.AgentID = "agent-2"
	second.Content = domain.Content{
		domain.FieldConcept:    "retry-budget",
		domain.FieldDefinition: "a cap on retry attempts",
		domain.FieldDomain:     "reliability",
		domain.FieldRelations:  map[string]interface{}{},
		"confidence":           0.8,
	}
	out2, err := svc.Store(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, out1.ID, out2.ID)

	rec, err := svc.Get(ctx, out1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.SourceCount)
	assert.Contains(t, rec.Contributors, "agent-1")
	assert.Contains(t, rec.Contributors, "agent-2")
}

func TestServiceRetrieveFailsOnEmptyQuery(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Retrieve(context.Background(), domain.Query{})
	assert.Error(t, err)
}

func TestServiceRetrieveReturnsStoredRecords(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, episodicRequest("alpha"))
	require.NoError(t, err)
	_, err = svc.Store(ctx, episodicRequest("beta"))
	require.NoError(t, err)

	hits, err := svc.Retrieve(ctx, domain.Query{Text: "alpha", Kinds: []domain.Kind{domain.KindEpisodic}, K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
}

func TestServiceDeleteExcludesFromGet(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	outcome, err := svc.Store(ctx, episodicRequest("gamma"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, outcome.ID))

	_, err = svc.Get(ctx, outcome.ID)
	assert.Error(t, err)
}

func TestServiceConsolidateDecaysAndReports(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, episodicRequest("delta"))
	require.NoError(t, err)

	summary, err := svc.Consolidate(ctx, "agent-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, summary.Scanned, 1)
}
