package planner

import (
	"context"
	"testing"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetriever struct {
	byText map[string][]domain.Hit
	calls  []domain.Query
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	f.calls = append(f.calls, q)
	return f.byText[q.Text], nil
}

func rec(id, domainName string, score float64) domain.Hit {
	return domain.Hit{
		Record: &domain.Record{
			ID:        id,
			Kind:      domain.KindSemantic,
			Content:   domain.Content{domain.FieldDomain: domainName},
			UpdatedAt: time.Now(),
		},
		Score: score,
	}
}

func TestPlannerStandardDefaultsToTopTen(t *testing.T) {
	ret := &fakeRetriever{byText: map[string][]domain.Hit{
		"what happened": {rec("a", "d1", 0.9), rec("b", "d1", 0.95)},
	}}
	p := New(ret)

	hits, err := p.Query(context.Background(), "agent-1", "what happened", nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// higher similarity first
	assert.Equal(t, "b", hits[0].Record.ID)
	assert.Equal(t, "a", hits[1].Record.ID)

	require.Len(t, ret.calls, 1)
	assert.Equal(t, 10, ret.calls[0].K)
	assert.Equal(t, "agent-1", ret.calls[0].AgentID)
}

func TestPlannerStandardAppliesMetadataOverrides(t *testing.T) {
	ret := &fakeRetriever{byText: map[string][]domain.Hit{"q": {}}}
	p := New(ret)

	_, err := p.Query(context.Background(), "agent-1", "q", map[string]interface{}{
		"k":              float64(3),
		"min_similarity": float64(0.4),
		"domain":         "reliability",
		"kinds":          "semantic,procedural",
	})
	require.NoError(t, err)

	require.Len(t, ret.calls, 1)
	q := ret.calls[0]
	assert.Equal(t, 3, q.K)
	assert.Equal(t, 0.4, q.MinSimilarity)
	assert.Equal(t, "reliability", q.Domain)
	assert.Equal(t, []domain.Kind{domain.KindSemantic, domain.KindProcedural}, q.Kinds)
}

func TestPlannerRejectsUnknownKind(t *testing.T) {
	p := New(&fakeRetriever{})
	_, err := p.Query(context.Background(), "agent-1", "q", map[string]interface{}{"kinds": "not-a-kind"})
	assert.Error(t, err)
}

func TestPlannerTieBreaksByImportanceThenRecencyThenID(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	h1 := domain.Hit{Record: &domain.Record{ID: "z", Kind: domain.KindEpisodic, Importance: 0.5, UpdatedAt: older}, Score: 0.80}
	h2 := domain.Hit{Record: &domain.Record{ID: "a", Kind: domain.KindEpisodic, Importance: 0.9, UpdatedAt: older}, Score: 0.805}
	h3 := domain.Hit{Record: &domain.Record{ID: "b", Kind: domain.KindEpisodic, Importance: 0.9, UpdatedAt: newer}, Score: 0.805}

	ret := &fakeRetriever{byText: map[string][]domain.Hit{"q": {h1, h2, h3}}}
	p := New(ret)

	hits, err := p.Query(context.Background(), "agent-1", "q", nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	// h2 and h3 are within 0.01 similarity of h1 and of each other, so the
	// tie-break chain decides: importance 0.9 beats 0.5, then recency
	// decides between h2 and h3.
	assert.Equal(t, "b", hits[0].Record.ID)
	assert.Equal(t, "a", hits[1].Record.ID)
	assert.Equal(t, "z", hits[2].Record.ID)
}

func TestPlannerExploreFacetsByDomainAndSamples(t *testing.T) {
	hits := []domain.Hit{
		rec("1", "cooking", 0.9),
		rec("2", "cooking", 0.89),
		rec("3", "cooking", 0.88),
		rec("4", "cooking", 0.87), // 4th in its cluster, should be dropped
		rec("5", "finance", 0.70),
	}
	ret := &fakeRetriever{byText: map[string][]domain.Hit{"q": hits}}
	p := New(ret)

	out, err := p.Query(context.Background(), "agent-1", "q", map[string]interface{}{"mode": "explore"})
	require.NoError(t, err)

	byCluster := map[string]int{}
	for _, h := range out {
		byCluster[h.Cluster]++
	}
	assert.Equal(t, 3, byCluster["cooking"])
	assert.Equal(t, 1, byCluster["finance"])
}

func TestPlannerConnectIssuesFollowUpQueriesAndTagsDepth(t *testing.T) {
	base := domain.Hit{
		Record: &domain.Record{ID: "base-1", Kind: domain.KindSemantic, Content: domain.Content{domain.FieldConcept: "retry-budget", domain.FieldDomain: "reliability"}, UpdatedAt: time.Now()},
		Score:  0.9,
	}
	followUp := domain.Hit{
		Record: &domain.Record{ID: "follow-1", Kind: domain.KindSemantic, UpdatedAt: time.Now()},
		Score:  0.5,
	}
	ret := &fakeRetriever{byText: map[string][]domain.Hit{
		"intent":              {base},
		"retry-budget intent": {followUp},
	}}
	p := New(ret)

	out, err := p.Query(context.Background(), "agent-1", "intent", map[string]interface{}{"mode": "connect"})
	require.NoError(t, err)

	var baseSeen, followSeen bool
	for _, h := range out {
		switch h.Record.ID {
		case "base-1":
			baseSeen = true
			assert.Equal(t, 0, h.PathDepth)
		case "follow-1":
			followSeen = true
			assert.Equal(t, 1, h.PathDepth)
		}
	}
	assert.True(t, baseSeen)
	assert.True(t, followSeen)
}

func TestPlannerConnectDoesNotDuplicateAlreadySeenRecords(t *testing.T) {
	base := domain.Hit{
		Record: &domain.Record{ID: "base-1", Kind: domain.KindSemantic, Content: domain.Content{domain.FieldConcept: "x"}, UpdatedAt: time.Now()},
		Score:  0.9,
	}
	ret := &fakeRetriever{byText: map[string][]domain.Hit{
		"intent":   {base},
		"x intent": {base}, // follow-up re-surfaces the same record
	}}
	p := New(ret)

	out, err := p.Query(context.Background(), "agent-1", "intent", map[string]interface{}{"mode": "connect"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestPlannerUnknownModeIsArgumentError(t *testing.T) {
	p := New(&fakeRetriever{})
	_, err := p.Query(context.Background(), "agent-1", "q", map[string]interface{}{"mode": "bogus"})
	assert.Error(t, err)
}
