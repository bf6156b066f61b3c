package storage

import (
	"context"
	"sort"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/embedding"
)

// ANNIndex ranks an Adapter's coarse candidate set by cosine similarity.
// Neither Postgres nor SQLite carries a native vector index in this stack,
// so "approximate" here means "exact brute force over a pre-filtered
// candidate slice" rather than a true ANN structure (e.g. HNSW) — a
// deliberate simplification for the data volumes spec §4.2 targets,
// documented in DESIGN.md.
type ANNIndex struct {
	adapter Adapter
}

func NewANNIndex(adapter Adapter) *ANNIndex {
	return &ANNIndex{adapter: adapter}
}

// Candidates passes through to the underlying adapter for callers (the
// admission controller's domain-saturation check) that need the raw
// filtered set rather than a similarity ranking.
func (a *ANNIndex) Candidates(ctx context.Context, filter CandidateFilter) ([]*domain.Record, error) {
	return a.adapter.Candidates(ctx, filter)
}

// Scored pairs a candidate record with its similarity to the query vector.
type Scored struct {
	Record *domain.Record
	Score  float64
}

// TopK returns the k candidates (matching filter) most similar to query,
// sorted by descending score, excluding any below minSimilarity.
func (a *ANNIndex) TopK(ctx context.Context, query []float32, k int, minSimilarity float64, filter CandidateFilter) ([]Scored, error) {
	candidates, err := a.adapter.Candidates(ctx, filter)
	if err != nil {
		return nil, err
	}

	scored := make([]Scored, 0, len(candidates))
	for _, rec := range candidates {
		score := embedding.Similarity(query, rec.Embedding)
		if score < minSimilarity {
			continue
		}
		scored = append(scored, Scored{Record: rec, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// MaxSimilarity is the novelty-check primitive the admission controller
// (spec §4.3) uses: the highest cosine similarity of candidate against any
// existing record, used against NoveltyMin.
func (a *ANNIndex) MaxSimilarity(ctx context.Context, candidate []float32, filter CandidateFilter) (float64, error) {
	existing, err := a.adapter.Candidates(ctx, filter)
	if err != nil {
		return 0, err
	}
	var max float64
	for _, rec := range existing {
		if s := embedding.Similarity(candidate, rec.Embedding); s > max {
			max = s
		}
	}
	return max, nil
}
