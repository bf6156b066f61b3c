package memory

import (
	"context"
	"math"
	"time"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/embedding"
	"github.com/cortexd/cortexd/internal/storage"
)

const (
	decayPerDay        = 0.995
	removalScoreFloor  = 0.2
	removalMinAgeDays  = 30
	mergeSimilarityMin = 0.95
	pinnedImportance   = 0.8
	pinnedUsageCount   = 10
)

// Consolidate runs the periodic decay/merge/remove pass of spec §4.1 over
// the records owned by agentID; an empty agentID applies no owner filter,
// so every agent's records are scanned together.
func (s *Service) Consolidate(ctx context.Context, agentID string) (domain.ConsolidationSummary, error) {
	var summary domain.ConsolidationSummary

	for _, kind := range []domain.Kind{domain.KindEpisodic, domain.KindSemantic, domain.KindProcedural} {
		records, err := s.ann.Candidates(ctx, storage.CandidateFilter{Kinds: []domain.Kind{kind}, AgentID: agentID, IncludeDegraded: true})
		if err != nil {
			return summary, err
		}
		summary.Scanned += len(records)

		now := time.Now()
		for _, rec := range records {
			if decayRecord(rec, now) {
				summary.Decayed++
				if err := s.storage.Update(ctx, rec, rec.Version); err != nil && !errorsIsConflict(err) {
					return summary, err
				}
			}
		}

		removed, merged := s.mergeAndRemove(ctx, records)
		summary.Merged += merged
		summary.Removed += removed
	}

	return summary, nil
}

// decayRecord applies the exponential decay of I3/§4.1 to whichever scoring
// field is meaningful for rec.Kind. Returns whether it changed anything.
func decayRecord(rec *domain.Record, now time.Time) bool {
	days := now.Sub(rec.UpdatedAt).Hours() / 24
	if days <= 0 {
		return false
	}
	factor := math.Pow(decayPerDay, days)

	switch rec.Kind {
	case domain.KindEpisodic:
		rec.Importance *= factor
	case domain.KindSemantic:
		rec.Confidence *= factor
	case domain.KindProcedural:
		rec.SuccessRate *= factor
	default:
		return false
	}
	return true
}

func scoreOf(rec *domain.Record) float64 {
	switch rec.Kind {
	case domain.KindEpisodic:
		return rec.Importance
	case domain.KindSemantic:
		return rec.Confidence
	case domain.KindProcedural:
		return rec.SuccessRate
	}
	return 0
}

func isPinned(rec *domain.Record) bool {
	return scoreOf(rec) >= pinnedImportance || rec.UsageCount >= pinnedUsageCount
}

func eligibleForRemoval(rec *domain.Record, now time.Time) bool {
	if isPinned(rec) {
		return false
	}
	age := now.Sub(rec.CreatedAt).Hours() / 24
	return scoreOf(rec) < removalScoreFloor && rec.AccessCount == 0 && age > removalMinAgeDays
}

// mergeAndRemove merges near-duplicate pairs (cosine similarity ≥ 0.95)
// within the one-kind slice Consolidate passes in, whose owners differ when
// no agentID was given, keeping the one with the larger access_count, then
// removes whatever remains eligible per I3.
func (s *Service) mergeAndRemove(ctx context.Context, records []*domain.Record) (removed, merged int) {
	now := time.Now()
	deleted := make(map[string]bool)

	for i := 0; i < len(records); i++ {
		a := records[i]
		if deleted[a.ID] {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			b := records[j]
			if deleted[b.ID] {
				continue
			}
			if embedding.Similarity(a.Embedding, b.Embedding) < mergeSimilarityMin {
				continue
			}
			keep, drop := a, b
			if b.AccessCount > a.AccessCount {
				keep, drop = b, a
			}
			keep.Contributors = unionStringSlices(keep.Contributors, drop.Contributors)
			for k, v := range drop.Metadata {
				if _, exists := keep.Metadata[k]; !exists {
					if keep.Metadata == nil {
						keep.Metadata = domain.Metadata{}
					}
					keep.Metadata[k] = v
				}
			}
			if err := s.storage.Update(ctx, keep, keep.Version); err == nil {
				if err := s.storage.SoftDelete(ctx, drop.ID); err == nil {
					deleted[drop.ID] = true
					merged++
				}
			}
			if keep.ID == b.ID {
				a = keep
			}
		}
	}

	for _, rec := range records {
		if deleted[rec.ID] {
			continue
		}
		if eligibleForRemoval(rec, now) {
			if err := s.storage.SoftDelete(ctx, rec.ID); err == nil {
				removed++
			}
		}
	}
	return removed, merged
}
