// Package storage provides the persistence adapter for memory records
// (spec §6.3). Neither backing store ships a native vector index, so the
// adapter's job ends at filtered retrieval by kind/agent/domain; nearest-
// neighbor ranking over the returned candidates is done in-process by
// the ANN index in ann.go, which internal/memory composes on top.
package storage

import (
	"context"

	"github.com/cortexd/cortexd/internal/domain"
)

// Adapter is the storage seam spec §6.3 leaves free to implement against
// Postgres, SQLite, or anything else with the same shape.
type Adapter interface {
	// Store persists a new record. ID and Version are assigned by the
	// caller before Store is invoked.
	Store(ctx context.Context, rec *domain.Record) error

	// Get fetches one record by ID. Returns coreerr.ErrNotFound (wrapped)
	// when absent or soft-deleted.
	Get(ctx context.Context, id string) (*domain.Record, error)

	// Update persists rec with optimistic concurrency: the write is
	// rejected with coreerr.ErrConflict unless the stored row's Version
	// still matches expectedVersion, and the new row's Version is
	// expectedVersion+1.
	Update(ctx context.Context, rec *domain.Record, expectedVersion int64) error

	// SoftDelete marks a record deleted without removing the row, so
	// consolidation audit trails and in-flight cognitions holding a
	// reference still resolve it.
	SoftDelete(ctx context.Context, id string) error

	// Candidates returns non-deleted records matching the coarse filter
	// (kind/agent/domain) for the caller to re-rank by similarity.
	Candidates(ctx context.Context, filter CandidateFilter) ([]*domain.Record, error)

	// Stats reports per-kind counts and last activity (spec §5 metrics).
	Stats(ctx context.Context) (domain.Stats, error)

	// Close releases pooled connections.
	Close() error
}

// CandidateFilter narrows Candidates to a coarse slice of the memory store
// before in-process similarity ranking.
type CandidateFilter struct {
	Kinds   []domain.Kind
	AgentID string
	Domain  string
	// IncludeDegraded controls whether embeddings produced under the hash
	// fallback (spec §4.1) are eligible; default retrieval excludes them.
	IncludeDegraded bool
	Limit           int
}
