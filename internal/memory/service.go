// Package memory implements the typed, similarity-searchable memory
// subsystem of spec §4.1: validated store with admission control,
// embedding-ranked retrieve, get/update/delete, and periodic consolidation.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/embedding"
	"github.com/cortexd/cortexd/internal/storage"
	"github.com/cortexd/cortexd/internal/telemetry"
	"github.com/google/uuid"
)

// EventPublisher is the seam memory uses to emit memory.stored/memory.evicted
// notifications (spec §6.5) without importing internal/bus directly.
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.Event) {}

// Config carries the admission and consolidation thresholds (spec §6.4).
type Config struct {
	NoveltyMin       float64
	DomainSaturation float64
	ScoreFloor       float64
}

// Service is the memory subsystem façade consumed by internal/kernel's
// QUERY/EXECUTE evaluation and internal/api's REST handlers.
type Service struct {
	storage    storage.Adapter
	ann        *storage.ANNIndex
	embeddings *embedding.Service
	admission  *admissionController
	events     EventPublisher
	logger     telemetry.Logger
	telemetry  *telemetry.Telemetry
}

func NewService(adapter storage.Adapter, embeddings *embedding.Service, cfg Config, opts ...Option) *Service {
	ann := storage.NewANNIndex(adapter)
	s := &Service{
		storage:    adapter,
		ann:        ann,
		embeddings: embeddings,
		admission:  newAdmissionController(ann, cfg.NoveltyMin, cfg.DomainSaturation, cfg.ScoreFloor),
		events:     noopPublisher{},
		logger:     telemetry.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*Service)

func WithEventPublisher(p EventPublisher) Option  { return func(s *Service) { s.events = p } }
func WithLogger(l telemetry.Logger) Option        { return func(s *Service) { s.logger = l } }
func WithTelemetry(t *telemetry.Telemetry) Option { return func(s *Service) { s.telemetry = t } }

// StoreOutcome is the result of Store: either a new record id, or an
// admission rejection reason (not an error, spec §4.1).
type StoreOutcome struct {
	ID       string
	Rejected domain.AdmissionRejection
}

func scoreField(kind domain.Kind, req domain.StoreRequest) float64 {
	switch kind {
	case domain.KindEpisodic:
		if v, ok := req.Content["importance"].(float64); ok {
			return v
		}
	case domain.KindSemantic:
		if v, ok := req.Content["confidence"].(float64); ok {
			return v
		}
	case domain.KindProcedural:
		if v, ok := req.Content["success_rate"].(float64); ok {
			return v
		}
	}
	return domain.DefaultScore(kind)
}

// Store validates, embeds, runs admission control, and — on accept —
// persists or merges the record (spec §4.1, §3.1's uniqueness constraints).
func (s *Service) Store(ctx context.Context, req domain.StoreRequest) (StoreOutcome, error) {
	if err := validateContent(req.Kind, req.Content); err != nil {
		return StoreOutcome{}, err
	}
	if err := validateMetadataSize(req.Metadata); err != nil {
		return StoreOutcome{}, err
	}

	score := scoreField(req.Kind, req)

	// Uniqueness-constrained kinds merge unconditionally on a key match
	// (spec §3.1); admission control never gets a vote on a genuine
	// duplicate, since there is nothing novel being rejected — it's the
	// same fact gaining another contributor.
	if dup := s.findMergeCandidate(ctx, req); dup != nil {
		if err := s.mergeInto(ctx, dup, req, score); err != nil {
			return StoreOutcome{}, err
		}
		return StoreOutcome{ID: dup.ID}, nil
	}

	projection := canonicalProjection(req.Kind, req.Content)
	embedResult, err := s.embeddings.Embed(ctx, projection)
	if err != nil {
		return StoreOutcome{}, coreerr.New("memory.Store", "EmbeddingUnavailable", fmt.Errorf("%w: %v", coreerr.ErrEmbeddingUnavailable, err))
	}

	domainName, _ := req.Content[domain.FieldDomain].(string)

	rejection, err := s.admission.decide(ctx, req.Kind, req.AgentID, domainName, embedResult.Vector, score)
	if err != nil {
		return StoreOutcome{}, coreerr.New("memory.Store", "StorageUnavailable", fmt.Errorf("%w: %v", coreerr.ErrStorageUnavailable, err))
	}
	if rejection != "" {
		return StoreOutcome{Rejected: rejection}, nil
	}

	metadata := req.Metadata
	if domainName != "" {
		// domain lives in Content for semantic/procedural records (it's a
		// required content field), but admission's saturation signal and
		// the storage adapters' domain filter both read it off Metadata —
		// project it there at store time so both see it.
		if metadata == nil {
			metadata = domain.Metadata{}
		}
		metadata[domain.FieldDomain] = domainName
	}

	now := time.Now()
	rec := &domain.Record{
		ID:           uuid.New().String(),
		Kind:         req.Kind,
		AgentID:      req.AgentID,
		Content:      req.Content,
		Embedding:    embedResult.Vector,
		Degraded:     embedResult.Degraded,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
		Contributors: unionStrings(nil, req.AgentID),
		SourceCount:  1,
	}
	setScore(rec, req.Kind, score)

	if err := s.storage.Store(ctx, rec); err != nil {
		return StoreOutcome{}, coreerr.New("memory.Store", "StorageUnavailable", fmt.Errorf("%w: %v", coreerr.ErrStorageUnavailable, err))
	}

	s.events.Publish(ctx, domain.Event{Type: "memory.stored", Source: "memory", Payload: map[string]interface{}{"id": rec.ID, "kind": string(rec.Kind)}, Published: now})
	return StoreOutcome{ID: rec.ID}, nil
}

func setScore(rec *domain.Record, kind domain.Kind, score float64) {
	switch kind {
	case domain.KindEpisodic:
		rec.Importance = score
	case domain.KindSemantic:
		rec.Confidence = score
	case domain.KindProcedural:
		rec.SuccessRate = score
	}
}

func (s *Service) findMergeCandidate(ctx context.Context, req domain.StoreRequest) *domain.Record {
	if _, ok := uniquenessKey(req.Kind, req.Content); !ok {
		return nil
	}
	// (concept, domain) and (skill_name, domain) uniqueness is global, not
	// per-agent (spec §3.1: semantic/procedural records are ownerless), so
	// the search spans every agent's records of this kind.
	candidates, err := s.ann.Candidates(ctx, storage.CandidateFilter{Kinds: []domain.Kind{req.Kind}, IncludeDegraded: true})
	if err != nil {
		return nil
	}
	return findDuplicate(req.Kind, req.Content, candidates)
}

// mergeInto folds an incoming store request into an existing record,
// retrying once on an optimistic-concurrency conflict (spec §4.1: "last
// writer loses its id, caller receives the surviving id").
func (s *Service) mergeInto(ctx context.Context, existing *domain.Record, req domain.StoreRequest, score float64) error {
	for attempt := 0; attempt < 2; attempt++ {
		version := existing.Version
		switch req.Kind {
		case domain.KindSemantic:
			mergeSemantic(existing, req.Content, req.AgentID, score)
		case domain.KindProcedural:
			usage, _ := req.Content["usage_count"].(int64)
			mergeProcedural(existing, req.Content, req.AgentID, score, usage)
		}
		existing.UpdatedAt = time.Now()

		err := s.storage.Update(ctx, existing, version)
		if err == nil {
			return nil
		}
		if !errorsIsConflict(err) {
			return coreerr.New("memory.Store", "StorageUnavailable", fmt.Errorf("%w: %v", coreerr.ErrStorageUnavailable, err))
		}
		refreshed, getErr := s.storage.Get(ctx, existing.ID)
		if getErr != nil {
			return coreerr.New("memory.Store", "StorageUnavailable", fmt.Errorf("%w: %v", coreerr.ErrStorageUnavailable, getErr))
		}
		existing = refreshed
	}
	return coreerr.New("memory.Store", "StorageUnavailable", fmt.Errorf("%w: merge conflict not resolved after retry", coreerr.ErrStorageUnavailable))
}

// Retrieve ranks existing records by similarity to query.Text (spec §4.1).
// Mode-specific result shaping (explore clustering, connect path-following)
// lives in internal/planner, which calls Retrieve for its base candidate set.
func (s *Service) Retrieve(ctx context.Context, query domain.Query) ([]domain.Hit, error) {
	if query.Text == "" && len(query.Kinds) == 0 && query.AgentID == "" && query.Domain == "" {
		return nil, coreerr.New("memory.Retrieve", "EmptyQuery", coreerr.ErrEmptyQuery)
	}

	filter := storage.CandidateFilter{
		Kinds:           query.Kinds,
		AgentID:         query.AgentID,
		Domain:          query.Domain,
		IncludeDegraded: query.AllowDegraded,
	}

	k := query.K
	if k <= 0 {
		k = 10
	}

	var queryVec []float32
	if query.Text != "" {
		result, err := s.embeddings.Embed(ctx, query.Text)
		if err != nil {
			return nil, coreerr.New("memory.Retrieve", "EmbeddingUnavailable", fmt.Errorf("%w: %v", coreerr.ErrEmbeddingUnavailable, err))
		}
		queryVec = result.Vector
	}

	var scored []storage.Scored
	var err error
	if queryVec != nil {
		scored, err = s.ann.TopK(ctx, queryVec, k, query.MinSimilarity, filter)
	} else {
		candidates, cErr := s.ann.Candidates(ctx, filter)
		err = cErr
		for _, rec := range candidates {
			scored = append(scored, storage.Scored{Record: rec, Score: 0})
		}
		if len(scored) > k {
			scored = scored[:k]
		}
	}
	if err != nil {
		return nil, coreerr.New("memory.Retrieve", "StorageUnavailable", fmt.Errorf("%w: %v", coreerr.ErrStorageUnavailable, err))
	}

	now := time.Now()
	hits := make([]domain.Hit, 0, len(scored))
	for _, sc := range scored {
		expectedVersion := sc.Record.Version
		sc.Record.Touch(now)
		// Best-effort: a concurrent writer losing this race just means the
		// access_count bump is missed once, not a retrieval failure.
		_ = s.storage.Update(ctx, sc.Record, expectedVersion)
		hits = append(hits, domain.Hit{Record: sc.Record, Score: sc.Score})
	}
	return hits, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Record, error) {
	rec, err := s.storage.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies patch fields to an existing record under optimistic
// concurrency, re-embedding if content changed.
func (s *Service) Update(ctx context.Context, id string, patch domain.Content) error {
	rec, err := s.storage.Get(ctx, id)
	if err != nil {
		return err
	}
	for k, v := range patch {
		rec.Content[k] = v
	}
	if err := validateContent(rec.Kind, rec.Content); err != nil {
		return err
	}

	projection := canonicalProjection(rec.Kind, rec.Content)
	embedResult, err := s.embeddings.Embed(ctx, projection)
	if err != nil {
		return coreerr.New("memory.Update", "EmbeddingUnavailable", fmt.Errorf("%w: %v", coreerr.ErrEmbeddingUnavailable, err))
	}
	rec.Embedding = embedResult.Vector
	rec.Degraded = embedResult.Degraded
	rec.UpdatedAt = time.Now()

	if err := s.storage.Update(ctx, rec, rec.Version); err != nil {
		return coreerr.New("memory.Update", "StorageUnavailable", fmt.Errorf("%w: %v", coreerr.ErrStorageUnavailable, err))
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.storage.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.events.Publish(ctx, domain.Event{Type: "memory.evicted", Source: "memory", Payload: map[string]interface{}{"id": id}, Published: time.Now()})
	return nil
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	return s.storage.Stats(ctx)
}

func errorsIsConflict(err error) bool {
	return errors.Is(err, coreerr.ErrConflict)
}
