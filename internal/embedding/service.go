package embedding

import (
	"context"
	"time"

	"github.com/cortexd/cortexd/internal/telemetry"
)

// Service is the embedding/similarity façade the rest of cortexd depends
// on (spec §4.2). It layers an in-process LRU, an optional Redis L2 cache,
// the real Provider, and the deterministic HashProvider fallback together.
type Service struct {
	provider Provider
	fallback *HashProvider
	l1       *LRUCache
	l2       *RedisCache // optional, may be nil
	logger   telemetry.Logger
	telemetry *telemetry.Telemetry
	retryOnce bool
}

// Option configures a Service at construction time.
type Option func(*Service)

func WithRedisL2(cache *RedisCache) Option {
	return func(s *Service) { s.l2 = cache }
}

func WithLogger(l telemetry.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Service) { s.telemetry = t }
}

func NewService(provider Provider, cacheSize int, cacheTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		provider:  provider,
		fallback:  NewHashProvider(provider.Dim()),
		l1:        NewLRUCache(cacheSize, cacheTTL),
		logger:    telemetry.NoOpLogger{},
		retryOnce: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result carries whether the embedding came from the degraded fallback, so
// callers (internal/memory) can mark the resulting record Degraded=true and
// exclude it from default retrieval per spec §4.1.
type Result struct {
	Vector   []float32
	Degraded bool
}

// Embed is idempotent for identical input (L3): a cache hit at either tier
// returns the exact vector previously computed.
func (s *Service) Embed(ctx context.Context, text string) (Result, error) {
	key := HashKey(text)

	if vec, ok := s.l1.Get(key); ok {
		return Result{Vector: vec}, nil
	}
	if s.l2 != nil {
		if vec, ok := s.l2.Get(ctx, key); ok {
			s.l1.Put(key, vec)
			return Result{Vector: vec}, nil
		}
	}

	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding provider failed, retrying once", map[string]interface{}{"error": err.Error()})
		vec, err = s.provider.Embed(ctx, text)
	}
	if err != nil {
		s.logger.Error("embedding provider failed after retry, using degraded hash fallback", map[string]interface{}{"error": err.Error()})
		vec, _ = s.fallback.Embed(ctx, text)
		// Degraded vectors are not cached: a subsequent recovery of the real
		// provider should produce the canonical embedding on next lookup.
		return Result{Vector: vec, Degraded: true}, nil
	}

	vec = Normalize(vec)
	s.l1.Put(key, vec)
	if s.l2 != nil {
		s.l2.Put(ctx, key, vec)
	}
	return Result{Vector: vec}, nil
}

// EmbedBatch embeds up to 32 texts (spec §4.2) preserving input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	const maxBatch = 32
	out := make([]Result, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := start + maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		for _, t := range texts[start:end] {
			r, err := s.Embed(ctx, t)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Service) Dim() int {
	return s.provider.Dim()
}
