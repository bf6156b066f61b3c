// Package planner implements the Query Planner of spec §4.6: it turns an
// intent plus optional metadata into one or more retrieval stages against
// internal/memory, shaping the result according to the requested mode
// (standard/explore/connect) rather than returning memory's raw ranking.
package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
)

// Retriever is the seam into internal/memory that the planner consumes,
// rather than importing memory.Service directly — the same interface-seam
// composition used by internal/kernel for its own dependencies.
type Retriever interface {
	Retrieve(ctx context.Context, query domain.Query) ([]domain.Hit, error)
}

const (
	modeStandard = "standard"
	modeExplore  = "explore"
	modeConnect  = "connect"

	defaultTopK     = 10
	exploreSample   = 3
	connectTopM     = 3
	connectMaxDepth = 1 // one follow-up hop per the spec's "top-m hits" wording
)

// Planner dispatches QUERY intents to the retrieval mode named by
// meta["mode"] (default "standard").
type Planner struct {
	memory Retriever
}

func New(memory Retriever) *Planner {
	return &Planner{memory: memory}
}

// Query implements kernel.Planner.
func (p *Planner) Query(ctx context.Context, agentID, intent string, meta map[string]interface{}) ([]domain.Hit, error) {
	q, mode, err := buildQuery(agentID, intent, meta)
	if err != nil {
		return nil, err
	}

	switch mode {
	case modeStandard:
		return p.standard(ctx, q)
	case modeExplore:
		return p.explore(ctx, q)
	case modeConnect:
		return p.connect(ctx, q)
	default:
		return nil, coreerr.New("planner.Query", "ArgumentError", fmt.Errorf("%w: unknown retrieval mode %q", coreerr.ErrArgument, mode))
	}
}

// buildQuery translates QUERY's loosely-typed metadata map into a
// domain.Query, applying the defaults spec §4.6 names.
func buildQuery(agentID, intent string, meta map[string]interface{}) (domain.Query, string, error) {
	q := domain.Query{
		Text:          intent,
		AgentID:       agentID,
		K:             defaultTopK,
		MinSimilarity: 0,
	}
	mode := modeStandard

	if meta == nil {
		return q, mode, nil
	}
	if m, ok := meta["mode"].(string); ok && m != "" {
		mode = m
	}
	if k, ok := numeric(meta["k"]); ok {
		q.K = int(k)
	}
	if min, ok := numeric(meta["min_similarity"]); ok {
		q.MinSimilarity = min
	}
	if d, ok := meta["domain"].(string); ok {
		q.Domain = d
	}
	if kindsVal, ok := meta["kinds"]; ok {
		kinds, err := parseKinds(kindsVal)
		if err != nil {
			return domain.Query{}, "", err
		}
		q.Kinds = kinds
	}
	return q, mode, nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func parseKinds(v interface{}) ([]domain.Kind, error) {
	switch raw := v.(type) {
	case string:
		return splitKinds(raw)
	case []string:
		out := make([]domain.Kind, 0, len(raw))
		for _, s := range raw {
			out = append(out, domain.Kind(s))
		}
		return out, nil
	default:
		return nil, coreerr.New("planner.Query", "ArgumentError", fmt.Errorf("%w: kinds metadata must be a string or string list", coreerr.ErrArgument))
	}
}

func splitKinds(raw string) ([]domain.Kind, error) {
	parts := strings.Split(raw, ",")
	out := make([]domain.Kind, 0, len(parts))
	for _, part := range parts {
		k := domain.Kind(strings.TrimSpace(part))
		if !k.Valid() {
			return nil, coreerr.New("planner.Query", "ArgumentError", fmt.Errorf("%w: unknown memory kind %q", coreerr.ErrArgument, k))
		}
		out = append(out, k)
	}
	return out, nil
}

// standard is the one-stage retrieval of spec §4.6: embed the intent,
// search, rank with the full tie-break order (the storage layer only
// sorts by raw similarity; the planner owns the rest of the ordering).
func (p *Planner) standard(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	hits, err := p.memory.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	rank(hits)
	return hits, nil
}

// explore clusters the standard result set by domain and samples a few
// hits per cluster, trading a ranked list for a faceted one (spec §4.6).
func (p *Planner) explore(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	hits, err := p.standard(ctx, q)
	if err != nil {
		return nil, err
	}

	byCluster := map[string][]domain.Hit{}
	var order []string
	for _, h := range hits {
		cluster := clusterOf(h)
		if _, seen := byCluster[cluster]; !seen {
			order = append(order, cluster)
		}
		byCluster[cluster] = append(byCluster[cluster], h)
	}

	faceted := make([]domain.Hit, 0, len(hits))
	for _, cluster := range order {
		bucket := byCluster[cluster]
		n := exploreSample
		if n > len(bucket) {
			n = len(bucket)
		}
		for _, h := range bucket[:n] {
			h.Cluster = cluster
			faceted = append(faceted, h)
		}
	}
	return faceted, nil
}

func clusterOf(h domain.Hit) string {
	if h.Record == nil {
		return ""
	}
	if d, ok := h.Record.Content[domain.FieldDomain].(string); ok && d != "" {
		return d
	}
	return "unclustered"
}

// connect performs the path-finding expansion of spec §4.6: for the top-m
// hits of the standard retrieval, issue a follow-up query built from that
// hit's concept/skill_name plus the original intent's keywords, and return
// the union tagged by path depth.
func (p *Planner) connect(ctx context.Context, q domain.Query) ([]domain.Hit, error) {
	base, err := p.standard(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range base {
		base[i].PathDepth = 0
	}

	seen := make(map[string]bool, len(base))
	for _, h := range base {
		if h.Record != nil {
			seen[h.Record.ID] = true
		}
	}

	m := connectTopM
	if m > len(base) {
		m = len(base)
	}

	result := append([]domain.Hit{}, base...)
	for _, h := range base[:m] {
		followUp := followUpText(h, q.Text)
		if followUp == "" {
			continue
		}
		fq := q
		fq.Text = followUp
		hits, err := p.memory.Retrieve(ctx, fq)
		if err != nil {
			return nil, err
		}
		rank(hits)
		for _, fh := range hits {
			if fh.Record == nil || seen[fh.Record.ID] {
				continue
			}
			seen[fh.Record.ID] = true
			fh.PathDepth = connectMaxDepth
			result = append(result, fh)
		}
	}
	return result, nil
}

// followUpText builds the query text for a connect-mode follow-up: the
// hit's concept or skill_name (whichever is set), plus the original
// intent's keywords.
func followUpText(h domain.Hit, intent string) string {
	if h.Record == nil {
		return ""
	}
	anchor, _ := h.Record.Content[domain.FieldConcept].(string)
	if anchor == "" {
		anchor, _ = h.Record.Content[domain.FieldSkillName].(string)
	}
	if anchor == "" {
		return intent
	}
	if intent == "" {
		return anchor
	}
	return anchor + " " + intent
}

// rank applies spec §4.6's tie-break order in place: higher similarity
// first; within 0.01 similarity, higher importance/confidence/success_rate
// first; within that, more recent updated_at first; within that, lower id.
func rank(hits []domain.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if d := a.Score - b.Score; absf(d) > 0.01 {
			return a.Score > b.Score
		}
		if d := scoreField(a) - scoreField(b); d != 0 {
			return scoreField(a) > scoreField(b)
		}
		at, bt := updatedAt(a), updatedAt(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return idOf(a) < idOf(b)
	})
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func scoreField(h domain.Hit) float64 {
	if h.Record == nil {
		return 0
	}
	switch h.Record.Kind {
	case domain.KindEpisodic:
		return h.Record.Importance
	case domain.KindSemantic:
		return h.Record.Confidence
	case domain.KindProcedural:
		return h.Record.SuccessRate
	default:
		return 0
	}
}

func updatedAt(h domain.Hit) time.Time {
	if h.Record == nil {
		return time.Time{}
	}
	return h.Record.UpdatedAt
}

func idOf(h domain.Hit) string {
	if h.Record == nil {
		return ""
	}
	return h.Record.ID
}
