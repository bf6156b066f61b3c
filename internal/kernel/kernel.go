package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/cortexd/cortexd/internal/il"
	"github.com/cortexd/cortexd/internal/telemetry"
	"github.com/google/uuid"
)

// Config carries the budget and backpressure limits of spec §4.5/§5.
type Config struct {
	DefaultBudget time.Duration
	MaxBudget     time.Duration
	MaxPerAgent   int
	MaxTotal      int
}

// DefaultConfig mirrors §6.4's defaults: 60s budget, 10 minute ceiling, 10
// concurrent cognitions per agent, 500 total.
func DefaultConfig() Config {
	return Config{
		DefaultBudget: 60 * time.Second,
		MaxBudget:     10 * time.Minute,
		MaxPerAgent:   10,
		MaxTotal:      500,
	}
}

// Kernel evaluates IL programs. Each Submit call is evaluated synchronously
// on the caller's goroutine — that goroutine IS the cognition, per spec
// §4.5's "goroutine per cognition" model; concurrency across cognitions
// comes for free from however many goroutines call Submit concurrently
// (typically one per in-flight HTTP request).
type Kernel struct {
	planner Planner
	tools   Tools
	agents  Agents
	bus     Bus
	audit   AuditSink
	logger  telemetry.Logger
	tel     *telemetry.Telemetry
	cfg     Config

	mu       sync.Mutex
	perAgent map[string]int
	total    int
	active   map[string]*cognition
}

func New(planner Planner, tools Tools, agents Agents, bus Bus, cfg Config, opts ...Option) *Kernel {
	k := &Kernel{
		planner:  planner,
		tools:    tools,
		agents:   agents,
		bus:      bus,
		audit:    noopAudit{},
		logger:   telemetry.NoOpLogger{},
		cfg:      cfg,
		perAgent: make(map[string]int),
		active:   make(map[string]*cognition),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

type Option func(*Kernel)

func WithAudit(a AuditSink) Option                { return func(k *Kernel) { k.audit = a } }
func WithLogger(l telemetry.Logger) Option        { return func(k *Kernel) { k.logger = l } }
func WithTelemetry(t *telemetry.Telemetry) Option { return func(k *Kernel) { k.tel = t } }

// admit applies the backpressure rule of spec §5: reject if the per-agent
// concurrent count is already at the limit, or the total is.
func (k *Kernel) admit(agentID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.total >= k.cfg.MaxTotal {
		return coreerr.New("kernel.Submit", "BackpressureRejected", fmt.Errorf("%w: total concurrent cognitions at limit (%d)", coreerr.ErrBackpressureRejected, k.cfg.MaxTotal))
	}
	if k.perAgent[agentID] >= k.cfg.MaxPerAgent {
		return coreerr.New("kernel.Submit", "BackpressureRejected", fmt.Errorf("%w: agent %s at concurrent cognition limit (%d)", coreerr.ErrBackpressureRejected, agentID, k.cfg.MaxPerAgent))
	}
	k.total++
	k.perAgent[agentID]++
	return nil
}

func (k *Kernel) release(agentID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.total--
	k.perAgent[agentID]--
	if k.perAgent[agentID] <= 0 {
		delete(k.perAgent, agentID)
	}
}

func (k *Kernel) track(cog *cognition) {
	k.mu.Lock()
	k.active[cog.id] = cog
	k.mu.Unlock()
}

func (k *Kernel) untrack(id string) {
	k.mu.Lock()
	delete(k.active, id)
	k.mu.Unlock()
}

// Cancel cancels an in-flight cognition by id, if it is still running.
// Reports whether a matching cognition was found.
func (k *Kernel) Cancel(id string) bool {
	k.mu.Lock()
	cog, ok := k.active[id]
	k.mu.Unlock()
	if !ok {
		return false
	}
	cog.cancelNow()
	return true
}

// CancelAgent cancels every in-flight cognition owned by agentID, used by
// internal/api when internal/agents deregisters that agent (spec §4.8:
// "deregister_agent... cancels that agent's in-flight cognitions"). It
// reports how many cognitions were cancelled.
func (k *Kernel) CancelAgent(agentID string) int {
	k.mu.Lock()
	var targets []*cognition
	for _, cog := range k.active {
		if cog.agentID == agentID {
			targets = append(targets, cog)
		}
	}
	k.mu.Unlock()

	for _, cog := range targets {
		cog.cancelNow()
	}
	return len(targets)
}

// Status reports the current in-flight status of a still-running
// cognition, for progress polling (spec §6.1 streaming channel); it does
// not see terminal states, which are only available via the AuditSink.
func (k *Kernel) Status(id string) (domain.CognitionStatus, bool) {
	k.mu.Lock()
	cog, ok := k.active[id]
	k.mu.Unlock()
	if !ok {
		return "", false
	}
	return cog.currentStatus(), true
}

// Submit parses and evaluates source as one cognition (spec §4.5). A
// non-nil error means the cognition could not even be admitted (parse
// failure or backpressure); once admitted, every other failure mode is
// reported inside the returned domain.Cognition instead, matching the
// "status: success|clarify|error" shape of POST /cognitions (spec §6.1).
func (k *Kernel) Submit(ctx context.Context, agentID, source string, budget time.Duration) (domain.Cognition, error) {
	ast, err := il.Parse(source)
	if err != nil {
		return domain.Cognition{}, coreerr.New("kernel.Submit", "ParseError", fmt.Errorf("%w: %v", coreerr.ErrParse, err))
	}

	if err := k.admit(agentID); err != nil {
		return domain.Cognition{}, err
	}
	defer k.release(agentID)

	if budget <= 0 {
		budget = k.cfg.DefaultBudget
	}
	if budget > k.cfg.MaxBudget {
		budget = k.cfg.MaxBudget
	}
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	id := uuid.NewString()
	cog := newCognition(id, agentID, source, cancel)
	k.track(cog)
	defer k.untrack(id)

	cog.setStatus(domain.CognitionRunning)
	ev := &evaluator{kernel: k, cog: cog}
	start := time.Now()
	result, evalErr := ev.eval(cctx, ast, domain.NewScope(nil))

	rec := cog.toDomain(result, evalErr, start)
	k.audit.Record(ctx, rec)
	return rec, nil
}
