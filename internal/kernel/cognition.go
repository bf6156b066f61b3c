package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
)

// cognition is the in-flight, goroutine-owned state of one submitted
// instruction (spec §4.5's state machine: Parsed → Ready → Running →
// (Suspended ↔ Running)* → Done{Success|Failure|Cancelled}). The calling
// goroutine IS the cognition's goroutine — there is no separate scheduler —
// so "suspended" is represented implicitly by that goroutine blocking on an
// I/O call, not by an explicit state transition here.
type cognition struct {
	id          string
	agentID     string
	source      string
	submittedAt time.Time

	mu              sync.Mutex
	status          domain.CognitionStatus
	memoriesRead    int
	memoriesWritten int

	cancel context.CancelFunc
}

func newCognition(id, agentID, source string, cancel context.CancelFunc) *cognition {
	return &cognition{
		id:          id,
		agentID:     agentID,
		source:      source,
		submittedAt: time.Now(),
		status:      domain.CognitionParsed,
		cancel:      cancel,
	}
}

func (c *cognition) setStatus(s domain.CognitionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *cognition) currentStatus() domain.CognitionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *cognition) addRead(n int) {
	c.mu.Lock()
	c.memoriesRead += n
	c.mu.Unlock()
}

func (c *cognition) addWritten(n int) {
	c.mu.Lock()
	c.memoriesWritten += n
	c.mu.Unlock()
}

// cancelNow implements the external Cancel operation: it is observed at the
// cognition's next suspension point or between AST nodes, per spec §4.5.
func (c *cognition) cancelNow() {
	c.cancel()
}

// toDomain renders the finished cognition into the audit-log shape,
// classifying the terminal status and error kind per spec §7.
func (c *cognition) toDomain(result interface{}, evalErr error, start time.Time) domain.Cognition {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	rec := domain.Cognition{
		CognitionID:     c.id,
		AgentID:         c.agentID,
		Source:          c.source,
		SubmittedAt:     c.submittedAt,
		CompletedAt:     &now,
		Duration:        now.Sub(start),
		MemoriesRead:    c.memoriesRead,
		MemoriesWritten: c.memoriesWritten,
	}

	switch {
	case evalErr != nil && coreerr.Kind(evalErr) == "Cancelled":
		rec.Status = domain.CognitionCancelled
		rec.ErrorKind = "Cancelled"
		rec.ErrorMessage = evalErr.Error()
	case evalErr != nil:
		rec.Status = domain.CognitionError
		rec.ErrorKind = coreerr.Kind(evalErr)
		rec.ErrorMessage = evalErr.Error()
	default:
		if _, ok := result.(domain.ClarifyResponse); ok {
			rec.Status = domain.CognitionClarify
		} else {
			rec.Status = domain.CognitionSuccess
		}
		rec.Result = result
	}
	return rec
}
