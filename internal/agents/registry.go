// Package agents implements the agent registry half of spec §4.8:
// register/deregister, the per-agent bounded inbox, and send_message.
// Message delivery rides the same event bus AWAIT already listens on —
// Send both queues the message in the recipient's bounded inbox (for
// receive/poll access) and publishes a "message" event so a cognition
// blocked on (AWAIT (EVENT {type="message" source=from})) is woken the
// same way any other event wakes it, which is what the spec means by
// receive being used "internally by AWAIT on message-type events".
package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/google/uuid"
)

// Publisher is the registry's door into the message bus. Satisfied by
// *bus.Bus; kept as a seam so this package never imports internal/bus,
// matching the narrow-interface composition used throughout (kernel.Bus,
// storage.Adapter, embedding.Provider).
type Publisher interface {
	PublishEvent(evt domain.Event) error
}

type agentState struct {
	mu       sync.Mutex
	profile  domain.AgentProfile
	inbox    *boundedInbox
	inFlight map[string]struct{}
	subs     []domain.EventSelector
}

// Registry tracks live agents and their inboxes, implementing kernel.Agents.
type Registry struct {
	pub Publisher

	mu     sync.RWMutex
	agents map[string]*agentState

	pollInterval time.Duration
}

func New(pub Publisher) *Registry {
	return &Registry{
		pub:          pub,
		agents:       make(map[string]*agentState),
		pollInterval: 25 * time.Millisecond,
	}
}

// RegisterAgent implements register_agent(id, profile). Fails if id is
// already in use (spec §4.8).
func (r *Registry) RegisterAgent(profile domain.AgentProfile) error {
	if profile.AgentID == "" {
		return coreerr.New("agents.RegisterAgent", "ArgumentError", fmt.Errorf("%w: agent id must not be empty", coreerr.ErrArgument))
	}
	if profile.InboxCap <= 0 {
		profile.InboxCap = 1000
	}
	profile.RegisteredAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[profile.AgentID]; exists {
		return coreerr.New("agents.RegisterAgent", "AlreadyExists", fmt.Errorf("%w: agent %s already registered", coreerr.ErrAlreadyExists, profile.AgentID))
	}
	r.agents[profile.AgentID] = &agentState{
		profile:  profile,
		inbox:    newBoundedInbox(profile.InboxCap),
		inFlight: make(map[string]struct{}),
	}
	return nil
}

// DeregisterAgent implements deregister_agent(id): it drains the agent's
// inbox and forgets it. Cancelling the agent's in-flight cognitions needs
// kernel.CancelAgent, which this package cannot call without an import
// cycle (internal/kernel already depends on this package's Agents
// interface) — callers (internal/api) must call kernel.CancelAgent(id)
// themselves before or after calling this.
func (r *Registry) DeregisterAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.agents[agentID]
	if !ok {
		return coreerr.New("agents.DeregisterAgent", "UnknownAgent", fmt.Errorf("%w: %s", coreerr.ErrUnknownAgent, agentID))
	}
	st.inbox.drain()
	delete(r.agents, agentID)
	return nil
}

// Send implements kernel.Agents and spec's send_message(to, from, payload).
func (r *Registry) Send(ctx context.Context, from, to string, payload interface{}) (string, error) {
	r.mu.RLock()
	st, ok := r.agents[to]
	r.mu.RUnlock()
	if !ok {
		return "", coreerr.New("agents.Send", "UnknownAgent", fmt.Errorf("%w: %s", coreerr.ErrUnknownAgent, to))
	}

	msg := domain.Message{
		MessageID: uuid.NewString(),
		From:      from,
		To:        to,
		Payload:   payload,
		SentAt:    time.Now(),
	}

	st.mu.Lock()
	dropped, didDrop := st.inbox.push(msg)
	st.mu.Unlock()

	if didDrop && r.pub != nil {
		_ = r.pub.PublishEvent(domain.Event{
			Type:   "message.dropped",
			Source: to,
			Payload: map[string]interface{}{
				"message_id": dropped.MessageID,
				"from":       dropped.From,
				"to":         dropped.To,
			},
			Published: time.Now(),
		})
	}

	if r.pub != nil {
		_ = r.pub.PublishEvent(domain.Event{
			Type:   "message",
			Source: from,
			Payload: map[string]interface{}{
				"message_id": msg.MessageID,
				"from":       msg.From,
				"to":         msg.To,
				"payload":    msg.Payload,
			},
			Published: msg.SentAt,
		})
	}

	return msg.MessageID, nil
}

// Receive implements receive(agent_id, timeout?): an immediate pop if a
// message is already queued, else polling until timeout or ctx is done.
func (r *Registry) Receive(ctx context.Context, agentID string, timeout time.Duration) (domain.Message, error) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return domain.Message{}, coreerr.New("agents.Receive", "UnknownAgent", fmt.Errorf("%w: %s", coreerr.ErrUnknownAgent, agentID))
	}

	if msg, ok := st.inbox.pop(); ok {
		return msg, nil
	}
	if timeout <= 0 {
		return domain.Message{}, coreerr.New("agents.Receive", "AwaitTimeout", coreerr.ErrAwaitTimeout)
	}

	recvCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if msg, ok := st.inbox.pop(); ok {
				return msg, nil
			}
		case <-recvCtx.Done():
			return domain.Message{}, coreerr.New("agents.Receive", "AwaitTimeout", coreerr.ErrAwaitTimeout)
		}
	}
}

// TrackCognition and UntrackCognition populate AgentRecord.InFlight.
// internal/agents has no visibility into the kernel's own active-cognition
// map, so internal/api calls these around its kernel.Submit call.
func (r *Registry) TrackCognition(agentID, cognitionID string) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.inFlight[cognitionID] = struct{}{}
	st.mu.Unlock()
}

func (r *Registry) UntrackCognition(agentID, cognitionID string) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	st.mu.Lock()
	delete(st.inFlight, cognitionID)
	st.mu.Unlock()
}

// Profile returns the registry's current view of an agent.
func (r *Registry) Profile(agentID string) (domain.AgentRecord, bool) {
	r.mu.RLock()
	st, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return domain.AgentRecord{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	inFlight := make(map[string]struct{}, len(st.inFlight))
	for id := range st.inFlight {
		inFlight[id] = struct{}{}
	}
	subs := make([]domain.EventSelector, len(st.subs))
	copy(subs, st.subs)
	return domain.AgentRecord{
		Profile:       st.profile,
		InFlight:      inFlight,
		Subscriptions: subs,
	}, true
}

// List returns every currently registered agent, for GET /agents.
func (r *Registry) List() []domain.AgentRecord {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]domain.AgentRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.Profile(id); ok {
			out = append(out, rec)
		}
	}
	return out
}
