// Package kernel evaluates parsed instruction-language programs (spec §4.5)
// against memory, tools, agents, and the message bus. It owns only the
// narrow interfaces it needs from those subsystems — internal/planner,
// internal/tools, and internal/agents/internal/bus satisfy them — so this
// package has no import-time dependency on any of their concrete types,
// the same seam-by-interface composition used throughout (storage.Adapter,
// embedding.Provider, memory.EventPublisher).
package kernel

import (
	"context"

	"github.com/cortexd/cortexd/internal/domain"
)

// Planner is QUERY's door into the memory subsystem: it owns the mode
// dispatch (standard/explore/connect) described in spec §4.6, so the kernel
// itself never talks to internal/memory directly for reads.
type Planner interface {
	Query(ctx context.Context, agentID, intent string, meta map[string]interface{}) ([]domain.Hit, error)
}

// Tools is EXECUTE/SANDBOXED-EXECUTE's door into the tool registry (§4.7).
type Tools interface {
	Lookup(name string) (domain.ToolDescriptor, bool)
	Invoke(ctx context.Context, tc domain.ToolContext, desc domain.ToolDescriptor, args map[string]interface{}, sandboxed bool, limits domain.ResourceLimits) (interface{}, error)
}

// Agents is COMMUNICATE's door into the agent registry (§4.8).
type Agents interface {
	Send(ctx context.Context, from, to string, payload interface{}) (string, error)
}

// Bus is AWAIT's door into the message bus (§4.8); EVENT only builds a
// selector and never calls it.
type Bus interface {
	Await(ctx context.Context, selector domain.EventSelector) (domain.Event, error)
}

// AuditSink records a finished cognition (spec §3.1, I5: append-only audit
// log). The default is a no-op so the kernel is usable without persistence
// wired in yet.
type AuditSink interface {
	Record(ctx context.Context, c domain.Cognition)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, domain.Cognition) {}
