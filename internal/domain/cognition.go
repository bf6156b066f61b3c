package domain

import (
	"context"
	"time"
)

// CognitionStatus is the terminal or in-flight state of a cognition (§4.5).
type CognitionStatus string

const (
	CognitionParsed    CognitionStatus = "parsed"
	CognitionReady     CognitionStatus = "ready"
	CognitionRunning   CognitionStatus = "running"
	CognitionSuspended CognitionStatus = "suspended"
	CognitionSuccess   CognitionStatus = "success"
	CognitionClarify   CognitionStatus = "clarify"
	CognitionError     CognitionStatus = "error"
	CognitionCancelled CognitionStatus = "cancelled"
)

// Cognition is the audit-log entry for one submitted IL expression (§3.1,
// I5: append-only, never deleted by the core).
type Cognition struct {
	CognitionID     string
	AgentID         string
	Source          string
	SubmittedAt     time.Time
	CompletedAt     *time.Time
	Status          CognitionStatus
	Result          interface{}
	ErrorKind       string
	ErrorMessage    string
	Duration        time.Duration
	MemoriesRead    int
	MemoriesWritten int
}

// ClarifyResponse is the value returned by a CLARIFY form (§4.5).
type ClarifyResponse struct {
	Kind     string   `json:"kind"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// EventSelector is the (type, source, filter) triple an AWAIT matches
// against (GLOSSARY: Selector).
type EventSelector struct {
	Type    string
	Source  string
	Filter  map[string]interface{}
	Timeout time.Duration
}

// Event is a published fact routed to matching AWAIT selectors (§4.8).
type Event struct {
	Type      string
	Source    string
	Payload   map[string]interface{}
	Published time.Time
}

// Matches reports whether e satisfies the selector per §4.8: equality on
// type and source, and equality on every key named in Filter.
func (s EventSelector) Matches(e Event) bool {
	if s.Type != "" && s.Type != e.Type {
		return false
	}
	if s.Source != "" && s.Source != e.Source {
		return false
	}
	for k, v := range s.Filter {
		pv, ok := e.Payload[k]
		if !ok || pv != v {
			return false
		}
	}
	return true
}

// ToolDescriptor is a registered tool's contract (§3.1).
type ToolDescriptor struct {
	Name            string
	InputSchema     map[string]FieldSchema
	OutputSchema    map[string]FieldSchema
	RequiresSandbox bool
	ResourceLimits  ResourceLimits
	Handler         ToolHandler
	// LuaScript, when set, is the sandboxed implementation body executed by
	// internal/sandbox for RequiresSandbox tools instead of Handler.
	LuaScript string
}

// FieldSchema declares one parameter or output field's type.
type FieldSchema struct {
	Type     string // "string", "number", "boolean", "object", "array"
	Required bool
}

// ResourceLimits bounds a sandboxed tool invocation (§3.1, §4.7).
type ResourceLimits struct {
	CPUSeconds       float64
	MemoryBytes      int64
	WallClockSeconds float64
	NetworkAllowed   bool
}

// DefaultResourceLimits mirrors §6.4 defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		CPUSeconds:       5,
		MemoryBytes:      256 * 1024 * 1024,
		WallClockSeconds: 10,
		NetworkAllowed:   false,
	}
}

// ToolHandler is the Go-native signature for a non-sandboxed tool (EXECUTE).
type ToolHandler func(ctx context.Context, tc ToolContext, args map[string]interface{}) (interface{}, error)

// ToolContext is threaded into tool handlers so they can honor cancellation
// and carry the invoking cognition's identity without a global.
type ToolContext struct {
	CognitionID string
	AgentID     string
}
