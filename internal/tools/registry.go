// Package tools implements the tool registry of spec §4.7: descriptor
// storage with atomic replace, schema-checked invocation, and the split
// between plain Go-closure tools (EXECUTE) and sandboxed Lua tools
// (SANDBOXED-EXECUTE), the latter dispatched to internal/sandbox.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
)

// Sandbox is the seam into internal/sandbox that Registry consumes for
// tools marked RequiresSandbox, the same interface-seam composition used
// throughout this module.
type Sandbox interface {
	Run(ctx context.Context, tc domain.ToolContext, script string, args map[string]interface{}, limits domain.ResourceLimits) (interface{}, error)
}

// Registry stores tool descriptors and dispatches invocations. It
// satisfies kernel.Tools.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]domain.ToolDescriptor
	sandbox Sandbox
}

func New(sandbox Sandbox) *Registry {
	return &Registry{
		tools:   make(map[string]domain.ToolDescriptor),
		sandbox: sandbox,
	}
}

// Register adds or atomically replaces a tool descriptor by name (spec
// §4.7: "tool names are unique; re-registration with the same name
// replaces atomically").
func (r *Registry) Register(desc domain.ToolDescriptor) error {
	if desc.Name == "" {
		return coreerr.New("tools.Register", "ArgumentError", fmt.Errorf("%w: tool name must not be empty", coreerr.ErrArgument))
	}
	if desc.RequiresSandbox && desc.LuaScript == "" {
		return coreerr.New("tools.Register", "ArgumentError", fmt.Errorf("%w: tool %q requires_sandbox but has no LuaScript", coreerr.ErrArgument, desc.Name))
	}
	if !desc.RequiresSandbox && desc.Handler == nil {
		return coreerr.New("tools.Register", "ArgumentError", fmt.Errorf("%w: tool %q has no Handler", coreerr.ErrArgument, desc.Name))
	}

	r.mu.Lock()
	r.tools[desc.Name] = desc
	r.mu.Unlock()
	return nil
}

// Lookup implements kernel.Tools.
func (r *Registry) Lookup(name string) (domain.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Invoke implements kernel.Tools. The kernel has already checked for
// missing required arguments and sandbox-metacharacter scrubbing (spec
// §4.5); Invoke owns the rest of §4.7's "match args to input schema,
// coerce when unambiguous" contract before dispatching to the plain Go
// handler or the Lua sandbox.
func (r *Registry) Invoke(ctx context.Context, tc domain.ToolContext, desc domain.ToolDescriptor, args map[string]interface{}, sandboxed bool, limits domain.ResourceLimits) (interface{}, error) {
	coerced, err := coerceArgs(desc, args)
	if err != nil {
		return nil, err
	}

	if sandboxed {
		if r.sandbox == nil {
			return nil, coreerr.New("tools.Invoke", "SandboxViolation", fmt.Errorf("%w: no sandbox configured for tool %q", coreerr.ErrSandboxViolation, desc.Name))
		}
		return r.sandbox.Run(ctx, tc, desc.LuaScript, coerced, limits)
	}
	return desc.Handler(ctx, tc, coerced)
}

// coerceArgs matches each argument to its declared field type, coercing
// only unambiguous numeric-widening conversions (e.g. JSON-decoded int64
// to float64). String↔number is never coerced, per spec §4.7.
func coerceArgs(desc domain.ToolDescriptor, args map[string]interface{}) (map[string]interface{}, error) {
	if len(desc.InputSchema) == 0 {
		return args, nil
	}
	out := make(map[string]interface{}, len(args))
	for name, v := range args {
		field, known := desc.InputSchema[name]
		if !known {
			out[name] = v
			continue
		}
		coerced, ok := coerceField(field.Type, v)
		if !ok {
			return nil, coreerr.New("tools.Invoke", "ArgumentError", fmt.Errorf("%w: %s.%s expected %s, got %T", coreerr.ErrArgument, desc.Name, name, field.Type, v))
		}
		out[name] = coerced
	}
	return out, nil
}

func coerceField(want string, v interface{}) (interface{}, bool) {
	switch want {
	case "", "any":
		return v, true
	case "string":
		s, ok := v.(string)
		return s, ok
	case "number":
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		default:
			return nil, false
		}
	case "boolean":
		b, ok := v.(bool)
		return b, ok
	case "object":
		m, ok := v.(map[string]interface{})
		return m, ok
	case "array":
		a, ok := v.([]interface{})
		return a, ok
	default:
		return v, true
	}
}
