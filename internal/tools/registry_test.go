package tools

import (
	"context"
	"testing"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSandbox struct {
	lastScript string
	lastArgs   map[string]interface{}
	result     interface{}
	err        error
}

func (f *fakeSandbox) Run(ctx context.Context, tc domain.ToolContext, script string, args map[string]interface{}, limits domain.ResourceLimits) (interface{}, error) {
	f.lastScript, f.lastArgs = script, args
	return f.result, f.err
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	r := New(nil)
	err := r.Register(domain.ToolDescriptor{Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]interface{}) (interface{}, error) { return nil, nil }})
	assert.Error(t, err)
}

func TestRegisterRequiresHandlerOrScript(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.Register(domain.ToolDescriptor{Name: "broken"}))
	assert.Error(t, r.Register(domain.ToolDescriptor{Name: "broken-sandboxed", RequiresSandbox: true}))
}

func TestRegisterReplacesAtomically(t *testing.T) {
	r := New(nil)
	h1 := func(ctx context.Context, tc domain.ToolContext, args map[string]interface{}) (interface{}, error) { return "v1", nil }
	h2 := func(ctx context.Context, tc domain.ToolContext, args map[string]interface{}) (interface{}, error) { return "v2", nil }

	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "echo", Handler: h1}))
	require.NoError(t, r.Register(domain.ToolDescriptor{Name: "echo", Handler: h2}))

	desc, ok := r.Lookup("echo")
	require.True(t, ok)
	result, err := desc.Handler(context.Background(), domain.ToolContext{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", result)
}

func TestLookupUnknownTool(t *testing.T) {
	r := New(nil)
	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}

func TestInvokeDispatchesToHandlerForPlainTool(t *testing.T) {
	r := New(nil)
	desc := domain.ToolDescriptor{
		Name:        "add",
		InputSchema: map[string]domain.FieldSchema{"a": {Type: "number"}, "b": {Type: "number"}},
		Handler: func(ctx context.Context, tc domain.ToolContext, args map[string]interface{}) (interface{}, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	}

	result, err := r.Invoke(context.Background(), domain.ToolContext{}, desc, map[string]interface{}{"a": int64(2), "b": float64(3)}, false, domain.ResourceLimits{})
	require.NoError(t, err)
	assert.Equal(t, float64(5), result)
}

func TestInvokeCoercionRejectsTypeMismatch(t *testing.T) {
	r := New(nil)
	desc := domain.ToolDescriptor{
		Name:        "add",
		InputSchema: map[string]domain.FieldSchema{"a": {Type: "number"}},
		Handler:     func(ctx context.Context, tc domain.ToolContext, args map[string]interface{}) (interface{}, error) { return nil, nil },
	}

	_, err := r.Invoke(context.Background(), domain.ToolContext{}, desc, map[string]interface{}{"a": "not-a-number"}, false, domain.ResourceLimits{})
	assert.Error(t, err)
}

func TestInvokeDispatchesToSandboxForSandboxedTool(t *testing.T) {
	sb := &fakeSandbox{result: "sandboxed-ok"}
	r := New(sb)
	desc := domain.ToolDescriptor{Name: "risky", RequiresSandbox: true, LuaScript: `return "ok"`}

	result, err := r.Invoke(context.Background(), domain.ToolContext{}, desc, map[string]interface{}{}, true, domain.DefaultResourceLimits())
	require.NoError(t, err)
	assert.Equal(t, "sandboxed-ok", result)
	assert.Equal(t, `return "ok"`, sb.lastScript)
}

func TestInvokeWithoutSandboxConfiguredIsSandboxViolation(t *testing.T) {
	r := New(nil)
	desc := domain.ToolDescriptor{Name: "risky", RequiresSandbox: true, LuaScript: `return 1`}

	_, err := r.Invoke(context.Background(), domain.ToolContext{}, desc, map[string]interface{}{}, true, domain.DefaultResourceLimits())
	assert.Error(t, err)
}
