package sandbox

import (
	"context"
	"testing"

	"github.com/cortexd/cortexd/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsScriptResult(t *testing.T) {
	sb := New()
	result, err := sb.Run(context.Background(), domain.ToolContext{}, `return args.a + args.b`,
		map[string]interface{}{"a": float64(2), "b": float64(3)}, domain.DefaultResourceLimits())
	require.NoError(t, err)
	assert.Equal(t, float64(5), result)
}

func TestRunReturnsStringResult(t *testing.T) {
	sb := New()
	result, err := sb.Run(context.Background(), domain.ToolContext{}, `return "hello " .. args.name`,
		map[string]interface{}{"name": "world"}, domain.DefaultResourceLimits())
	require.NoError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestRunDeniesOsLibrary(t *testing.T) {
	sb := New()
	_, err := sb.Run(context.Background(), domain.ToolContext{}, `return os.time()`, nil, domain.DefaultResourceLimits())
	assert.Error(t, err)
}

func TestRunDeniesIoLibrary(t *testing.T) {
	sb := New()
	_, err := sb.Run(context.Background(), domain.ToolContext{}, `return io.open("/etc/passwd")`, nil, domain.DefaultResourceLimits())
	assert.Error(t, err)
}

func TestRunEnforcesWallClockTimeout(t *testing.T) {
	sb := New()
	limits := domain.ResourceLimits{CPUSeconds: 10, WallClockSeconds: 0.05, MemoryBytes: 1024 * 1024, NetworkAllowed: false}
	_, err := sb.Run(context.Background(), domain.ToolContext{}, `while true do end`, nil, limits)
	require.Error(t, err)
}

func TestRunHonorsParentCancellation(t *testing.T) {
	sb := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	limits := domain.ResourceLimits{CPUSeconds: 5, WallClockSeconds: 5}
	_, err := sb.Run(ctx, domain.ToolContext{}, `return 1`, nil, limits)
	assert.Error(t, err)
}
