// Package sandbox runs SANDBOXED-EXECUTE tool bodies in an isolated
// execution context, per spec §4.7. An embedded gopher-lua VM, fresh per
// invocation, is the cheapest form of "isolated execution context"
// expressible in pure Go without shelling out to a separate process or
// container: no filesystem or OS library is ever exposed to the script,
// CPU-seconds/wall-clock are enforced via a combined context deadline
// (gopher-lua checks context cancellation between VM instructions), and
// memory is bounded by the VM's registry size.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	lua "github.com/yuin/gopher-lua"
)

// bytesPerRegistrySlot is a coarse, documented approximation: gopher-lua's
// registry is sized in value slots, not bytes, so there is no exact
// byte-for-byte mapping from ResourceLimits.MemoryBytes. This scales the
// declared byte budget down to a slot count in the VM's normal operating
// range rather than pretending precision the library doesn't offer.
const bytesPerRegistrySlot = 256

// Lua runs tool bodies as Lua source under the limits of domain.ResourceLimits.
type Lua struct{}

func New() *Lua { return &Lua{} }

// Run implements tools.Sandbox.
func (l *Lua) Run(ctx context.Context, tc domain.ToolContext, script string, args map[string]interface{}, limits domain.ResourceLimits) (interface{}, error) {
	deadline := limits.WallClockSeconds
	if limits.CPUSeconds > 0 && limits.CPUSeconds < deadline {
		deadline = limits.CPUSeconds
	}
	if deadline <= 0 {
		deadline = domain.DefaultResourceLimits().WallClockSeconds
	}

	sandboxCtx, cancel := context.WithTimeout(ctx, time.Duration(deadline*float64(time.Second)))
	defer cancel()

	slots := int(limits.MemoryBytes / bytesPerRegistrySlot)
	if slots <= 0 {
		slots = 1024
	}

	vm := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		RegistrySize:    slots,
		RegistryMaxSize: slots,
	})
	defer vm.Close()
	vm.SetContext(sandboxCtx)

	// Only base/table/string/math are opened: no io, os, channel, or
	// coroutine library is ever exposed, regardless of
	// limits.NetworkAllowed — gopher-lua ships no socket library for a
	// script to reach the network with in the first place, so the
	// "network denied" default is simply never giving a script any
	// host-facing surface to begin with. This mirrors gopher-lua's own
	// OpenLibs loader (linit.go), just with the io/os/channel/coroutine
	// entries dropped from the list.
	restrictedLibs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range restrictedLibs {
		vm.Push(vm.NewFunction(lib.open))
		vm.Push(lua.LString(lib.name))
		if err := vm.PCall(1, 0, nil); err != nil {
			return nil, coreerr.New("sandbox.Run", "SandboxViolation", fmt.Errorf("%w: opening %s library: %v", coreerr.ErrSandboxViolation, lib.name, err))
		}
	}

	vm.SetGlobal("args", toLua(vm, args))

	if err := vm.DoString(script); err != nil {
		if sandboxCtx.Err() != nil {
			return nil, coreerr.New("sandbox.Run", "SandboxViolation", fmt.Errorf("%w: %s limit exceeded (%.2fs)", coreerr.ErrSandboxViolation, limitName(limits, deadline), deadline))
		}
		return nil, coreerr.New("sandbox.Run", "SandboxViolation", fmt.Errorf("%w: %v", coreerr.ErrSandboxViolation, err))
	}

	ret := vm.Get(-1)
	vm.Pop(1)
	return fromLua(ret), nil
}

func limitName(limits domain.ResourceLimits, deadline float64) string {
	if limits.CPUSeconds > 0 && limits.CPUSeconds <= deadline {
		return "cpu_seconds"
	}
	return "wall_clock_seconds"
}

// toLua converts a Go value into the nearest lua.LValue. Unrecognized
// types become lua.LNil rather than panicking a script author can't fix.
func toLua(vm *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]interface{}:
		t := vm.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(vm, item))
		}
		return t
	case []interface{}:
		t := vm.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, toLua(vm, item))
		}
		return t
	default:
		return lua.LNil
	}
}

// fromLua converts a returned lua.LValue back into a plain Go value for
// the cognition's result.
func fromLua(v lua.LValue) interface{} {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		return tableToGo(val)
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable) interface{} {
	if t.Len() > 0 {
		arr := make([]interface{}, 0, t.Len())
		for i := 1; i <= t.Len(); i++ {
			arr = append(arr, fromLua(t.RawGetInt(i)))
		}
		return arr
	}
	out := map[string]interface{}{}
	t.ForEach(func(k, val lua.LValue) {
		out[k.String()] = fromLua(val)
	})
	return out
}
