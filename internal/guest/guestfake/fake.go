// Package guestfake is an in-memory guest.Engine double used by tests
// that need to drive the supervisor or access trackers without a real
// WebAssembly runtime.
package guestfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/silverline-wasm/runtime-core/internal/guest"
	"github.com/silverline-wasm/runtime-core/internal/modulespec"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
)

// ThreadProgram is one simulated guest thread: a sequence of memory
// accesses it issues, back to back, when RunMain executes.
type ThreadProgram struct {
	TID      uint64
	Accesses []SimAccess
}

// SimAccess is one simulated instrumented access.
type SimAccess struct {
	Addr    uint32
	Opcode  uint32
	InstIdx uint32
}

// Engine is a fixed-behavior fake: Load always succeeds and returns a
// Module whose Instantiate returns an Instance running whatever
// Threads were configured at construction.
type Engine struct {
	MemorySize uint32
	Globals    map[string]uint32
	Threads    []ThreadProgram
	RunErr     error
}

func (e *Engine) Load(ctx context.Context, spec modulespec.Spec) (guest.Module, error) {
	return &Module{engine: e}, nil
}

// Module wraps the fixed Engine configuration; Instantiate is
// repeatable so the same fake can back multiple supervisor iterations.
type Module struct {
	engine *Engine
}

func (m *Module) Instantiate(ctx context.Context, settings rtconfig.RuntimeSettings) (guest.Instance, error) {
	mem := make([]byte, m.engine.MemorySize)
	return &Instance{engine: m.engine, mem: mem}, nil
}

func (m *Module) Close() error { return nil }

// Instance runs the configured ThreadPrograms as goroutines when
// RunMain is called.
type Instance struct {
	engine *Engine
	mem    []byte
}

func (i *Instance) MaxMemory() uint32 { return i.engine.MemorySize }

func (i *Instance) Memory() []byte { return i.mem }

func (i *Instance) Global(name string) (uint32, error) {
	v, ok := i.engine.Globals[name]
	if !ok {
		return 0, fmt.Errorf("guestfake: unknown global %q", name)
	}
	return v, nil
}

func (i *Instance) RunMain(ctx context.Context, argv []string, logAccess guest.AccessLogger) error {
	if i.engine.RunErr != nil {
		return i.engine.RunErr
	}
	if logAccess == nil || len(i.engine.Threads) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	for _, prog := range i.engine.Threads {
		wg.Add(1)
		go func(p ThreadProgram) {
			defer wg.Done()
			for _, a := range p.Accesses {
				select {
				case <-ctx.Done():
					return
				default:
				}
				logAccess(p.TID, a.Addr, a.Opcode, a.InstIdx)
			}
		}(prog)
	}
	wg.Wait()
	return ctx.Err()
}

func (i *Instance) Close() error { return nil }
