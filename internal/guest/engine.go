// Package guest defines the opaque load/instantiate/run surface the
// supervisor drives. No concrete binding to a WebAssembly engine lives
// here — only the contract a real binding (WAMR, wasmtime, wazero)
// would have to satisfy, plus an in-memory fake for tests.
package guest

import (
	"context"

	"github.com/silverline-wasm/runtime-core/internal/modulespec"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
)

// Engine loads guest binaries named by a Spec.
type Engine interface {
	Load(ctx context.Context, spec modulespec.Spec) (Module, error)
}

// Module is a loaded, not-yet-instantiated guest binary.
type Module interface {
	Instantiate(ctx context.Context, settings rtconfig.RuntimeSettings) (Instance, error)
	Close() error
}

// AccessLogger matches access.Engine.LogAccess's signature without
// this package importing access: a concrete binding calls it from
// whatever point it intercepts an instrumented load or store.
type AccessLogger func(tid uint64, addr uint32, opcode uint32, instIdx uint32)

// Instance is one instantiated, runnable guest.
type Instance interface {
	// MaxMemory reports the guest's linear-memory upper bound in bytes.
	MaxMemory() uint32

	// Memory exposes the guest's linear memory for mask writes driven
	// by the stochastic instrumentation scheme.
	Memory() []byte

	// Global reads a named guest global, e.g. "__inst_membase" (in
	// guest pages) or "__inst_max" (a count of mask bytes).
	Global(name string) (uint32, error)

	// RunMain invokes the guest's entry point with argv. logAccess is
	// called for every instrumented memory access any running guest
	// thread makes; a nil logAccess means the run is uninstrumented.
	RunMain(ctx context.Context, argv []string, logAccess AccessLogger) error

	Close() error
}
