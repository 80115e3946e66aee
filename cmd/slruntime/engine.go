package main

import (
	"context"
	"fmt"

	"github.com/silverline-wasm/runtime-core/internal/errs"
	"github.com/silverline-wasm/runtime-core/internal/guest"
	"github.com/silverline-wasm/runtime-core/internal/modulespec"
)

// unboundEngine is the guest.Engine wired by default: binding to a real
// WebAssembly runtime (WAMR, wasmtime, wazero) is left to the deployer,
// so every load fails fast with a clear reason instead of silently
// no-opping a guest run.
type unboundEngine struct{}

func (unboundEngine) Load(ctx context.Context, spec modulespec.Spec) (guest.Module, error) {
	return nil, fmt.Errorf("%w: no guest engine bound for %q (wire a concrete WebAssembly binding satisfying internal/guest.Engine)", errs.ErrGuestLoad, spec.Path)
}
