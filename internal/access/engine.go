// Package access instruments guest memory loads and stores to detect
// cross-thread sharing (SharedTracker) or concrete ordering violations
// (TsvdProbe), and serializes the result into the binary profile the
// manager expects.
package access

import "fmt"

// Engine is the common contract both instrumentation strategies
// satisfy. A guest.Instance calls LogStart/LogAccess/LogEnd from
// arbitrary goroutines standing in for guest threads; LogAccess must
// tolerate unbounded concurrent callers touching the same address.
type Engine interface {
	// Init sets up fresh tracking state for a guest whose linear memory
	// can grow up to maxMemoryBytes. Both strategies keep entries in a
	// map that grows on demand and do not size anything from
	// maxMemoryBytes.
	Init(maxMemoryBytes uint32) error

	// LogStart marks the beginning of one guest iteration. maxInstructions
	// is advisory (mirrors the distilled wire contract); strategies that
	// don't need it may ignore it.
	LogStart(maxInstructions uint32)

	// LogAccess records one instrumented memory access. tid identifies
	// the calling guest thread, addr is the accessed guest address,
	// opcode indexes OpcodeAccess, instIdx is the static instruction
	// index the rewriter assigned to the access site.
	LogAccess(tid uint64, addr uint32, opcode uint32, instIdx uint32)

	// LogEnd marks the end of one guest iteration.
	LogEnd()

	// CollectProfile serializes accumulated state, prefixed verbatim by
	// prefix (the shared Rusage header from access/profile.go), into the
	// strategy's own wire format, documented on each strategy's
	// CollectProfile.
	CollectProfile(prefix []byte) ([]byte, error)

	// Destroy releases tracking state between iterations.
	Destroy() error
}

// NewEngine constructs the strategy named by strategy, the runtime's
// configured rtconfig.RuntimeSettings.AccessStrategy — distinct from a module's
// per-run Instrumentation.Scheme, which only ever names the
// stochastic-mask behavior (see supervisor/child.go) and never
// selects between tracking algorithms. An empty strategy defaults to
// SharedTracker.
func NewEngine(strategy string, tsvdDelay uint32) (Engine, error) {
	switch strategy {
	case "", "shared":
		return NewSharedTracker(), nil
	case "tsvd":
		return NewTsvdProbe(tsvdDelay), nil
	default:
		return nil, fmt.Errorf("access: unknown access strategy %q", strategy)
	}
}
