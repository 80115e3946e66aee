//go:build linux

package supervisor

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

// applyChildLimits sets RLIMIT_AS on pid to roughly stackSize+heapSize
// plus headroom for the guest engine's own bookkeeping, via prlimit so
// it can be applied to an already-started child without a wrapper
// process. The guest already runs inside the WASM sandbox, so this is
// the only resource control the supervisor needs — no namespace or
// mount isolation.
func applyChildLimits(pid int, stackSize, heapSize uint32, log *slog.Logger) {
	const headroom = 64 << 20
	as := uint64(stackSize) + uint64(heapSize) + headroom
	lim := unix.Rlimit{Cur: as, Max: as}
	if err := unix.Prlimit(pid, unix.RLIMIT_AS, &lim, nil); err != nil {
		log.Warn("prlimit RLIMIT_AS failed", "pid", pid, "value", as, "error", err)
	}
}
