//go:build !linux

package supervisor

import "log/slog"

// applyChildLimits is a no-op outside Linux; prlimit has no portable
// equivalent and the guest's own sandbox remains the real boundary.
func applyChildLimits(pid int, stackSize, heapSize uint32, log *slog.Logger) {}
