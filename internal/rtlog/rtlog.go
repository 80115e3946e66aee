// Package rtlog builds the runtime's structured logger: a slog.Logger
// whose handler writes human-readable text locally and mirrors every
// record to the manager as a LOG_RUNTIME frame.
package rtlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/silverline-wasm/runtime-core/internal/bus"
)

// Mirror sends one already-formatted log line to the manager. *bus.Bus
// satisfies this directly via SendLogRuntime.
type Mirror interface {
	SendLogRuntime(level bus.LogLevel, text string) error
}

// syslogLevel maps slog's levels onto the manager's numeric convention.
func syslogLevel(l slog.Level) bus.LogLevel {
	switch {
	case l >= slog.LevelError:
		return bus.LevelError
	case l >= slog.LevelWarn:
		return bus.LevelWarning
	case l >= slog.LevelInfo:
		return bus.LevelInfo
	default:
		return bus.LevelDebug
	}
}

// mirrorHandler wraps a local slog.Handler and additionally forwards
// every record's rendered message to a Mirror. Mirror failures are
// swallowed — a manager connection hiccup must never block or crash
// guest-facing log calls — but the local handler still runs so nothing
// silently vanishes.
type mirrorHandler struct {
	local  slog.Handler
	mu     sync.Mutex
	mirror Mirror
	attrs  []slog.Attr
}

// NewHandler builds a handler that writes text lines to w at the given
// level and mirrors everything it accepts through mirror. mirror may
// be nil (e.g. before the manager socket is open), in which case
// records are only written locally.
func NewHandler(w io.Writer, level slog.Level, mirror Mirror) slog.Handler {
	local := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})
	return &mirrorHandler{local: local, mirror: mirror}
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.local.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, r slog.Record) error {
	localErr := h.local.Handle(ctx, r)

	if h.mirror != nil {
		text := r.Message
		r.Attrs(func(a slog.Attr) bool {
			text += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
			return true
		})
		for _, a := range h.attrs {
			text += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		}
		h.mu.Lock()
		_ = h.mirror.SendLogRuntime(syslogLevel(r.Level), text)
		h.mu.Unlock()
	}
	return localErr
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &mirrorHandler{
		local:  h.local.WithAttrs(attrs),
		mirror: h.mirror,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	return &mirrorHandler{local: h.local.WithGroup(name), mirror: h.mirror, attrs: h.attrs}
}

// New builds a ready-to-use logger writing to stderr at level, with no
// mirror attached — use WithMirror once the manager socket opens.
func New(level slog.Level) *slog.Logger {
	return slog.New(NewHandler(os.Stderr, level, nil))
}

// WithMirror returns a new logger like New's but also mirroring records
// through mirror, for use once a bus.Bus connection is available.
func WithMirror(level slog.Level, mirror Mirror) *slog.Logger {
	return slog.New(NewHandler(os.Stderr, level, mirror))
}
