// Package runtime wires the rest of this module into the long-lived
// per-node process: open the manager socket, install mirrored logging,
// and loop handing CREATE requests off to a fresh supervisor.Supervisor
// per module.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/silverline-wasm/runtime-core/internal/bus"
	"github.com/silverline-wasm/runtime-core/internal/frame"
	"github.com/silverline-wasm/runtime-core/internal/guest"
	"github.com/silverline-wasm/runtime-core/internal/history"
	"github.com/silverline-wasm/runtime-core/internal/modulespec"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
	"github.com/silverline-wasm/runtime-core/internal/rtlog"
	"github.com/silverline-wasm/runtime-core/internal/supervisor"
)

// Runtime owns the single manager connection for one runtime index and
// dispatches every CREATE it receives to its own Supervisor.
type Runtime struct {
	Index         int
	SelfPath      string
	BudgetSeconds int
	Settings      rtconfig.RuntimeSettings
	GuestEngine   guest.Engine
	History       *history.Store
	Log           *slog.Logger

	conn       *frame.Conn
	runtimeBus *bus.Bus
}

// Open connects to this node's runtime-level socket, builds a
// manager-mirroring logger, and opens the history store. It never
// retries — a missing socket or unopenable history file is a fatal
// startup error.
func Open(index int, settings rtconfig.RuntimeSettings, guestEngine guest.Engine, selfPath string, budgetSeconds int, level slog.Level) (*Runtime, error) {
	conn, err := frame.Open(index, -1)
	if err != nil {
		return nil, fmt.Errorf("open runtime socket: %w", err)
	}

	r := &Runtime{
		Index:         index,
		SelfPath:      selfPath,
		BudgetSeconds: budgetSeconds,
		Settings:      settings,
		GuestEngine:   guestEngine,
		conn:          conn,
		runtimeBus:    bus.New(conn, 0),
	}
	r.Log = rtlog.WithMirror(level, r)

	dbPath := settings.HistoryDBPath
	if dbPath == "" {
		dbPath = frame.Addr(index, -1) + ".history.db"
	}
	store, err := history.Open(dbPath)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open history store: %w", err)
	}
	r.History = store

	return r, nil
}

// SendLogRuntime implements rtlog.Mirror by forwarding through the
// runtime-level bus.
func (r *Runtime) SendLogRuntime(level bus.LogLevel, text string) error {
	return r.runtimeBus.SendLogRuntime(level, text)
}

// Close releases the socket and history store.
func (r *Runtime) Close() error {
	histErr := r.History.Close()
	connErr := r.conn.Close()
	if connErr != nil {
		return connErr
	}
	return histErr
}

// Run loops reading control frames until ctx is cancelled or the
// connection fails. It never returns on a per-message error — a
// malformed or unrecognized frame is logged and dropped so the runtime
// stays ready for the next CREATE, matching the always-available
// contract the manager expects from a live runtime process.
//
// Message handling is synchronous: a CREATE is driven to completion by
// runModule before the next frame is read. The manager connection is a
// single shared socket, and frame.Conn performs unsynchronized writes,
// so dispatching concurrently across modules would interleave frame
// headers and payloads on the wire. A manager that wants modules running
// in parallel gets that by running separate runtime processes, each on
// its own Addr(runtime, -1) socket.
func (r *Runtime) Run(ctx context.Context) error {
	socketFile, err := r.conn.File()
	if err != nil {
		return fmt.Errorf("dup runtime socket fd: %w", err)
	}
	defer socketFile.Close()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		ctrl, err := r.runtimeBus.Recv()
		if err != nil {
			return fmt.Errorf("runtime bus recv: %w", err)
		}

		switch ctrl.Kind {
		case bus.ControlCreate:
			spec, meta, err := modulespec.ParseCreate(ctrl.Payload)
			if err != nil {
				r.Log.Warn("drop malformed create", "error", err)
				continue
			}
			r.runModule(ctx, socketFile, spec, meta)
		case bus.ControlDelete, bus.ControlStop:
			r.Log.Info("ignoring unimplemented control message", "kind", ctrl.Kind, "module", ctrl.ModuleIndex)
		default:
			r.Log.Warn("dropping unrecognized control frame", "module", ctrl.ModuleIndex)
		}
	}
}

// runModule drives one CREATE to completion before Run reads its next
// frame. socketFile is the duplicated runtime-socket descriptor every
// iteration child inherits via ExtraFiles, so it sends its own PROFILE
// frame without routing through this process.
func (r *Runtime) runModule(ctx context.Context, socketFile *os.File, spec modulespec.Spec, meta modulespec.Metadata) {
	moduleBus := bus.New(r.conn, meta.Index)
	sup := &supervisor.Supervisor{
		SelfPath:      r.SelfPath,
		SocketFile:    socketFile,
		Settings:      r.Settings,
		History:       r.History,
		Log:           r.Log.With("module", meta.Name, "uuid", meta.UUID),
		BudgetSeconds: r.BudgetSeconds,
	}
	if err := sup.Run(ctx, moduleBus, spec, meta); err != nil {
		r.Log.Error("module run failed", "module", meta.Name, "error", err)
	}
}
