// Command slruntime is the per-node runtime process: it speaks the
// manager's framed control protocol over a local Unix socket, forks an
// isolated subprocess per guest iteration, and reports execution and
// memory-access profiles back to the manager.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/silverline-wasm/runtime-core/internal/frame"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
	"github.com/silverline-wasm/runtime-core/internal/runtime"
	"github.com/silverline-wasm/runtime-core/internal/supervisor"
	"github.com/spf13/cobra"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == supervisor.IterationChildFlag {
		if err := runIterationChild(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	root := &cobra.Command{
		Use:   "slruntime <runtime_index> [delay] [budget]",
		Short: "per-node WebAssembly execution runtime",
		Args:  cobra.RangeArgs(1, 3),
		RunE:  runRoot,
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRoot(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("parse runtime_index: %w", err)
	}

	configDir, err := rtconfig.UserConfigDir()
	if err != nil {
		return fmt.Errorf("resolve config dir: %w", err)
	}
	settings, err := rtconfig.Load(configDir)
	if err != nil {
		return fmt.Errorf("load runtime settings: %w", err)
	}

	if len(args) >= 2 {
		delay, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("parse delay: %w", err)
		}
		settings.TsvdDelayUnits = uint32(delay)
	}

	budgetSeconds := 0
	if len(args) >= 3 {
		budget, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("parse budget: %w", err)
		}
		budgetSeconds = budget
	}

	selfPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve self path: %w", err)
	}

	rt, err := runtime.Open(index, settings, unboundEngine{}, selfPath, budgetSeconds, verbosityLevel(settings.Verbosity))
	if err != nil {
		return fmt.Errorf("open runtime: %w", err)
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Log.Info("runtime started", "index", index, "budget_seconds", budgetSeconds)
	return rt.Run(ctx)
}

// runIterationChild is the hidden entry point a Supervisor re-execs
// itself into for one guest iteration: it reconstructs its payload and
// manager connection from the environment and inherited fd 3, the Go
// stand-in for a forked child inheriting its parent's memory and open
// descriptors.
func runIterationChild() error {
	payload, err := supervisor.ChildPayloadFromEnviron()
	if err != nil {
		return fmt.Errorf("iteration child: %w", err)
	}

	f := os.NewFile(3, "manager-sock")
	if f == nil {
		return fmt.Errorf("iteration child: fd 3 not inherited")
	}
	nc, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("iteration child: reconstruct manager conn: %w", err)
	}
	conn := frame.NewConn(nc)
	defer conn.Close()

	return supervisor.RunOnce(context.Background(), unboundEngine{}, payload, conn)
}

func verbosityLevel(v int) slog.Level {
	switch {
	case v <= 0:
		return slog.LevelWarn
	case v == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
