// Package supervisor owns the execute-one-or-more-iterations state
// machine: forking isolated subprocesses for each guest run, applying
// timeouts, classifying exits, and looping for repeat or budget
// semantics, grounded on run_modules/run_modules_budget.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/silverline-wasm/runtime-core/internal/bus"
	"github.com/silverline-wasm/runtime-core/internal/errs"
	"github.com/silverline-wasm/runtime-core/internal/history"
	"github.com/silverline-wasm/runtime-core/internal/modulespec"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
)

// Supervisor runs one module's iterations, spawning a fresh process
// per iteration and reporting outcomes to history.Store.
type Supervisor struct {
	SelfPath   string
	SocketFile *os.File
	Settings   rtconfig.RuntimeSettings
	History    *history.Store
	Log        *slog.Logger

	// BudgetSeconds, if > 0, switches the whole runtime into budget
	// mode: iterations run back-to-back until this much wall-clock
	// time elapses, ignoring Spec.Repeat.
	BudgetSeconds int

	// ChildArgs overrides the argv appended after SelfPath for each
	// spawned iteration. Defaults to {IterationChildFlag}; tests
	// substitute a plain command so they don't need a real guest
	// engine to exercise the iteration/timeout bookkeeping.
	ChildArgs []string
}

func (s *Supervisor) childArgs() []string {
	if s.ChildArgs != nil {
		return s.ChildArgs
	}
	return []string{IterationChildFlag}
}

// Run drives one CREATE request to completion: zero or more PROFILE
// sends from the child processes themselves, then one EXITED on
// moduleBus, matching run_modules' exitmsg send.
func (s *Supervisor) Run(ctx context.Context, moduleBus *bus.Bus, spec modulespec.Spec, meta modulespec.Metadata) error {
	var success, total int
	if s.BudgetSeconds > 0 {
		success, total = s.runBudget(ctx, spec, meta)
	} else {
		success, total = s.runRepeat(ctx, spec, meta)
	}

	s.Log.Info("module finished",
		"module", meta.Name, "uuid", meta.UUID,
		"success", success, "total", total)

	return moduleBus.SendExited()
}

func (s *Supervisor) runRepeat(ctx context.Context, spec modulespec.Spec, meta modulespec.Metadata) (success, total int) {
	total = spec.Repeat
	for i := 0; i < spec.Repeat; i++ {
		if ctx.Err() != nil {
			break
		}
		if s.runIteration(ctx, spec, meta, i) {
			success++
		}
	}
	return success, total
}

func (s *Supervisor) runBudget(ctx context.Context, spec modulespec.Spec, meta modulespec.Metadata) (success, total int) {
	budgetCtx, cancel := context.WithTimeout(ctx, time.Duration(s.BudgetSeconds)*time.Second)
	defer cancel()

	for i := 0; budgetCtx.Err() == nil; i++ {
		total++
		if s.runIteration(ctx, spec, meta, i) {
			success++
		}
	}
	if errors.Is(budgetCtx.Err(), context.DeadlineExceeded) {
		s.Log.Info("budget expired", "error", fmt.Errorf("%w: after %d iterations", errs.ErrBudgetExpired, total))
	}
	return success, total
}

// runIteration spawns and waits for one child, classifying and
// recording the outcome. It returns true only on a clean success.
func (s *Supervisor) runIteration(ctx context.Context, spec modulespec.Spec, meta modulespec.Metadata, iteration int) bool {
	timeout := time.Duration(s.Settings.DefaultTimeoutSeconds) * time.Second
	iterCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := ChildPayload{Spec: spec, Meta: meta, Settings: s.Settings, Iteration: iteration}
	env, err := ChildEnviron(payload)
	if err != nil {
		s.Log.Error("encode child payload failed", "error", err)
		s.record(meta, iteration, history.OutcomeFailureExit, err.Error(), 0)
		return false
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		s.Log.Error("open devnull failed", "error", err)
		s.record(meta, iteration, history.OutcomeFailureExit, err.Error(), 0)
		return false
	}
	defer devNull.Close()

	cmd := exec.CommandContext(iterCtx, s.SelfPath, s.childArgs()...)
	cmd.Env = append(os.Environ(), env)
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	if s.SocketFile != nil {
		cmd.ExtraFiles = []*os.File{s.SocketFile}
	}

	start := time.Now()
	var runErr error
	if runErr = cmd.Start(); runErr == nil {
		applyChildLimits(cmd.Process.Pid, s.Settings.StackSize, s.Settings.HeapSize, s.Log)
		runErr = cmd.Wait()
	}
	cpuTimeUS := uint64(time.Since(start).Microseconds())

	outcome, detail, classifyErr := classify(iterCtx, runErr)
	if classifyErr != nil {
		switch {
		case errors.Is(classifyErr, errs.ErrTimeout):
			s.Log.Error("iteration timed out",
				"module", spec.Path, "iteration", iteration, "detail", detail)
		case errors.Is(classifyErr, errs.ErrChildAnomaly):
			s.Log.Error("iteration child exited abnormally",
				"module", spec.Path, "iteration", iteration, "detail", detail)
		default:
			s.Log.Error("iteration failed",
				"module", spec.Path, "iteration", iteration, "outcome", outcome, "detail", detail)
		}
	}
	s.record(meta, iteration, outcome, detail, cpuTimeUS)
	return outcome == history.OutcomeSuccess
}

func (s *Supervisor) record(meta modulespec.Metadata, iteration int, outcome history.Outcome, detail string, cpuTimeUS uint64) {
	if s.History == nil {
		return
	}
	err := s.History.Record(history.Entry{
		ModuleUUID:  meta.UUID,
		ModuleIndex: meta.Index,
		Iteration:   iteration,
		Outcome:     outcome,
		Detail:      detail,
		CPUTimeUS:   cpuTimeUS,
	})
	if err != nil {
		s.Log.Warn("record iteration history failed", "error", err)
	}
}
