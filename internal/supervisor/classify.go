package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/silverline-wasm/runtime-core/internal/errs"
	"github.com/silverline-wasm/runtime-core/internal/history"
)

// classify maps one iteration's exec.Cmd.Wait result, plus whether the
// governing context's deadline had already fired, onto the outcome
// taxonomy runtime.c's run_modules encodes via WIFEXITED/WIFSIGNALED.
// The returned error is nil on success and otherwise wraps the errs
// sentinel matching the outcome, so a caller can classify failures with
// errors.Is instead of switching on the Outcome value.
func classify(ctx context.Context, waitErr error) (outcome history.Outcome, detail string, err error) {
	if ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w: iteration timeout exceeded", errs.ErrTimeout)
		return history.OutcomeFailureTimeout, "iteration timeout exceeded", err
	}
	if waitErr == nil {
		return history.OutcomeSuccess, "", nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				detail = status.Signal().String()
				return history.OutcomeFailureSignal, detail, fmt.Errorf("%w: child killed by signal %s", errs.ErrChildAnomaly, detail)
			}
			return history.OutcomeFailureExit, exitErr.Error(), fmt.Errorf("%w: %w", errs.ErrChildAnomaly, exitErr)
		}
		return history.OutcomeFailureExit, exitErr.Error(), fmt.Errorf("%w: %w", errs.ErrChildAnomaly, exitErr)
	}
	return history.OutcomeFailureExit, waitErr.Error(), fmt.Errorf("%w: %w", errs.ErrChildAnomaly, waitErr)
}
