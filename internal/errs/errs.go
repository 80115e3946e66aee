// Package errs defines the sentinel errors each runtime layer wraps
// its failures in, so callers can classify an error with errors.Is
// without coupling to a layer's internal error types.
package errs

import "errors"

// Category sentinels. Wrap with fmt.Errorf("...: %w", Category) at the
// point a failure is first identified; every layer above that keeps
// wrapping with %w so the original category survives to the top.
var (
	// ErrTransport covers socket I/O failures: connect, read, write.
	ErrTransport = errors.New("transport error")

	// ErrProtocol covers malformed or unexpected wire messages.
	ErrProtocol = errors.New("protocol error")

	// ErrGuestLoad covers failures loading or instantiating a guest
	// binary.
	ErrGuestLoad = errors.New("guest load error")

	// ErrGuestExecution covers failures during RunMain itself,
	// excluding timeouts (see ErrTimeout).
	ErrGuestExecution = errors.New("guest execution error")

	// ErrInstrumentation covers access-engine lifecycle or
	// serialization failures.
	ErrInstrumentation = errors.New("instrumentation error")

	// ErrChildAnomaly covers a child process dying by signal or
	// exiting non-zero for any reason.
	ErrChildAnomaly = errors.New("child anomaly")

	// ErrTimeout covers a per-iteration deadline expiring.
	ErrTimeout = errors.New("iteration timeout")

	// ErrBudgetExpired covers a budget-mode run's overall time budget
	// elapsing between iterations.
	ErrBudgetExpired = errors.New("budget expired")
)
