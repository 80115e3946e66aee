package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"testing"
	"time"

	"github.com/silverline-wasm/runtime-core/internal/access"
	"github.com/silverline-wasm/runtime-core/internal/bus"
	"github.com/silverline-wasm/runtime-core/internal/errs"
	"github.com/silverline-wasm/runtime-core/internal/frame"
	"github.com/silverline-wasm/runtime-core/internal/guest/guestfake"
	"github.com/silverline-wasm/runtime-core/internal/history"
	"github.com/silverline-wasm/runtime-core/internal/modulespec"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifySuccess(t *testing.T) {
	ctx := context.Background()
	cmd := exec.Command("true")
	err := cmd.Run()
	outcome, _, classifyErr := classify(ctx, err)
	if outcome != history.OutcomeSuccess {
		t.Fatalf("classify(true) = %v, want success", outcome)
	}
	if classifyErr != nil {
		t.Fatalf("classify(true) error = %v, want nil", classifyErr)
	}
}

func TestClassifyFailureExit(t *testing.T) {
	ctx := context.Background()
	cmd := exec.Command("false")
	err := cmd.Run()
	outcome, detail, classifyErr := classify(ctx, err)
	if outcome != history.OutcomeFailureExit {
		t.Fatalf("classify(false) = %v, want failure_exit", outcome)
	}
	if detail == "" {
		t.Fatal("expected non-empty detail for failure_exit")
	}
	if !errors.Is(classifyErr, errs.ErrChildAnomaly) {
		t.Fatalf("classify(false) error = %v, want errs.ErrChildAnomaly", classifyErr)
	}
}

func TestClassifyFailureSignal(t *testing.T) {
	ctx := context.Background()
	cmd := exec.Command("sh", "-c", "kill -KILL $$")
	err := cmd.Run()
	outcome, detail, classifyErr := classify(ctx, err)
	if outcome != history.OutcomeFailureSignal {
		t.Fatalf("classify(self-kill) = %v, want failure_signal", outcome)
	}
	if detail == "" {
		t.Fatal("expected non-empty detail for failure_signal")
	}
	if !errors.Is(classifyErr, errs.ErrChildAnomaly) {
		t.Fatalf("classify(self-kill) error = %v, want errs.ErrChildAnomaly", classifyErr)
	}
}

func TestClassifyTimeoutTakesPriority(t *testing.T) {
	iterCtx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	cmd := exec.CommandContext(iterCtx, "true")
	runErr := cmd.Run()

	outcome, _, classifyErr := classify(iterCtx, runErr)
	if outcome != history.OutcomeFailureTimeout {
		t.Fatalf("classify with expired deadline = %v, want failure_timeout", outcome)
	}
	if !errors.Is(classifyErr, errs.ErrTimeout) {
		t.Fatalf("classify with expired deadline error = %v, want errs.ErrTimeout", classifyErr)
	}
}

func TestChildPayloadRoundTrip(t *testing.T) {
	payload := ChildPayload{
		Spec: modulespec.Spec{
			Path:   "/guest/module.wasm",
			Argv:   []string{"--flag"},
			Repeat: 3,
		},
		Meta: modulespec.Metadata{
			Index: 2,
			Name:  "demo",
			UUID:  "abc-123",
		},
		Settings:  rtconfig.Defaults(),
		Iteration: 7,
	}

	env, err := ChildEnviron(payload)
	if err != nil {
		t.Fatalf("ChildEnviron: %v", err)
	}

	const prefix = childPayloadEnv + "="
	if len(env) <= len(prefix) || env[:len(prefix)] != prefix {
		t.Fatalf("unexpected env entry shape: %q", env)
	}
	encoded := env[len(prefix):]

	got, err := DecodeChildPayload(encoded)
	if err != nil {
		t.Fatalf("DecodeChildPayload: %v", err)
	}
	if got.Spec.Path != payload.Spec.Path || got.Meta.UUID != payload.Meta.UUID || got.Iteration != payload.Iteration {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestDecodeChildPayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodeChildPayload("not-base64!!"); err == nil {
		t.Fatal("expected decode error for invalid base64")
	}
}

func TestChildPayloadFromEnvironMissing(t *testing.T) {
	t.Setenv(childPayloadEnv, "")
	if _, err := ChildPayloadFromEnviron(); err == nil {
		t.Fatal("expected error when env var is unset")
	}
}

func TestRunOnceSendsProfile(t *testing.T) {
	clientNC, serverNC := net.Pipe()
	defer clientNC.Close()
	defer serverNC.Close()

	profileConn := frame.NewConn(clientNC)
	serverBus := bus.New(frame.NewConn(serverNC), 0)

	engine := &guestfake.Engine{
		MemorySize: 65536,
		Globals:    map[string]uint32{"__inst_membase": 0, "__inst_max": 16},
		Threads: []guestfake.ThreadProgram{
			{TID: 1, Accesses: []guestfake.SimAccess{
				{Addr: 100, Opcode: access.OpI32Store, InstIdx: 0},
				{Addr: 100, Opcode: access.OpI32Load, InstIdx: 1},
			}},
		},
	}

	payload := ChildPayload{
		Spec:     modulespec.Spec{Path: "/guest/module.wasm"},
		Meta:     modulespec.Metadata{Index: 0, UUID: "u-1"},
		Settings: rtconfig.Defaults(),
	}
	payload.Settings.ProfilePaceFloorMillis = 0

	done := make(chan error, 1)
	go func() {
		done <- RunOnce(context.Background(), engine, payload, profileConn)
	}()

	// PROFILE frames carry the control bit clear, so Recv classifies
	// them as ControlUnknown; the payload bytes are what matter here.
	msg, err := serverBus.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(msg.Payload) == 0 {
		t.Fatal("expected non-empty profile payload")
	}

	if err := <-done; err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
}

func TestWriteStochasticMaskOutOfBounds(t *testing.T) {
	engine := &guestfake.Engine{
		MemorySize: 100,
		Globals:    map[string]uint32{"__inst_membase": 0, "__inst_max": 1 << 20},
	}
	mod, loadErr := engine.Load(context.Background(), modulespec.Spec{})
	if loadErr != nil {
		t.Fatalf("Load: %v", loadErr)
	}
	realInst, instErr := mod.Instantiate(context.Background(), rtconfig.Defaults())
	if instErr != nil {
		t.Fatalf("Instantiate: %v", instErr)
	}

	instr := &modulespec.Instrumentation{Scheme: "memaccess-stochastic", Args: []string{"50"}}
	if err := writeStochasticMask(realInst, instr, 0); err == nil {
		t.Fatal("expected out-of-bounds error")
	}
}

func TestWriteStochasticMaskFillsRegion(t *testing.T) {
	engine := &guestfake.Engine{
		MemorySize: 65536,
		Globals:    map[string]uint32{"__inst_membase": 0, "__inst_max": 64},
	}
	mod, err := engine.Load(context.Background(), modulespec.Spec{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	inst, err := mod.Instantiate(context.Background(), rtconfig.Defaults())
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}

	instr := &modulespec.Instrumentation{Scheme: "memaccess-stochastic", Args: []string{"100"}}
	if err := writeStochasticMask(inst, instr, 3); err != nil {
		t.Fatalf("writeStochasticMask: %v", err)
	}

	mem := inst.Memory()
	for i := uint32(0); i < 64; i++ {
		if mem[1+i] != 1 {
			t.Fatalf("byte %d not set under 100%% density", i)
		}
	}
}

func TestWriteStochasticMaskMissingDensityArg(t *testing.T) {
	engine := &guestfake.Engine{
		MemorySize: 65536,
		Globals:    map[string]uint32{"__inst_membase": 0, "__inst_max": 8},
	}
	mod, _ := engine.Load(context.Background(), modulespec.Spec{})
	inst, _ := mod.Instantiate(context.Background(), rtconfig.Defaults())

	instr := &modulespec.Instrumentation{Scheme: "memaccess-stochastic"}
	if err := writeStochasticMask(inst, instr, 0); err == nil {
		t.Fatal("expected error for missing density argument")
	}
}

// newTestSupervisor backs the Supervisor with a real in-memory Store so
// tests can assert on recorded outcomes without touching disk.
func newTestSupervisor(t *testing.T, selfPath string, childArgs []string, timeoutSeconds int) (*Supervisor, *history.Store) {
	t.Helper()
	store, err := history.Open(":memory:")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	settings := rtconfig.Defaults()
	settings.DefaultTimeoutSeconds = timeoutSeconds

	return &Supervisor{
		SelfPath:  selfPath,
		Settings:  settings,
		History:   store,
		Log:       discardLogger(),
		ChildArgs: childArgs,
	}, store
}

func TestRunIterationSuccessRecordsHistory(t *testing.T) {
	sup, store := newTestSupervisor(t, "true", []string{}, 5)
	meta := modulespec.Metadata{Index: 0, UUID: "iter-success"}
	spec := modulespec.Spec{Path: "/guest/module.wasm", Repeat: 1}

	if ok := sup.runIteration(context.Background(), spec, meta, 0); !ok {
		t.Fatal("expected successful iteration")
	}

	recent, err := store.Recent(meta.UUID, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Outcome != history.OutcomeSuccess {
		t.Fatalf("unexpected history: %+v", recent)
	}
}

func TestRunIterationFailureRecordsHistory(t *testing.T) {
	sup, store := newTestSupervisor(t, "false", []string{}, 5)
	meta := modulespec.Metadata{Index: 0, UUID: "iter-fail"}
	spec := modulespec.Spec{Path: "/guest/module.wasm", Repeat: 1}

	if ok := sup.runIteration(context.Background(), spec, meta, 0); ok {
		t.Fatal("expected failed iteration")
	}

	recent, err := store.Recent(meta.UUID, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Outcome != history.OutcomeFailureExit {
		t.Fatalf("unexpected history: %+v", recent)
	}
}

func TestRunIterationTimeout(t *testing.T) {
	sup, store := newTestSupervisor(t, "sleep", []string{"2"}, 0)
	sup.Settings.DefaultTimeoutSeconds = 0
	// A zero timeout collapses the iteration's context to an already
	// (near-)expired deadline, exercising the same code path a real
	// overrun would hit without the test itself waiting two seconds.
	meta := modulespec.Metadata{Index: 0, UUID: "iter-timeout"}
	spec := modulespec.Spec{Path: "/guest/module.wasm", Repeat: 1}

	if ok := sup.runIteration(context.Background(), spec, meta, 0); ok {
		t.Fatal("expected timed-out iteration to report failure")
	}

	recent, err := store.Recent(meta.UUID, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Outcome != history.OutcomeFailureTimeout {
		t.Fatalf("unexpected history: %+v", recent)
	}
}

func TestRunRepeatExecutesExactlyRepeatIterations(t *testing.T) {
	sup, _ := newTestSupervisor(t, "true", []string{}, 5)
	spec := modulespec.Spec{Path: "/guest/module.wasm", Repeat: 4}
	meta := modulespec.Metadata{Index: 0, UUID: "repeat-count"}

	success, total := sup.runRepeat(context.Background(), spec, meta)
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	if success != 4 {
		t.Fatalf("success = %d, want 4", success)
	}
}

func TestRunRepeatCountsFailuresSeparately(t *testing.T) {
	sup, _ := newTestSupervisor(t, "false", []string{}, 5)
	spec := modulespec.Spec{Path: "/guest/module.wasm", Repeat: 3}
	meta := modulespec.Metadata{Index: 0, UUID: "repeat-fail"}

	success, total := sup.runRepeat(context.Background(), spec, meta)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if success != 0 {
		t.Fatalf("success = %d, want 0", success)
	}
}

func TestRunBudgetStopsStartingNewIterationsAfterDeadline(t *testing.T) {
	sup, _ := newTestSupervisor(t, "true", []string{}, 5)
	sup.BudgetSeconds = 1
	spec := modulespec.Spec{Path: "/guest/module.wasm", Repeat: 1}
	meta := modulespec.Metadata{Index: 0, UUID: "budget-count"}

	_, total := sup.runBudget(context.Background(), spec, meta)
	if total == 0 {
		t.Fatal("expected at least one iteration before the budget elapsed")
	}
}

func TestChildArgsDefaultsToIterationFlag(t *testing.T) {
	sup := &Supervisor{}
	got := sup.childArgs()
	if len(got) != 1 || got[0] != IterationChildFlag {
		t.Fatalf("childArgs() = %v, want [%s]", got, IterationChildFlag)
	}
}

func TestChildArgsHonorsOverride(t *testing.T) {
	sup := &Supervisor{ChildArgs: []string{"--custom"}}
	got := sup.childArgs()
	if len(got) != 1 || got[0] != "--custom" {
		t.Fatalf("childArgs() = %v, want [--custom]", got)
	}
}
