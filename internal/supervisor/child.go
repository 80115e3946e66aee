package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/silverline-wasm/runtime-core/internal/access"
	"github.com/silverline-wasm/runtime-core/internal/bus"
	"github.com/silverline-wasm/runtime-core/internal/errs"
	"github.com/silverline-wasm/runtime-core/internal/frame"
	"github.com/silverline-wasm/runtime-core/internal/guest"
	"github.com/silverline-wasm/runtime-core/internal/modulespec"
	"github.com/silverline-wasm/runtime-core/internal/rtconfig"
)

// IterationChildFlag is the hidden argv[1] the parent re-execs itself
// with to run one iteration in a fresh process, the Go stand-in for
// the original's fork() + run_module_child.
const IterationChildFlag = "--iteration-child"

// childPayloadEnv carries one iteration's full context across the
// re-exec boundary, since a forked Go process can't simply inherit its
// parent's heap the way a real fork() would.
const childPayloadEnv = "SL_ITERATION_PAYLOAD"

// ChildPayload is everything RunOnce needs, reconstructed in the child
// from the parent's in-memory modulespec.Spec/Metadata and settings.
type ChildPayload struct {
	Spec      modulespec.Spec
	Meta      modulespec.Metadata
	Settings  rtconfig.RuntimeSettings
	Iteration int
}

// EncodeChildPayload serializes p for passing through an environment
// variable (argv is avoided so paths/args containing spaces or
// unusual bytes survive intact).
func EncodeChildPayload(p ChildPayload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode child payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeChildPayload reverses EncodeChildPayload.
func DecodeChildPayload(env string) (ChildPayload, error) {
	var p ChildPayload
	data, err := base64.StdEncoding.DecodeString(env)
	if err != nil {
		return p, fmt.Errorf("decode child payload: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode child payload: %w", err)
	}
	return p, nil
}

// ChildPayloadFromEnviron reads and decodes childPayloadEnv, for use by
// cmd/slruntime's hidden iteration-child entry point.
func ChildPayloadFromEnviron() (ChildPayload, error) {
	env := os.Getenv(childPayloadEnv)
	if env == "" {
		return ChildPayload{}, fmt.Errorf("missing %s", childPayloadEnv)
	}
	return DecodeChildPayload(env)
}

// ChildEnviron returns the environment entry carrying the encoded payload.
func ChildEnviron(p ChildPayload) (string, error) {
	encoded, err := EncodeChildPayload(p)
	if err != nil {
		return "", err
	}
	return childPayloadEnv + "=" + encoded, nil
}

// RunOnce executes one guest iteration end to end, grounded on
// run_module_once: load, instantiate, init instrumentation, optionally
// write a stochastic mask, run, measure, collect the profile, pace,
// send the profile, destroy. profileConn carries the frame the PROFILE message is
// written to — in production this is the fd the parent inherited to
// the child via ExtraFiles; tests pass an in-process pipe.
func RunOnce(ctx context.Context, engine guest.Engine, payload ChildPayload, profileConn *frame.Conn) error {
	spec := payload.Spec

	mod, err := engine.Load(ctx, spec)
	if err != nil {
		return fmt.Errorf("%w: guest load: %w", errs.ErrGuestLoad, err)
	}
	defer mod.Close()

	inst, err := mod.Instantiate(ctx, payload.Settings)
	if err != nil {
		return fmt.Errorf("%w: guest instantiate: %w", errs.ErrGuestLoad, err)
	}
	defer inst.Close()

	accessEngine, err := access.NewEngine(payload.Settings.AccessStrategy, payload.Settings.TsvdDelayUnits)
	if err != nil {
		return fmt.Errorf("%w: build access engine: %w", errs.ErrInstrumentation, err)
	}
	if err := accessEngine.Init(inst.MaxMemory()); err != nil {
		return fmt.Errorf("%w: init instrumentation: %w", errs.ErrInstrumentation, err)
	}
	defer accessEngine.Destroy()

	if spec.Instrument != nil && spec.Instrument.Scheme == "memaccess-stochastic" {
		if err := writeStochasticMask(inst, spec.Instrument, payload.Iteration); err != nil {
			return fmt.Errorf("write stochastic mask: %w", err)
		}
	}

	start := time.Now()
	runErr := inst.RunMain(ctx, spec.BuildArgv(), accessEngine.LogAccess)
	cpuTimeUS := uint64(time.Since(start).Microseconds())
	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: guest run: %w", errs.ErrTimeout, runErr)
		}
		return fmt.Errorf("%w: guest run: %w", errs.ErrGuestExecution, runErr)
	}

	prefix := access.RusagePrefix{CPUTimeUS: cpuTimeUS}.Encode()
	profile, err := accessEngine.CollectProfile(prefix)
	if err != nil {
		return fmt.Errorf("%w: collect profile: %w", errs.ErrInstrumentation, err)
	}

	paceFloor := time.Duration(payload.Settings.ProfilePaceFloorMillis) * time.Millisecond
	if elapsed := time.Since(start); elapsed < paceFloor {
		time.Sleep(paceFloor - elapsed)
	}

	b := bus.New(profileConn, payload.Meta.Index)
	if err := b.SendProfile(profile); err != nil {
		return fmt.Errorf("send profile: %w", err)
	}
	return nil
}

// writeStochasticMask mirrors run_module_once's density-driven random
// mask fill: it looks up __inst_membase/__inst_max guest globals and
// sets each byte of the mask region to 1 with probability density
// percent, and to 0 otherwise.
func writeStochasticMask(inst guest.Instance, instr *modulespec.Instrumentation, iteration int) error {
	if len(instr.Args) == 0 {
		return fmt.Errorf("memaccess-stochastic requires a density argument")
	}
	density, err := strconv.Atoi(instr.Args[0])
	if err != nil {
		return fmt.Errorf("parse density: %w", err)
	}

	const wasmPageSize = 65536
	memBase, err := inst.Global("__inst_membase")
	if err != nil {
		return err
	}
	maxInsts, err := inst.Global("__inst_max")
	if err != nil {
		return err
	}

	mem := inst.Memory()
	offset := memBase*wasmPageSize + 1
	if uint64(offset)+uint64(maxInsts) > uint64(len(mem)) {
		return fmt.Errorf("mask region out of bounds: offset=%d len=%d memSize=%d", offset, maxInsts, len(mem))
	}

	rng := rand.New(rand.NewPCG(uint64(iteration)+1, 0xda7a))
	for i := uint32(0); i < maxInsts; i++ {
		if rng.IntN(100) < density {
			mem[offset+i] = 1
		} else {
			mem[offset+i] = 0
		}
	}
	return nil
}
