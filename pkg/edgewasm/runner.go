package edgewasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("edgewasm")

// Run implements the instance-runner algorithm of §4.6: instantiate the
// compiled module against the Store's context, resolve entryPoint,
// execute it, and classify the outcome. The returned error is non-nil
// only for failures that occur before execution begins (unsatisfied
// imports, a missing entry point) — once the guest starts running,
// every outcome is reported through ExecutionResult with metrics
// attached, per the state machine's "all terminal states produce
// metrics" rule.
//
// Run consumes store: it always calls store.Release before returning,
// whatever the outcome.
func Run(ctx context.Context, e *Engine, module *CompiledModule, store *Store, entryPoint string) (*ExecutionResult, error) {
	defer store.Release()

	ctx, span := tracer.Start(ctx, "edgewasm.run", trace.WithAttributes(
		attribute.String("request_id", store.WorkerCtx.RequestID),
		attribute.String("content_hash", module.ContentHash),
	))
	defer span.End()

	if module.Variant == ModuleVariantComponent {
		return nil, fmt.Errorf("%w: component modules are not supported by this runtime's wazero version", ErrInvalidConfig)
	}

	// Pooled instances share one fixed ModuleConfig for their whole
	// recycled lifetime, so there is no per-call buffer to attach;
	// stderrBuf stays nil and classifyTrap gets an empty string in that
	// case (the unpooled path is what supplies stderr-enriched trap
	// messages).
	var (
		instance  api.Module
		stderrBuf *bytes.Buffer
		release   func()
	)
	if e.IsPoolingEnabled() {
		pooled, err := e.AcquireInstance(ctx, module)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		instance = pooled
		release = func() { e.ReleaseInstance(context.WithoutCancel(ctx), module, pooled) }
	} else {
		stderrBuf = new(bytes.Buffer)
		modCfg := wazero.NewModuleConfig().
			WithName(store.WorkerCtx.RequestID).
			WithStdin(bytes.NewReader(nil)).
			WithStdout(new(bytes.Buffer)).
			WithStderr(stderrBuf).
			WithStartFunctions() // disabled: this runtime resolves and calls entry points explicitly

		inst, err := e.runtime.InstantiateModule(ctx, module.Compiled(), modCfg)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		instance = inst
		release = func() { inst.Close(context.WithoutCancel(ctx)) }
	}
	defer release()

	name := entryPoint
	if name == "" {
		name = "_start"
	}
	fn := instance.ExportedFunction(name)
	if fn == nil {
		err := fmt.Errorf("%w: entry point %q is not exported", ErrModuleNotFound, name)
		span.RecordError(err)
		return nil, err
	}

	initialFuel := store.WorkerCtx.Fuel.Remaining()
	_, callErr := fn.Call(ctx)

	// A WASI guest's normal completion path is proc_exit, which wazero
	// surfaces as a *sys.ExitError rather than a nil error even on
	// success. Only a non-zero exit code is a real failure; exit code 0
	// is scenario S1's ordinary success path, not a trap.
	var exitErr *sys.ExitError
	if errors.As(callErr, &exitErr) && exitErr.ExitCode() == 0 {
		callErr = nil
	}

	metrics := store.WorkerCtx.Metrics()
	metrics.MemoryUsedBytes = sampleMemory(instance)
	result := &ExecutionResult{
		Logs:      store.WorkerCtx.Logs(),
		Metrics:   metrics,
		RequestID: store.WorkerCtx.RequestID,
	}

	if callErr == nil {
		result.Status = ExecutionStatusSuccess
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int64("fuel_consumed", int64(CalculateFuelConsumed(initialFuel, store))))
		return result, nil
	}

	var stderr string
	if stderrBuf != nil {
		stderr = stderrBuf.String()
	}
	result.Status = ExecutionStatusTrap
	result.TrapCode, result.TrapMessage = classifyTrap(store, callErr, stderr)
	span.SetStatus(codes.Error, string(result.TrapCode))
	span.SetAttributes(
		attribute.String("trap_code", string(result.TrapCode)),
		attribute.Int64("fuel_consumed", int64(CalculateFuelConsumed(initialFuel, store))),
	)
	return result, nil
}

// sampleMemory reads the default linear memory's current size in
// bytes. A module with no exported memory (unusual but not invalid for
// a core module with no data) reports zero.
func sampleMemory(instance api.Module) uint64 {
	mem := instance.ExportedMemory("memory")
	if mem == nil {
		return 0
	}
	return uint64(mem.Size())
}

// classifyTrap maps a wazero execution error to this runtime's TrapCode
// taxonomy. Engine-driven cancellation (fuel exhaustion, epoch
// deadline) is classified first from the Store's own bookkeeping, since
// that is the only way to distinguish "fuel ran out" from "wall clock
// ran out" once both manifest as the same cancelled context to wazero.
// What remains is grounded on zkoranges-go-claw's classifyFault
// (internal/sandbox/wasm/host.go), which the teacher itself has no
// equivalent of.
func classifyTrap(store *Store, err error, stderr string) (TrapCode, string) {
	if reason, ok := store.TrapReason(); ok {
		return reason, err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TrapCodeTimeout, err.Error()
	}
	// Exit code 0 never reaches here: Run already rewrites a clean
	// proc_exit into a nil error before trap classification runs. A
	// *sys.ExitError surviving to this point is always a non-zero,
	// abnormal exit, and must be reported as its own trap code rather
	// than folded into TrapCodeTimeout, which is reserved for the
	// wall-clock/epoch deadline path.
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return TrapCodeExit, err.Error()
	}
	msg := err.Error()
	if strings.Contains(msg, "unreachable") {
		return TrapCodeUnreachable, msg
	}
	if strings.Contains(msg, "out of bounds memory access") || strings.Contains(msg, "memory") {
		return TrapCodeMemoryExceeded, msg
	}
	if stderr != "" {
		msg = msg + ": " + stderr
	}
	return TrapCodeOther, msg
}
