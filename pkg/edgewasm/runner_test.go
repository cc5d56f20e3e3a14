package edgewasm

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func newRunnerTestEngine(t *testing.T, pooling bool) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = false
	cfg.PoolingAllocator = pooling
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func TestRun_SuccessReturnsSuccessStatusUnpooled(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, `(module (func (export "run")))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "req-success")

	result, err := Run(ctx, e, module, store, "run")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got status %v trap %q", result.Status, result.TrapMessage)
	}
	if result.RequestID != "req-success" {
		t.Fatalf("expected RequestID propagated, got %q", result.RequestID)
	}
}

func TestRun_SuccessReturnsSuccessStatusPooled(t *testing.T) {
	e := newRunnerTestEngine(t, true)
	module, err := FromWAT(context.Background(), e, `(module (func (export "run")))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "req-pooled")

	result, err := Run(ctx, e, module, store, "run")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got status %v trap %q", result.Status, result.TrapMessage)
	}
}

func TestRun_DefaultsEntryPointToStart(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, `(module (func (export "_start")))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	result, err := Run(ctx, e, module, store, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected success, got status %v", result.Status)
	}
}

func TestRun_UnreachableTrapsWithUnreachableCode(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, `(module (func (export "boom") unreachable))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	result, err := Run(ctx, e, module, store, "boom")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success() {
		t.Fatal("expected the unreachable instruction to trap")
	}
	if result.TrapCode != TrapCodeUnreachable {
		t.Fatalf("expected TrapCodeUnreachable, got %v (message %q)", result.TrapCode, result.TrapMessage)
	}
}

func TestRun_MissingEntryPointReturnsError(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, "(module)")
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	_, err = Run(ctx, e, module, store, "does-not-exist")
	if !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("expected ErrModuleNotFound for a missing entry point, got %v", err)
	}
}

func TestRun_ComponentVariantRejected(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	// FromComponentBytes tags the Variant without requiring a true
	// component-layer encoding, which is enough to exercise Run's
	// upfront variant check without hand-authoring real component bytes.
	module, err := FromComponentBytes(context.Background(), e, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("FromComponentBytes: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	_, err = Run(ctx, e, module, store, "run")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for a component module, got %v", err)
	}
}

func TestRun_ReleasesStoreRegardlessOfOutcome(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = true
	cfg.EpochTickPeriodMS = 10_000
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	module, err := FromWAT(context.Background(), e, `(module (func (export "boom") unreachable))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	if _, err := Run(ctx, e, module, store, "boom"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, stillRegistered := e.activeStores.Load(store); stillRegistered {
		t.Fatal("expected Run to unregister the store from the engine's epoch ticker")
	}
	if ctx.Err() == nil {
		t.Fatal("expected the store's context to be cancelled after Run returns")
	}
}

func TestSampleMemory_NoExportedMemoryReportsZero(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, `(module (func (export "run")))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	result, err := Run(ctx, e, module, store, "run")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Metrics.MemoryUsedBytes != 0 {
		t.Fatalf("expected 0 memory usage for a module with no exported memory, got %d", result.Metrics.MemoryUsedBytes)
	}
}

func TestClassifyTrap_PrefersStoreTrapReasonOverErrorInspection(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()
	store.setTrapReason(TrapCodeFuelExhausted)

	code, msg := classifyTrap(store, errors.New("context canceled"), "")
	if code != TrapCodeFuelExhausted {
		t.Fatalf("expected the store's own trap reason to win, got %v", code)
	}
	if msg == "" {
		t.Fatal("expected a non-empty trap message")
	}
}

func TestClassifyTrap_ContextDeadlineMapsToTimeout(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()

	code, _ := classifyTrap(store, context.DeadlineExceeded, "")
	if code != TrapCodeTimeout {
		t.Fatalf("expected TrapCodeTimeout, got %v", code)
	}
}

func TestClassifyTrap_UnreachableMessageMapsToUnreachable(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()

	code, _ := classifyTrap(store, errors.New("wasm error: unreachable"), "")
	if code != TrapCodeUnreachable {
		t.Fatalf("expected TrapCodeUnreachable, got %v", code)
	}
}

func TestClassifyTrap_MemoryMessageMapsToMemoryExceeded(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()

	code, _ := classifyTrap(store, errors.New("out of bounds memory access"), "")
	if code != TrapCodeMemoryExceeded {
		t.Fatalf("expected TrapCodeMemoryExceeded, got %v", code)
	}
}

func TestRun_CleanProcExitZeroReportsSuccess(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, `(module (func (export "_start") proc-exit:0))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	result, err := Run(ctx, e, module, store, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected a guest that calls proc_exit(0) to report success, got status %v trap %v (%q)", result.Status, result.TrapCode, result.TrapMessage)
	}
}

func TestRun_NonZeroProcExitReportsTrapCodeExitNotTimeout(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	module, err := FromWAT(context.Background(), e, `(module (func (export "_start") proc-exit:7))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	result, err := Run(ctx, e, module, store, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success() {
		t.Fatal("expected a non-zero proc_exit to trap, not succeed")
	}
	if result.TrapCode != TrapCodeExit {
		t.Fatalf("expected TrapCodeExit for a non-zero guest exit code, got %v (message %q)", result.TrapCode, result.TrapMessage)
	}
}

// TestRun_FuelExhaustionReachableUnderDefaultConfig proves scenario S2:
// a CPU-bound guest that never makes a host call must be able to trap
// TrapCodeFuelExhausted under DefaultEngineConfig/DefaultExecutionConfig,
// not always lose the race to the wall-clock timeout.
func TestRun_FuelExhaustionReachableUnderDefaultConfig(t *testing.T) {
	cfg := DefaultEngineConfig()
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	module, err := FromWAT(context.Background(), e, `(module (func (export "spin") spin-loop))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	store, ctx := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")

	result, err := Run(ctx, e, module, store, "spin")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Success() {
		t.Fatal("expected a host-call-free busy loop to trap rather than succeed")
	}
	if result.TrapCode != TrapCodeFuelExhausted {
		t.Fatalf("expected scenario S2 (fuel exhaustion) to be reachable under default config, got %v (message %q)", result.TrapCode, result.TrapMessage)
	}
}

func TestClassifyTrap_OtherAppendsStderr(t *testing.T) {
	e := newRunnerTestEngine(t, false)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()

	_, msg := classifyTrap(store, errors.New("something went wrong"), "guest stderr output")
	if msg != "something went wrong: guest stderr output" {
		t.Fatalf("expected stderr appended to the trap message, got %q", msg)
	}
}
