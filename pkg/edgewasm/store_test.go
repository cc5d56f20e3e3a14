package edgewasm

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestWorkerContext_AppendLogAndSnapshot(t *testing.T) {
	wc := newWorkerContext("", 1000)
	wc.AppendLog(LogLevelInfo, "hello")
	wc.AppendLog(LogLevelError, "world")

	logs := wc.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Message != "hello" || logs[0].Level != LogLevelInfo {
		t.Fatalf("unexpected first entry: %+v", logs[0])
	}
	if logs[1].Message != "world" || logs[1].Level != LogLevelError {
		t.Fatalf("unexpected second entry: %+v", logs[1])
	}
}

func TestWorkerContext_LogsBeyondCapAreDroppedNotFailed(t *testing.T) {
	wc := newWorkerContext("", 1000)
	wc.logCap = 3
	for i := 0; i < 5; i++ {
		wc.AppendLog(LogLevelDebug, "x")
	}
	logs := wc.Logs()
	if len(logs) != 3 {
		t.Fatalf("expected logs capped at 3, got %d", len(logs))
	}
	if got := wc.Metrics().LogsDropped; got != 2 {
		t.Fatalf("expected 2 dropped logs counted, got %d", got)
	}
}

func TestWorkerContext_CheckAndIncrementHTTPRequests(t *testing.T) {
	wc := newWorkerContext("", 1000)
	for i := 0; i < 3; i++ {
		if !wc.CheckAndIncrementHTTPRequests(3) {
			t.Fatalf("expected request %d to be allowed under cap 3", i)
		}
	}
	if wc.CheckAndIncrementHTTPRequests(3) {
		t.Fatal("expected the 4th request to be rejected once the cap is reached")
	}
	if got := wc.Metrics().HTTPRequestCount; got != 3 {
		t.Fatalf("expected 3 counted requests, got %d", got)
	}
}

func TestWorkerContext_ChargeHostCallDeductsFixedCost(t *testing.T) {
	wc := newWorkerContext("", hostCallFuelCost*2)
	if !wc.ChargeHostCall() {
		t.Fatal("expected fuel to remain after the first charge")
	}
	if wc.ChargeHostCall() {
		t.Fatal("expected the second charge to exhaust the budget")
	}
	if got := wc.Metrics().FuelConsumed; got != hostCallFuelCost*2 {
		t.Fatalf("expected %d fuel consumed, got %d", hostCallFuelCost*2, got)
	}
}

func TestContextWithWorkerContext_RoundTrips(t *testing.T) {
	wc := newWorkerContext("req-1", 1000)
	ctx := ContextWithWorkerContext(context.Background(), wc)

	got, ok := WorkerContextFromContext(ctx)
	if !ok {
		t.Fatal("expected a WorkerContext to be recoverable from the context")
	}
	if got != wc {
		t.Fatal("expected the same WorkerContext pointer back")
	}
}

func TestWorkerContextFromContext_MissingReturnsFalse(t *testing.T) {
	_, ok := WorkerContextFromContext(context.Background())
	if ok {
		t.Fatal("expected no WorkerContext in a bare context")
	}
}

// TestContextThreading_IsolatesConcurrentInvocations exercises testable
// property 4: two invocations sharing one Engine must never observe
// each other's WorkerContext state, since each gets its own context
// rather than a field mutated on a shared object.
func TestContextThreading_IsolatesConcurrentInvocations(t *testing.T) {
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			wc := newWorkerContext("", 1_000_000)
			ctx := ContextWithWorkerContext(context.Background(), wc)
			for j := 0; j < 10; j++ {
				wc.AppendLog(LogLevelInfo, "tick")
			}
			got, ok := WorkerContextFromContext(ctx)
			if !ok || got != wc {
				t.Errorf("goroutine %d: expected to recover its own WorkerContext", idx)
				return
			}
			if len(got.Logs()) != 10 {
				t.Errorf("goroutine %d: expected 10 of its own log entries, got %d", idx, len(got.Logs()))
			}
		}(i)
	}
	wg.Wait()
}

func newStoreTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = true
	cfg.EpochTickPeriodMS = 1
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func TestCreateStore_BindsWorkerContextAndDeadline(t *testing.T) {
	e := newStoreTestEngine(t)
	execCfg := DefaultExecutionConfig()
	store, ctx := CreateStore(context.Background(), e, execCfg, "req-42")
	defer store.Release()

	if store.WorkerCtx.RequestID != "req-42" {
		t.Fatalf("expected request ID req-42, got %q", store.WorkerCtx.RequestID)
	}
	wc, ok := WorkerContextFromContext(ctx)
	if !ok || wc != store.WorkerCtx {
		t.Fatal("expected the returned context to carry the store's WorkerContext")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		t.Fatal("expected the returned context to carry a deadline")
	}
}

func TestCreateStore_GeneratesRequestIDWhenEmpty(t *testing.T) {
	e := newStoreTestEngine(t)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()

	if store.WorkerCtx.RequestID == "" {
		t.Fatal("expected a generated request ID when none is supplied")
	}
}

func TestCreateStore_FuelMeteringDisabledGrantsEffectivelyUnlimitedFuel(t *testing.T) {
	e := newStoreTestEngine(t)
	execCfg := DefaultExecutionConfig()
	execCfg.FuelMetering = false
	store, _ := CreateStore(context.Background(), e, execCfg, "")
	defer store.Release()

	for i := 0; i < 1000; i++ {
		store.WorkerCtx.ChargeHostCall()
	}
	if store.WorkerCtx.Fuel.Exhausted() {
		t.Fatal("expected fuel metering disabled to leave the budget effectively unlimited")
	}
}

func TestStore_OnEpochTickChargesFuelAndSetsTrapReason(t *testing.T) {
	e := newStoreTestEngine(t)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig(), "")
	defer store.Release()
	// Force exhaustion on the very next tick regardless of how CreateStore
	// calibrated this store's real tick cost, since that calibration has
	// its own dedicated test (TestCalibrateTickFuelCost).
	store.tickFuelCost = store.WorkerCtx.Fuel.Remaining()

	store.onEpochTick(e.currentEpoch() + 1)

	reason, ok := store.TrapReason()
	if !ok || reason != TrapCodeFuelExhausted {
		t.Fatalf("expected TrapCodeFuelExhausted after exhausting fuel via epoch ticks, got %v (ok=%v)", reason, ok)
	}
	if !store.WorkerCtx.Fuel.Exhausted() {
		t.Fatal("expected the fuel meter itself to report exhausted")
	}
}

func TestStore_OnEpochTickSetsTimeoutTrapReasonAtDeadline(t *testing.T) {
	e := newStoreTestEngine(t)
	execCfg := DefaultExecutionConfig().WithFuel(1_000_000_000)
	store, _ := CreateStore(context.Background(), e, execCfg, "")
	defer store.Release()

	store.deadlineEpoch = e.currentEpoch()
	store.onEpochTick(e.currentEpoch())

	reason, ok := store.TrapReason()
	if !ok || reason != TrapCodeTimeout {
		t.Fatalf("expected TrapCodeTimeout once the deadline epoch is reached, got %v (ok=%v)", reason, ok)
	}
}

func TestStore_TrapReasonIsSetOnce(t *testing.T) {
	e := newStoreTestEngine(t)
	execCfg := DefaultExecutionConfig().WithFuel(epochTickFuelCost)
	store, _ := CreateStore(context.Background(), e, execCfg, "")
	defer store.Release()

	store.setTrapReason(TrapCodeFuelExhausted)
	store.setTrapReason(TrapCodeTimeout)

	reason, ok := store.TrapReason()
	if !ok || reason != TrapCodeFuelExhausted {
		t.Fatalf("expected the first trap reason to win, got %v", reason)
	}
}

func TestCalculateFuelConsumed(t *testing.T) {
	e := newStoreTestEngine(t)
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig().WithFuel(1000), "")
	defer store.Release()

	initial := store.WorkerCtx.Fuel.Remaining()
	store.WorkerCtx.Fuel.Charge(400)

	if got := CalculateFuelConsumed(initial, store); got != 400 {
		t.Fatalf("expected 400 consumed, got %d", got)
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ a, b, want uint64 }{
		{10, 3, 4},
		{9, 3, 3},
		{0, 3, 0},
		{5, 0, 5},
	}
	for _, c := range cases {
		if got := ceilDiv(c.a, c.b); got != c.want {
			t.Fatalf("ceilDiv(%d, %d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
