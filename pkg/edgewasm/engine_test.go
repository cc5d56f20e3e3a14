package edgewasm

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

func TestNewEngine_AppliesDefaultsAndStarts(t *testing.T) {
	e, err := NewEngine(nil, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	if !e.IsPoolingEnabled() {
		t.Fatal("expected pooling enabled by default")
	}
	if e.config.MaxInstances == 0 {
		t.Fatal("expected ApplyDefaults to set a non-zero MaxInstances")
	}
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	// ApplyDefaults only rewrites zero-valued fields, so a negative
	// ModuleCacheSize survives to Validate and NewEngine must reject it.
	cfg := DefaultEngineConfig()
	cfg.ModuleCacheSize = -1
	_, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err == nil {
		t.Fatal("expected NewEngine to reject a config with a negative ModuleCacheSize")
	}
}

func TestEngine_CloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestEngine_PrecompileCachesByContentHash(t *testing.T) {
	e := newTestEngine(t)
	wasmBytes := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	m1, err := e.Precompile(context.Background(), wasmBytes)
	if err != nil {
		t.Fatalf("Precompile: %v", err)
	}
	m2, err := e.Precompile(context.Background(), wasmBytes)
	if err != nil {
		t.Fatalf("Precompile: %v", err)
	}
	if m1 != m2 {
		t.Fatal("expected the second Precompile call to return the cached module")
	}

	size, _ := e.GetCacheStats()
	if size != 1 {
		t.Fatalf("expected cache size 1, got %d", size)
	}
}

func TestEngine_InvalidateEvictsCachedModule(t *testing.T) {
	e := newTestEngine(t)
	wasmBytes := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	m1, err := e.Precompile(context.Background(), wasmBytes)
	if err != nil {
		t.Fatalf("Precompile: %v", err)
	}
	e.Invalidate(m1.ContentHash)

	size, _ := e.GetCacheStats()
	if size != 0 {
		t.Fatalf("expected cache emptied after Invalidate, got size %d", size)
	}
}

func TestEngine_AllowWithNoRateLimiterAlwaysTrue(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < 5; i++ {
		if !e.Allow() {
			t.Fatal("expected Allow to always return true with no configured limiter")
		}
	}
}

func TestEngine_AllowRespectsConfiguredLimiter(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = false
	limiter := rate.NewLimiter(rate.Limit(0), 1)
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()), WithRateLimiter(limiter))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	if !e.Allow() {
		t.Fatal("expected the first call to consume the single burst token")
	}
	if e.Allow() {
		t.Fatal("expected the second call to be denied once the burst is exhausted")
	}
}

func TestEngine_IncrementEpochAdvancesAcrossActiveStores(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = true
	cfg.EpochTickPeriodMS = 10_000 // effectively disable the background ticker's own ticks during this test
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	before := e.currentEpoch()
	store, _ := CreateStore(context.Background(), e, DefaultExecutionConfig().WithFuel(1_000_000), "")
	defer store.Release()

	e.IncrementEpoch()

	if got := e.currentEpoch(); got != before+1 {
		t.Fatalf("expected epoch to advance by 1, got %d -> %d", before, got)
	}
	if got := store.WorkerCtx.Fuel.Consumed(); got < epochTickFuelCost {
		t.Fatalf("expected the registered store to be charged at least one tick's fuel, consumed %d", got)
	}
}

func TestEngine_AcquireAndReleaseInstanceRoundTrip(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = false
	cfg.PoolingAllocator = true
	cfg.MaxInstances = 2
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	module, err := FromWAT(context.Background(), e, "(module)")
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}

	inst, err := e.AcquireInstance(context.Background(), module)
	if err != nil {
		t.Fatalf("AcquireInstance: %v", err)
	}
	if inst == nil {
		t.Fatal("expected a non-nil instance")
	}
	e.ReleaseInstance(context.Background(), module, inst)

	inst2, err := e.AcquireInstance(context.Background(), module)
	if err != nil {
		t.Fatalf("second AcquireInstance: %v", err)
	}
	if inst2 == nil {
		t.Fatal("expected a non-nil instance on reacquire")
	}
	e.ReleaseInstance(context.Background(), module, inst2)
}

func TestEngine_InstancePoolIsPerContentHash(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = false
	cfg.MaxInstances = 4
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	m1, err := FromWAT(context.Background(), e, "(module)")
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	m2, err := FromWAT(context.Background(), e, `(module (func (export "run") unreachable))`)
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}

	i1, err := e.AcquireInstance(context.Background(), m1)
	if err != nil {
		t.Fatalf("AcquireInstance m1: %v", err)
	}
	i2, err := e.AcquireInstance(context.Background(), m2)
	if err != nil {
		t.Fatalf("AcquireInstance m2: %v", err)
	}
	e.ReleaseInstance(context.Background(), m1, i1)
	e.ReleaseInstance(context.Background(), m2, i2)

	p1, err := e.instancePoolFor(m1)
	if err != nil {
		t.Fatalf("instancePoolFor m1: %v", err)
	}
	p2, err := e.instancePoolFor(m2)
	if err != nil {
		t.Fatalf("instancePoolFor m2: %v", err)
	}
	if p1 == p2 {
		t.Fatal("expected distinct instance pools per compiled module content hash")
	}
}

func TestEngine_CloseShutsDownPools(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = false
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	module, err := FromWAT(context.Background(), e, "(module)")
	if err != nil {
		t.Fatalf("FromWAT: %v", err)
	}
	inst, err := e.AcquireInstance(context.Background(), module)
	if err != nil {
		t.Fatalf("AcquireInstance: %v", err)
	}
	e.ReleaseInstance(context.Background(), module, inst)

	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = e.AcquireInstance(context.Background(), module)
	if err == nil {
		t.Fatal("expected AcquireInstance to fail once the engine's pools are shut down")
	}
}

func TestEngine_EpochTickerRunsInBackground(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.EpochInterruption = true
	cfg.EpochTickPeriodMS = 1
	e, err := NewEngine(cfg, WithMetricsRegisterer(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close(context.Background())

	before := e.currentEpoch()
	time.Sleep(20 * time.Millisecond)
	after := e.currentEpoch()
	if after <= before {
		t.Fatalf("expected the background ticker to advance the epoch, before=%d after=%d", before, after)
	}
}
