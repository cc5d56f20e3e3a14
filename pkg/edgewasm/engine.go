package edgewasm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hszk-dev/edge-runtime/pkg/edgewasm/cache"
	"github.com/hszk-dev/edge-runtime/pkg/edgewasm/pool"
)

// HostBinder registers a guest-facing host module onto a wazero runtime.
// edgewasm depends only on this interface, not on the concrete
// hostfuncs package, so hostfuncs can in turn depend on edgewasm's
// exported types (WorkerContext, LogLevel, ...) without an import
// cycle. The hostfuncs package's linker type implements this interface.
type HostBinder interface {
	Bind(ctx context.Context, runtime wazero.Runtime) error
}

// engineMetrics are the in-process Prometheus collectors this runtime
// exposes. They are registered against whichever registerer is supplied
// to NewEngine (or prometheus.DefaultRegisterer if none is given) and
// are never pushed anywhere — persistent metrics export is explicitly
// out of scope.
type engineMetrics struct {
	invocations     *prometheus.CounterVec
	duration        prometheus.Histogram
	fuelConsumed    prometheus.Histogram
	activeInstances prometheus.Gauge
}

func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	m := &engineMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgewasm_invocations_total",
			Help: "Total guest invocations by terminal status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgewasm_invocation_duration_seconds",
			Help:    "Invocation wall-clock duration.",
			Buckets: prometheus.DefBuckets,
		}),
		fuelConsumed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgewasm_fuel_consumed",
			Help:    "Fuel units consumed per invocation.",
			Buckets: prometheus.ExponentialBuckets(100, 4, 10),
		}),
		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edgewasm_active_instances",
			Help: "Guest instances currently executing.",
		}),
	}
	reg.MustRegister(m.invocations, m.duration, m.fuelConsumed, m.activeInstances)
	return m
}

// Engine owns the wazero runtime, the compiled-module cache, and the
// background epoch ticker for a process's lifetime. It is shared by
// every concurrent invocation (Send+Sync per the concurrency model) —
// only a Store is exclusive to one invocation.
type Engine struct {
	config *EngineConfig
	logger *zap.Logger

	runtime    wazero.Runtime
	hostBinder HostBinder

	moduleCache *cache.ModuleCache[*CompiledModule]
	pools       sync.Map // contentHash string -> *pool.InstancePool

	epoch        atomic.Uint64
	activeStores sync.Map // *Store -> struct{}
	tickerDone   chan struct{}
	tickerWG     sync.WaitGroup

	rateLimiter *rate.Limiter
	metrics     *engineMetrics

	closeOnce sync.Once
}

// EngineOption customizes construction beyond EngineConfig, for
// collaborators that don't belong in a serializable config struct
// (loggers, registerers, host bindings).
type EngineOption func(*Engine)

// WithLogger attaches a structured logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithHostBinder attaches the guest-facing host module implementation
// (normally hostfuncs.New(...)). Required for any guest that imports
// logging or http-outbound; an engine with no binder can still run
// modules with no imports (testable scenario S1, S2, S4).
func WithHostBinder(b HostBinder) EngineOption {
	return func(e *Engine) { e.hostBinder = b }
}

// WithRateLimiter installs an engine-level global invocation throttle,
// a distinct axis from the per-invocation max_http_requests counter
// enforced in hostfuncs.
func WithRateLimiter(limiter *rate.Limiter) EngineOption {
	return func(e *Engine) { e.rateLimiter = limiter }
}

// WithMetricsRegisterer overrides where Prometheus collectors are
// registered. Defaults to prometheus.DefaultRegisterer.
func WithMetricsRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.metrics = newEngineMetrics(reg) }
}

// NewEngine validates cfg, builds the underlying wazero runtime with
// close-on-context-done enabled (a cancelled store context is what stops
// a running guest, standing in for epoch interruption at the wazero
// layer) and a per-instance memory page limit derived from
// InstanceMemoryMB, instantiates WASI once, and starts the background
// epoch ticker when epoch interruption is configured. No async-call or
// optimization-level setting is applied; the runtime keeps wazero's
// defaults for both.
func NewEngine(cfg *EngineConfig, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultEngineConfig()
	}
	cfg.ApplyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}

	rtCfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	if cfg.InstanceMemoryMB > 0 {
		pages := uint32(cfg.InstanceMemoryMB) * (1024 * 1024 / 65536)
		rtCfg = rtCfg.WithMemoryLimitPages(pages)
	}

	ctx := context.Background()
	runtime := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("%w: instantiating WASI: %v", ErrInvalidConfig, err)
	}

	e := &Engine{
		config:     cfg,
		logger:     zap.NewNop(),
		runtime:    runtime,
		tickerDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newEngineMetrics(prometheus.DefaultRegisterer)
	}
	e.moduleCache = cache.NewModuleCache[*CompiledModule](cfg.ModuleCacheSize, e.logger)

	if e.hostBinder != nil {
		if err := e.hostBinder.Bind(ctx, runtime); err != nil {
			runtime.Close(ctx)
			return nil, fmt.Errorf("%w: binding host module: %v", ErrInvalidConfig, err)
		}
	}

	if cfg.EpochInterruption {
		e.tickerWG.Add(1)
		go e.runEpochTicker()
	}

	e.logger.Info("edgewasm engine started",
		zap.Bool("pooling_allocator", cfg.PoolingAllocator),
		zap.Uint32("max_instances", cfg.MaxInstances),
		zap.Bool("epoch_interruption", cfg.EpochInterruption),
	)
	return e, nil
}

// IsPoolingEnabled reports whether the engine was configured with a
// pooling instance allocator.
func (e *Engine) IsPoolingEnabled() bool {
	return e.config.PoolingAllocator
}

func (e *Engine) currentEpoch() uint64 {
	return e.epoch.Load()
}

// IncrementEpoch atomically advances the shared epoch counter and
// charges every currently registered Store its per-tick fuel cost,
// cancelling any store whose deadline has elapsed or whose fuel has
// just been exhausted. Running stores trap at the next instruction
// boundary via their cancelled context, per §4.1.
func (e *Engine) IncrementEpoch() {
	newEpoch := e.epoch.Add(1)
	e.activeStores.Range(func(key, _ any) bool {
		key.(*Store).onEpochTick(newEpoch)
		return true
	})
}

func (e *Engine) runEpochTicker() {
	defer e.tickerWG.Done()
	period := time.Duration(e.config.EpochTickPeriodMS) * time.Millisecond
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-e.tickerDone:
			return
		case <-ticker.C:
			e.IncrementEpoch()
		}
	}
}

func (e *Engine) registerStore(s *Store) {
	e.activeStores.Store(s, struct{}{})
}

func (e *Engine) unregisterStore(s *Store) {
	e.activeStores.Delete(s)
}

// Allow checks the engine-level global invocation throttle, if one was
// configured via WithRateLimiter. An engine with no limiter always
// allows.
func (e *Engine) Allow() bool {
	if e.rateLimiter == nil {
		return true
	}
	return e.rateLimiter.Allow()
}

// Precompile compiles wasmBytes and stores the result in the module
// cache keyed by content hash, returning a cache hit untouched if the
// same bytes were already compiled (testable property 7: identical
// bytes always yield the same content hash).
func (e *Engine) Precompile(ctx context.Context, wasmBytes []byte) (*CompiledModule, error) {
	hash := contentHash(wasmBytes)
	return e.moduleCache.GetOrCompute(hash, func() (*CompiledModule, error) {
		return FromBytes(ctx, e, wasmBytes)
	})
}

// Invalidate evicts a cached compiled module by its content hash, if
// present.
func (e *Engine) Invalidate(contentHash string) {
	e.moduleCache.Evict(contentHash)
}

// GetCacheStats reports the module cache's current size and capacity.
func (e *Engine) GetCacheStats() (size, capacity int) {
	return e.moduleCache.Stats()
}

// instancePoolFor returns the lazily-created InstancePool for module,
// pre-warming none and capping at the engine's MaxInstances. Each
// pooled instance is instantiated with stdout/stderr discarded, since a
// pooled instance's ModuleConfig is fixed for that instance's entire
// recycled lifetime and cannot be swapped in for each caller's own
// buffer the way the unpooled path in runner.go does — pooled
// invocations rely on the logging host function (which threads through
// the per-call WorkerContext regardless of pooling) rather than raw
// WASI stdout for guest-emitted output.
func (e *Engine) instancePoolFor(module *CompiledModule) (*pool.InstancePool, error) {
	if v, ok := e.pools.Load(module.ContentHash); ok {
		return v.(*pool.InstancePool), nil
	}

	factory := pool.ModuleFactoryFunc(func(ctx context.Context) (api.Module, error) {
		modCfg := wazero.NewModuleConfig().
			WithStdin(bytes.NewReader(nil)).
			WithStdout(io.Discard).
			WithStderr(io.Discard).
			WithStartFunctions()
		return e.runtime.InstantiateModule(ctx, module.Compiled(), modCfg)
	})
	p, err := pool.New(context.Background(), pool.Config{
		MinWarm:      0,
		MaxInstances: int(e.config.MaxInstances),
		Factory:      factory,
	})
	if err != nil {
		return nil, err
	}

	actual, loaded := e.pools.LoadOrStore(module.ContentHash, p)
	if loaded {
		// Another goroutine raced us to create the pool for this module;
		// discard ours (it pre-warmed nothing, so this is cheap).
		p.Shutdown(context.Background())
		return actual.(*pool.InstancePool), nil
	}
	return p, nil
}

// AcquireInstance checks out a pooled instance of module, instantiating
// a fresh pool for it on first use. Callers must pair every successful
// call with ReleaseInstance.
func (e *Engine) AcquireInstance(ctx context.Context, module *CompiledModule) (api.Module, error) {
	p, err := e.instancePoolFor(module)
	if err != nil {
		return nil, err
	}
	return p.Acquire(ctx)
}

// ReleaseInstance returns instance, previously obtained from
// AcquireInstance, to module's pool.
func (e *Engine) ReleaseInstance(ctx context.Context, module *CompiledModule, instance api.Module) {
	p, err := e.instancePoolFor(module)
	if err != nil {
		return
	}
	p.Release(ctx, instance)
}

// Close stops the epoch ticker, closes every cached compiled module and
// instance pool, and tears down the wazero runtime. Safe to call once;
// subsequent calls are no-ops. Per §6, one Engine is expected per
// process, torn down at process exit.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		if e.config.EpochInterruption {
			close(e.tickerDone)
			e.tickerWG.Wait()
		}
		e.pools.Range(func(_, v any) bool {
			v.(*pool.InstancePool).Shutdown(ctx)
			return true
		})
		e.moduleCache.Close(ctx)
		err = e.runtime.Close(ctx)
	})
	return err
}
