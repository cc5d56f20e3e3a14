package edgewasm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultLogCap is the soft cap on logs accumulated per invocation
// (§7's "policy, not an error"). Entries beyond this are dropped and
// counted in Metrics.LogsDropped rather than returned to the guest as a
// failure.
const DefaultLogCap = 10_000

type workerContextKey struct{}

// ContextWithWorkerContext binds wc to ctx so host functions invoked
// during this call tree can recover the invocation's state via
// WorkerContextFromContext. Each invocation gets its own WorkerContext
// threaded through its own context, so concurrent invocations never
// observe each other's state (testable property 4) even though they
// share one Engine and one registered host module.
func ContextWithWorkerContext(ctx context.Context, wc *WorkerContext) context.Context {
	return context.WithValue(ctx, workerContextKey{}, wc)
}

// WorkerContextFromContext recovers the WorkerContext bound by
// ContextWithWorkerContext, if any.
func WorkerContextFromContext(ctx context.Context) (*WorkerContext, bool) {
	wc, ok := ctx.Value(workerContextKey{}).(*WorkerContext)
	return wc, ok
}

// WorkerContext is the per-invocation mutable state described in the
// data model: capability handles are reached indirectly (host functions
// read Permissions themselves), but logs, metrics, and the fuel meter
// all live here.
type WorkerContext struct {
	RequestID string
	StartTime time.Time
	Fuel      *FuelMeter

	mu           sync.Mutex
	logs         []LogEntry
	logCap       int
	logsDropped  uint64
	httpRequests uint32
}

func newWorkerContext(requestID string, fuelBudget uint64) *WorkerContext {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &WorkerContext{
		RequestID: requestID,
		StartTime: time.Now(),
		Fuel:      NewFuelMeter(fuelBudget),
		logCap:    DefaultLogCap,
	}
}

// AppendLog implements the logging host function's "appends a LogEntry
// to the context's logs (bounded by a soft cap)" contract.
func (wc *WorkerContext) AppendLog(level LogLevel, message string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if len(wc.logs) >= wc.logCap {
		wc.logsDropped++
		return
	}
	wc.logs = append(wc.logs, LogEntry{Level: level, Message: message, Timestamp: time.Now()})
}

// Logs returns a snapshot copy of the accumulated log entries.
func (wc *WorkerContext) Logs() []LogEntry {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	out := make([]LogEntry, len(wc.logs))
	copy(out, wc.logs)
	return out
}

// CheckAndIncrementHTTPRequests implements the rate-limit pipeline step
// of the outbound HTTP surface: "if request_count >= max_http_requests,
// fail rate-limited. Otherwise increment atomically." The caller
// supplies max because WorkerContext has no notion of Permissions.
func (wc *WorkerContext) CheckAndIncrementHTTPRequests(max uint32) bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.httpRequests >= max {
		return false
	}
	wc.httpRequests++
	return true
}

// ChargeHostCall deducts the fixed per-host-call fuel cost, as hostfuncs
// does at the entry of every guest-callable function. It reports
// whether fuel remains; hostfuncs does not act on a false result itself
// (the guest is trapped by the next epoch tick or by Charge's own
// clamping, not synchronously from within the host call), but exposing
// it lets callers log or short-circuit expensive work once exhausted.
func (wc *WorkerContext) ChargeHostCall() bool {
	return wc.Fuel.Charge(hostCallFuelCost)
}

// Metrics snapshots the accumulated resource usage.
func (wc *WorkerContext) Metrics() Metrics {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return Metrics{
		FuelConsumed:     wc.Fuel.Consumed(),
		Duration:         time.Since(wc.StartTime),
		LogsDropped:      wc.logsDropped,
		HTTPRequestCount: wc.httpRequests,
	}
}

// Store is per-request execution state bound to the Engine: the
// exclusive owner of one WorkerContext, a deadline context, and (while
// epoch interruption is enabled) a registration with the Engine's epoch
// ticker. A Store MUST NOT be shared between goroutines while its guest
// is running — it is single-threaded from the guest's perspective, as
// the concurrency model requires.
type Store struct {
	engine        *Engine
	WorkerCtx     *WorkerContext
	cancel        context.CancelFunc
	deadlineEpoch uint64
	tickFuelCost  uint64
	trapReason    atomic.Value // string
}

// CreateStore implements create_store(Engine, ExecutionConfig,
// request_id): constructs a WorkerContext, attaches a new store bound to
// the engine, sets initial fuel, and (if epoch interruption is enabled)
// computes the tick-counted deadline. It returns the Store and a
// context already carrying both the WorkerContext and the wall-clock
// deadline backstop; callers must use the returned context for the
// invocation and call Store.Release when done.
func CreateStore(parent context.Context, e *Engine, execCfg *ExecutionConfig, requestID string) (*Store, context.Context) {
	wc := newWorkerContext(requestID, execCfg.MaxFuel)
	if !execCfg.FuelMetering {
		wc.Fuel = NewFuelMeter(^uint64(0))
	}

	timeout := time.Duration(execCfg.TimeoutMS) * time.Millisecond
	ctx, cancel := context.WithTimeout(parent, timeout)
	ctx = ContextWithWorkerContext(ctx, wc)

	s := &Store{
		engine:       e,
		WorkerCtx:    wc,
		cancel:       cancel,
		tickFuelCost: epochTickFuelCost,
	}
	if e.config.EpochInterruption {
		ticks := ceilDiv(execCfg.TimeoutMS, uint64(e.config.EpochTickPeriodMS))
		s.deadlineEpoch = e.currentEpoch() + ticks
		if execCfg.FuelMetering {
			s.tickFuelCost = calibrateTickFuelCost(execCfg.MaxFuel, ticks)
		}
		e.registerStore(s)
	}
	return s, ctx
}

// Release detaches the store from its engine's epoch ticker and cancels
// its context, guaranteeing prompt cleanup of guest memory per the
// concurrency model's cancellation contract.
func (s *Store) Release() {
	if s.engine.config.EpochInterruption {
		s.engine.unregisterStore(s)
	}
	s.cancel()
}

// onEpochTick is invoked by the engine's epoch ticker for every store
// still registered. It charges this store's calibrated per-tick fuel
// cost and checks the wall-clock deadline, cancelling the store's
// context and recording why the moment either condition trips. Fuel is
// checked first, so a tick that both exhausts fuel and reaches the
// deadline is reported as TrapCodeFuelExhausted, not TrapCodeTimeout.
func (s *Store) onEpochTick(epoch uint64) {
	if !s.WorkerCtx.Fuel.Charge(s.tickFuelCost) {
		s.setTrapReason(TrapCodeFuelExhausted)
		s.cancel()
		return
	}
	if s.deadlineEpoch != 0 && epoch >= s.deadlineEpoch {
		s.setTrapReason(TrapCodeTimeout)
		s.cancel()
	}
}

func (s *Store) setTrapReason(code TrapCode) {
	s.trapReason.CompareAndSwap(nil, string(code))
}

// TrapReason reports which internal mechanism (if any) cancelled this
// store's context before the guest returned on its own.
func (s *Store) TrapReason() (TrapCode, bool) {
	v := s.trapReason.Load()
	if v == nil {
		return "", false
	}
	return TrapCode(v.(string)), true
}

// GetRemainingFuel reads the guest's live fuel counter.
func GetRemainingFuel(s *Store) uint64 {
	return s.WorkerCtx.Fuel.Remaining()
}

// CalculateFuelConsumed computes initial - remaining. Fuel underflow is
// impossible: FuelMeter.Charge clamps at zero.
func CalculateFuelConsumed(initial uint64, s *Store) uint64 {
	remaining := s.WorkerCtx.Fuel.Remaining()
	if remaining > initial {
		remaining = initial
	}
	return initial - remaining
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		b = 1
	}
	return (a + b - 1) / b
}
