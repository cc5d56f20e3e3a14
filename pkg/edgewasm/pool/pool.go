// Package pool implements the reusable-instance pooling wazero itself
// doesn't provide: wasmtime exposes a PoolingAllocator, wazero does
// not, so §4.8 of the runtime's design asks for an equivalent built on
// top of plain api.Module instantiation — pre-warmed, reset-on-return,
// capped at a maximum and blocking past it. The shape (min/max
// instances, blocking Acquire, context-cancellable) mirrors the one
// okra-platform-okra uses for its WASM worker pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
)

// ErrPoolClosed is returned by Acquire once Shutdown has completed.
var ErrPoolClosed = errors.New("pool: instance pool is shut down")

// ModuleFactory instantiates a fresh guest instance of one compiled
// module. edgewasm.CompiledModule, paired with a wazero.Runtime and a
// wazero.ModuleConfig, is the production implementation; tests supply
// a fake.
type ModuleFactory interface {
	Instantiate(ctx context.Context) (api.Module, error)
}

// ModuleFactoryFunc adapts a plain function to ModuleFactory.
type ModuleFactoryFunc func(ctx context.Context) (api.Module, error)

func (f ModuleFactoryFunc) Instantiate(ctx context.Context) (api.Module, error) {
	return f(ctx)
}

// Config configures one InstancePool.
type Config struct {
	// MinWarm instances are created synchronously by New and kept idle,
	// ready for the first Acquire calls to skip instantiation latency.
	MinWarm int
	// MaxInstances bounds how many instances may exist concurrently
	// (idle + active). Fed from EngineConfig.MaxInstances.
	MaxInstances int
	Factory      ModuleFactory
}

func (c Config) validate() error {
	if c.MinWarm < 0 {
		return errors.New("pool: min warm instances cannot be negative")
	}
	if c.MaxInstances < 1 {
		return errors.New("pool: max instances must be at least 1")
	}
	if c.MinWarm > c.MaxInstances {
		return errors.New("pool: min warm instances cannot exceed max instances")
	}
	if c.Factory == nil {
		return errors.New("pool: factory cannot be nil")
	}
	return nil
}

// InstancePool recycles api.Module instances belonging to a single
// CompiledModule. It is safe for concurrent use.
type InstancePool struct {
	cfg Config

	mu      sync.Mutex
	idle    []api.Module
	active  int
	closed  bool
	waiters []chan struct{}
}

// New constructs a pool and synchronously pre-warms MinWarm instances.
// If pre-warming any of them fails, already-created instances are
// closed and the error is returned — mirroring the teacher's
// fail-during-prewarm behavior.
func New(ctx context.Context, cfg Config) (*InstancePool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := &InstancePool{cfg: cfg}
	for i := 0; i < cfg.MinWarm; i++ {
		inst, err := cfg.Factory.Instantiate(ctx)
		if err != nil {
			p.closeIdleLocked(ctx)
			return nil, fmt.Errorf("pool: pre-warming instance %d: %w", i, err)
		}
		p.idle = append(p.idle, inst)
	}
	return p, nil
}

// Acquire returns an idle instance if one exists, instantiates a fresh
// one if the pool has not yet reached MaxInstances, or blocks until
// either happens or ctx is done.
func (p *InstancePool) Acquire(ctx context.Context) (api.Module, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if n := len(p.idle); n > 0 {
			inst := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.active++
			p.mu.Unlock()
			return inst, nil
		}
		if p.active < p.cfg.MaxInstances {
			p.active++
			p.mu.Unlock()
			inst, err := p.cfg.Factory.Instantiate(ctx)
			if err != nil {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
				p.wakeOne()
				return nil, err
			}
			return inst, nil
		}

		wait := make(chan struct{})
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()

		select {
		case <-wait:
			// Retry: idle or capacity may now be available.
		case <-ctx.Done():
			p.removeWaiter(wait)
			return nil, ctx.Err()
		}
	}
}

// Release returns instance to the pool. Per §4.8's "reset of a
// pre-reserved slot", a used instance is never handed to the next
// Acquire as-is — wazero has no API to zero an instance's existing
// linear memory and globals in place, so Release closes it and eagerly
// instantiates its replacement, which is what the next Acquire will
// find idle. If re-instantiation fails, the slot is freed instead of
// leaked, so a later Acquire instantiates a replacement on demand.
func (p *InstancePool) Release(ctx context.Context, instance api.Module) {
	_ = instance.Close(ctx)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.wakeOne()
		return
	}

	fresh, err := p.cfg.Factory.Instantiate(ctx)

	p.mu.Lock()
	p.active--
	if err != nil || p.closed {
		if err == nil {
			go fresh.Close(ctx)
		}
		p.mu.Unlock()
		p.wakeOne()
		return
	}
	p.idle = append(p.idle, fresh)
	p.mu.Unlock()
	p.wakeOne()
}

// ActiveInstances reports how many instances are currently checked out
// via Acquire and not yet Released.
func (p *InstancePool) ActiveInstances() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Shutdown closes every idle instance and marks the pool closed;
// further Acquire calls return ErrPoolClosed, and every goroutine
// currently blocked in Acquire wakes to observe that. It does not wait
// for instances still checked out — their eventual Release will close
// them instead of recycling them. Safe to call more than once.
func (p *InstancePool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.closeIdleLocked(ctx)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	return nil
}

func (p *InstancePool) closeIdleLocked(ctx context.Context) {
	for _, inst := range p.idle {
		_ = inst.Close(ctx)
	}
	p.idle = nil
}

// wakeOne wakes a single blocked Acquire, if any are waiting, so it can
// retry against the now-current idle/active state.
func (p *InstancePool) wakeOne() {
	p.mu.Lock()
	if len(p.waiters) == 0 {
		p.mu.Unlock()
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	p.mu.Unlock()
	close(w)
}

func (p *InstancePool) removeWaiter(target chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
