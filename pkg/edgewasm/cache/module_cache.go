// Package cache provides a bounded, content-hash-keyed cache of
// compiled Wasm artifacts, sitting between the engine and the compiler
// so identical guest bytes are never compiled twice.
package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Closeable is the minimal contract a cached artifact must satisfy so
// the cache can release compiler-internal resources on eviction. Kept
// generic (rather than caching wazero.CompiledModule directly, as the
// teacher does) so this package has no dependency on the edgewasm root
// package's CompiledModule type, avoiding an import cycle between
// edgewasm and edgewasm/cache.
type Closeable interface {
	Close(ctx context.Context) error
}

// ModuleCache caches compiled artifacts by content hash with a bounded
// capacity and evict-first-found eviction, matching the teacher's
// module cache structure (pkg/serverless/cache/module_cache.go),
// rekeyed from an externally supplied CID to a locally computed content
// hash.
type ModuleCache[T Closeable] struct {
	modules  map[string]T
	mu       sync.RWMutex
	capacity int
	logger   *zap.Logger
}

// NewModuleCache creates a cache bounded to capacity entries. A
// capacity of 0 or less disables caching: every lookup misses and
// GetOrCompute always recomputes.
func NewModuleCache[T Closeable](capacity int, logger *zap.Logger) *ModuleCache[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModuleCache[T]{
		modules:  make(map[string]T),
		capacity: capacity,
		logger:   logger,
	}
}

// Get retrieves a compiled artifact from the cache.
func (c *ModuleCache[T]) Get(contentHash string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[contentHash]
	return m, ok
}

// Has checks if an artifact exists in the cache.
func (c *ModuleCache[T]) Has(contentHash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.modules[contentHash]
	return ok
}

// Set stores a compiled artifact. If the cache is at capacity, it
// evicts one entry first.
func (c *ModuleCache[T]) Set(contentHash string, module T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.capacity <= 0 {
		return
	}
	if _, exists := c.modules[contentHash]; exists {
		return
	}
	if c.capacity > 0 && len(c.modules) >= c.capacity {
		c.evictOldestLocked()
	}
	c.modules[contentHash] = module
	c.logger.Debug("module cached", zap.String("content_hash", contentHash), zap.Int("cache_size", len(c.modules)))
}

// Evict removes and closes one artifact by content hash, if present.
func (c *ModuleCache[T]) Evict(contentHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, exists := c.modules[contentHash]; exists {
		_ = m.Close(context.Background())
		delete(c.modules, contentHash)
		c.logger.Debug("module evicted", zap.String("content_hash", contentHash))
	}
}

// Stats reports the cache's current size and capacity.
func (c *ModuleCache[T]) Stats() (size, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules), c.capacity
}

// Close releases every cached artifact and empties the cache.
func (c *ModuleCache[T]) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash, m := range c.modules {
		if err := m.Close(ctx); err != nil {
			c.logger.Warn("failed to close cached module", zap.String("content_hash", hash), zap.Error(err))
		}
	}
	c.modules = make(map[string]T)
}

// evictOldestLocked removes the first module iteration encounters.
// Go's map iteration order is randomized per-run, so this behaves as a
// random-eviction policy rather than a true LRU; callers needing LRU
// precision should size the cache generously. Must be called with mu
// held.
func (c *ModuleCache[T]) evictOldestLocked() {
	for hash, m := range c.modules {
		_ = m.Close(context.Background())
		delete(c.modules, hash)
		c.logger.Debug("evicted module from cache", zap.String("content_hash", hash))
		break
	}
}

// GetOrCompute retrieves a cached artifact or computes it via compute
// if absent, double-checking after compute to avoid redundant work
// when two callers race to compile the same bytes.
func (c *ModuleCache[T]) GetOrCompute(contentHash string, compute func() (T, error)) (T, error) {
	c.mu.RLock()
	if m, exists := c.modules[contentHash]; exists {
		c.mu.RUnlock()
		return m, nil
	}
	c.mu.RUnlock()

	m, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	if c.capacity <= 0 {
		return m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, exists := c.modules[contentHash]; exists {
		_ = m.Close(context.Background())
		return existing, nil
	}
	if c.capacity > 0 && len(c.modules) >= c.capacity {
		c.evictOldestLocked()
	}
	c.modules[contentHash] = m
	c.logger.Debug("module compiled and cached", zap.String("content_hash", contentHash), zap.Int("cache_size", len(c.modules)))
	return m, nil
}
