package cache

import (
	"container/list"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// LRUConfig represents local cache configuration
type LRUConfig struct {
	// MaxSizeBytes bounds the estimated size of all entries. Zero means unbounded.
	MaxSizeBytes int64
	// MaxEntries bounds the entry count. Zero means unbounded.
	MaxEntries      int
	DefaultTTL      time.Duration
	KeyPrefix       string
	CleanupInterval time.Duration
}

// Sizer estimates the size in bytes of a cached value.
type Sizer[T any] func(value T) int64

// LRUOption customizes an LRUCache.
type LRUOption[T any] func(*LRUCache[T])

// WithClock replaces the wall clock used for TTL checks.
func WithClock[T any](now func() time.Time) LRUOption[T] {
	return func(c *LRUCache[T]) { c.now = now }
}

// WithSizer replaces EstimateSize for capacity accounting.
func WithSizer[T any](sizer Sizer[T]) LRUOption[T] {
	return func(c *LRUCache[T]) { c.sizer = sizer }
}

// WithLogger sets the logger used by the background sweep.
func WithLogger[T any](logger *slog.Logger) LRUOption[T] {
	return func(c *LRUCache[T]) { c.logger = logger }
}

// cacheItem is the value stored in each list element
type cacheItem[T any] struct {
	key       string
	value     T
	createdAt time.Time
	ttl       time.Duration
	hitCount  int64
	sizeBytes int64
}

// LRUCache is a thread-safe O(1) LRU cache with TTL expiry. The list front is
// the most recently used entry; items and order always hold the same entries.
type LRUCache[T any] struct {
	mu          sync.Mutex
	items       map[string]*list.Element
	order       *list.List
	currentSize int64

	config LRUConfig
	now    func() time.Time
	sizer  Sizer[T]
	logger *slog.Logger

	// Statistics
	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
	ops         uint64
	opNanos     int64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLRUCache creates a new LRU cache. No goroutines are started until Start.
func NewLRUCache[T any](config LRUConfig, opts ...LRUOption[T]) *LRUCache[T] {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}

	c := &LRUCache[T]{
		items:  make(map[string]*list.Element),
		order:  list.New(),
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sizer == nil {
		c.sizer = func(v T) int64 { return EstimateSize(v) }
	}
	c.logger = utils.OrDiscard(c.logger).With("component", "lru-cache")
	return c
}

// Get retrieves a value. An expired entry is removed and counted as a miss.
func (c *LRUCache[T]) Get(_ context.Context, key string) (T, bool) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordOp(start)

	var zero T
	element, exists := c.items[c.config.KeyPrefix+key]
	if !exists {
		c.misses++
		return zero, false
	}

	item := element.Value.(*cacheItem[T])
	if c.isExpired(item, c.now()) {
		c.removeElement(element)
		c.expirations++
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(element)
	item.hitCount++
	c.hits++
	return item.value, true
}

// Set stores value under key and evicts from the tail until both limits hold.
// An entry larger than MaxSizeBytes is evicted immediately after insertion.
func (c *LRUCache[T]) Set(_ context.Context, key string, value T, ttl time.Duration) {
	size := c.sizer(value)
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordOp(start)

	fullKey := c.config.KeyPrefix + key
	now := c.now()

	if element, exists := c.items[fullKey]; exists {
		item := element.Value.(*cacheItem[T])
		c.currentSize += size - item.sizeBytes
		item.value = value
		item.createdAt = now
		item.ttl = ttl
		item.sizeBytes = size
		c.order.MoveToFront(element)
	} else {
		item := &cacheItem[T]{
			key:       fullKey,
			value:     value,
			createdAt: now,
			ttl:       ttl,
			sizeBytes: size,
		}
		c.items[fullKey] = c.order.PushFront(item)
		c.currentSize += size
	}

	c.evictIfNeeded()
}

// Delete removes key and reports whether it was present.
func (c *LRUCache[T]) Delete(_ context.Context, key string) bool {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.recordOp(start)

	element, exists := c.items[c.config.KeyPrefix+key]
	if !exists {
		return false
	}
	c.removeElement(element)
	return true
}

// Clear removes every entry.
func (c *LRUCache[T]) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.currentSize = 0
}

// Cleanup sweeps expired entries and returns how many were removed.
func (c *LRUCache[T]) Cleanup(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for element := c.order.Back(); element != nil; {
		prev := element.Prev()
		if c.isExpired(element.Value.(*cacheItem[T]), now) {
			c.removeElement(element)
			removed++
		}
		element = prev
	}
	c.expirations += uint64(removed)
	return removed
}

// Invalidate removes every entry whose key matches the glob pattern. This is
// a linear scan over all entries.
func (c *LRUCache[T]) Invalidate(_ context.Context, pattern string) (int, error) {
	matcher, err := compilePattern(c.config.KeyPrefix, pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for element := c.order.Front(); element != nil; {
		next := element.Next()
		if matcher.MatchString(element.Value.(*cacheItem[T]).key) {
			c.removeElement(element)
			removed++
		}
		element = next
	}
	return removed, nil
}

// Stats returns cache statistics
func (c *LRUCache[T]) Stats() types.QueryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := types.QueryCacheStats{
		Strategy:    string(types.StrategyLocal),
		TotalOps:    c.ops,
		Hits:        c.hits,
		Misses:      c.misses,
		TotalSizeMB: float64(c.currentSize) / (1024 * 1024),
		Entries:     len(c.items),
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if lookups := c.hits + c.misses; lookups > 0 {
		stats.HitRatio = float64(c.hits) / float64(lookups)
	}
	if c.ops > 0 {
		stats.AvgOpTimeMs = float64(c.opNanos) / float64(c.ops) / 1e6
	}
	return stats
}

// Keys returns the logical keys from most to least recently used.
func (c *LRUCache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for element := c.order.Front(); element != nil; element = element.Next() {
		keys = append(keys, strings.TrimPrefix(element.Value.(*cacheItem[T]).key, c.config.KeyPrefix))
	}
	return keys
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *LRUCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// SizeBytes returns the running size estimate.
func (c *LRUCache[T]) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Start launches the periodic expiry sweep. Calling Start on a running cache is a no-op.
func (c *LRUCache[T]) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.cleanupLoop(ctx, c.done)
}

// Stop halts the sweep and waits for it to exit.
func (c *LRUCache[T]) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

func (c *LRUCache[T]) cleanupLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Cleanup(ctx); removed > 0 {
				c.logger.Debug("expired entries swept", "removed", removed)
			}
		}
	}
}

// Helper methods

func (c *LRUCache[T]) isExpired(item *cacheItem[T], now time.Time) bool {
	return now.Sub(item.createdAt) > item.ttl
}

func (c *LRUCache[T]) removeElement(element *list.Element) {
	item := c.order.Remove(element).(*cacheItem[T])
	delete(c.items, item.key)
	c.currentSize -= item.sizeBytes
}

func (c *LRUCache[T]) evictIfNeeded() {
	for c.order.Len() > 0 && c.overLimit() {
		c.removeElement(c.order.Back())
		c.evictions++
	}
}

func (c *LRUCache[T]) overLimit() bool {
	if c.config.MaxSizeBytes > 0 && c.currentSize > c.config.MaxSizeBytes {
		return true
	}
	return c.config.MaxEntries > 0 && len(c.items) > c.config.MaxEntries
}

func (c *LRUCache[T]) recordOp(start time.Time) {
	c.ops++
	c.opNanos += int64(time.Since(start))
}

// Close stops the sweep.
func (c *LRUCache[T]) Close() error {
	c.Stop()
	return nil
}
