package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/auditvault/auditperf/pkg/types"
)

// HybridCache fronts a RemoteCache (L2, the shared copy) with a process-local
// LRUCache (L1).
type HybridCache[T any] struct {
	l1       *LRUCache[T]
	l2       *RemoteCache[T]
	localTTL time.Duration

	hits    atomic.Uint64
	misses  atomic.Uint64
	ops     atomic.Uint64
	opNanos atomic.Int64
}

// NewHybridCache combines l1 and l2. L1 copies live for at most localTTL so
// other processes' writes become visible.
func NewHybridCache[T any](l1 *LRUCache[T], l2 *RemoteCache[T], localTTL time.Duration) *HybridCache[T] {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &HybridCache[T]{l1: l1, l2: l2, localTTL: localTTL}
}

// Get checks L1, then L2, populating L1 on an L2 hit.
func (h *HybridCache[T]) Get(ctx context.Context, key string) (T, bool) {
	defer h.recordOp(time.Now())

	if value, ok := h.l1.Get(ctx, key); ok {
		h.hits.Add(1)
		return value, true
	}

	value, ok := h.l2.Get(ctx, key)
	if !ok {
		h.misses.Add(1)
		return value, false
	}

	h.l1.Set(ctx, key, value, h.localTTL)
	h.hits.Add(1)
	return value, true
}

// Set writes through to both layers.
func (h *HybridCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	defer h.recordOp(time.Now())

	h.l2.Set(ctx, key, value, ttl)
	h.l1.Set(ctx, key, value, h.l1TTL(ttl))
}

// Delete removes key from both layers.
func (h *HybridCache[T]) Delete(ctx context.Context, key string) bool {
	defer h.recordOp(time.Now())

	local := h.l1.Delete(ctx, key)
	remote := h.l2.Delete(ctx, key)
	return local || remote
}

// Clear empties both layers.
func (h *HybridCache[T]) Clear(ctx context.Context) {
	h.l1.Clear(ctx)
	h.l2.Clear(ctx)
}

// Cleanup sweeps L1; L2 expires on its own.
func (h *HybridCache[T]) Cleanup(ctx context.Context) int {
	return h.l1.Cleanup(ctx)
}

// Invalidate removes matches from both layers and reports the L2 count.
func (h *HybridCache[T]) Invalidate(ctx context.Context, pattern string) (int, error) {
	local, err := h.l1.Invalidate(ctx, pattern)
	if err != nil {
		return 0, err
	}
	remote, err := h.l2.Invalidate(ctx, pattern)
	if err != nil {
		return local, err
	}
	return max(local, remote), nil
}

// Stats reports hybrid-level hits and misses with L1 occupancy and L2 errors.
func (h *HybridCache[T]) Stats() types.QueryCacheStats {
	local := h.l1.Stats()
	remote := h.l2.Stats()

	hits, misses, ops := h.hits.Load(), h.misses.Load(), h.ops.Load()
	stats := types.QueryCacheStats{
		Strategy:     string(types.StrategyHybrid),
		TotalOps:     ops,
		Hits:         hits,
		Misses:       misses,
		TotalSizeMB:  local.TotalSizeMB,
		Entries:      local.Entries,
		Evictions:    local.Evictions,
		Expirations:  local.Expirations,
		RemoteErrors: remote.RemoteErrors,
	}
	if hits+misses > 0 {
		stats.HitRatio = float64(hits) / float64(hits+misses)
	}
	if ops > 0 {
		stats.AvgOpTimeMs = float64(h.opNanos.Load()) / float64(ops) / 1e6
	}
	return stats
}

// Start launches the L1 sweep.
func (h *HybridCache[T]) Start(ctx context.Context) { h.l1.Start(ctx) }

// Stop halts the L1 sweep.
func (h *HybridCache[T]) Stop() { h.l1.Stop() }

// Close stops L1 and closes L2.
func (h *HybridCache[T]) Close() error {
	h.l1.Stop()
	return h.l2.Close()
}

func (h *HybridCache[T]) l1TTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < h.localTTL {
		return ttl
	}
	return h.localTTL
}

func (h *HybridCache[T]) recordOp(start time.Time) {
	h.ops.Add(1)
	h.opNanos.Add(int64(time.Since(start)))
}
