package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/auditvault/auditperf/internal/circuit"
	apierrors "github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// ErrRemoteMiss is returned by RemoteStore.Get when the key does not exist.
var ErrRemoteMiss = errors.New("remote cache: key not found")

// deleteBatch bounds the number of keys per DEL command.
const deleteBatch = 500

// RemoteStore is the key-value client behind the remote strategy.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	// Scan returns every key matching a glob pattern.
	Scan(ctx context.Context, match string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// RemoteConfig configures a RemoteCache.
type RemoteConfig struct {
	KeyPrefix   string
	DefaultTTL  time.Duration
	Codec       Codec
	Compression Compression
	// OpTimeout bounds every store call. A timeout is handled like any other store failure.
	OpTimeout time.Duration
	// Breaker, when set, short-circuits calls while the store is failing.
	Breaker *circuit.Breaker
	Logger  *slog.Logger
}

// RemoteCache stores encoded values in a RemoteStore. Store failures never
// reach the caller: reads degrade to misses and writes are dropped.
type RemoteCache[T any] struct {
	store      RemoteStore
	ownsStore  bool
	config     RemoteConfig
	compressor *compressor
	breaker    *circuit.Breaker
	logger     *slog.Logger

	hits         atomic.Uint64
	misses       atomic.Uint64
	ops          atomic.Uint64
	opNanos      atomic.Int64
	remoteErrors atomic.Uint64
}

// NewRemoteCache creates a remote cache over store.
func NewRemoteCache[T any](store RemoteStore, config RemoteConfig) (*RemoteCache[T], error) {
	if store == nil {
		return nil, apierrors.NewError(apierrors.ErrCodeMissingConfig, "remote store is required").
			WithComponent("cache")
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 5 * time.Minute
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 250 * time.Millisecond
	}
	if config.Codec == "" {
		config.Codec = CodecJSON
	}
	if config.Codec != CodecJSON && config.Codec != CodecGob {
		return nil, apierrors.NewConfigError("cache", "unsupported remote codec %q", config.Codec)
	}

	comp, err := newCompressor(config.Compression)
	if err != nil {
		return nil, apierrors.WrapError(err, apierrors.ErrCodeInvalidConfig, "invalid remote compression").
			WithComponent("cache")
	}

	return &RemoteCache[T]{
		store:      store,
		config:     config,
		compressor: comp,
		breaker:    config.Breaker,
		logger:     utils.OrDiscard(config.Logger).With("component", "remote-cache"),
	}, nil
}

// Get returns the decoded value, or a miss when the key is absent or the
// store cannot be reached.
func (c *RemoteCache[T]) Get(ctx context.Context, key string) (T, bool) {
	defer c.recordOp(time.Now())

	var zero T
	var frame []byte
	err := c.call(ctx, func(ctx context.Context) error {
		data, err := c.store.Get(ctx, c.config.KeyPrefix+key)
		if errors.Is(err, ErrRemoteMiss) {
			return nil
		}
		frame = data
		return err
	})
	if err != nil {
		c.storeFailure("get", key, err)
		c.misses.Add(1)
		return zero, false
	}
	if frame == nil {
		c.misses.Add(1)
		return zero, false
	}

	value, err := c.decode(frame)
	if err != nil {
		c.remoteErrors.Add(1)
		c.logger.Warn("discarding undecodable cache value", "key", key, "error", err)
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return value, true
}

// Set encodes and stores value. Failures are logged and dropped.
func (c *RemoteCache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	defer c.recordOp(time.Now())

	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	data, err := encodeValue(c.config.Codec, value)
	if err != nil {
		c.remoteErrors.Add(1)
		c.logger.Warn("failed to encode cache value", "key", key, "error", err)
		return
	}
	frame := c.compressor.compress(data)

	err = c.call(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, c.config.KeyPrefix+key, frame, ttl)
	})
	if err != nil {
		c.storeFailure("set", key, err)
	}
}

// Delete removes key. An unreachable store reports false.
func (c *RemoteCache[T]) Delete(ctx context.Context, key string) bool {
	defer c.recordOp(time.Now())

	var deleted int64
	err := c.call(ctx, func(ctx context.Context) error {
		n, err := c.store.Del(ctx, c.config.KeyPrefix+key)
		deleted = n
		return err
	})
	if err != nil {
		c.storeFailure("delete", key, err)
		return false
	}
	return deleted > 0
}

// Clear deletes every key under the configured prefix.
func (c *RemoteCache[T]) Clear(ctx context.Context) {
	if _, err := c.deleteMatching(ctx, scanMatch(c.config.KeyPrefix, "*")); err != nil {
		c.logger.Warn("failed to clear remote cache", "error", err)
	}
}

// Cleanup is a no-op: the store expires keys itself.
func (c *RemoteCache[T]) Cleanup(context.Context) int {
	return 0
}

// Invalidate deletes keys matching pattern. Unlike reads, a store failure is
// returned so the caller knows stale entries may remain.
func (c *RemoteCache[T]) Invalidate(ctx context.Context, pattern string) (int, error) {
	if err := validatePattern(pattern); err != nil {
		return 0, err
	}
	removed, err := c.deleteMatching(ctx, scanMatch(c.config.KeyPrefix, pattern))
	if err != nil {
		return removed, apierrors.WrapError(err, apierrors.ErrCodeCacheUnavailable, "remote invalidation failed").
			WithComponent("cache").
			WithOperation("invalidate").
			WithDetail("pattern", pattern)
	}
	return removed, nil
}

// Stats returns cache statistics. Size and entry count are not tracked for the
// remote store and read as zero.
func (c *RemoteCache[T]) Stats() types.QueryCacheStats {
	hits, misses, ops := c.hits.Load(), c.misses.Load(), c.ops.Load()
	stats := types.QueryCacheStats{
		Strategy:     string(types.StrategyRemote),
		TotalOps:     ops,
		Hits:         hits,
		Misses:       misses,
		RemoteErrors: c.remoteErrors.Load(),
	}
	if hits+misses > 0 {
		stats.HitRatio = float64(hits) / float64(hits+misses)
	}
	if ops > 0 {
		stats.AvgOpTimeMs = float64(c.opNanos.Load()) / float64(ops) / 1e6
	}
	return stats
}

// Ping checks store reachability under the op timeout.
func (c *RemoteCache[T]) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	return c.store.Ping(ctx)
}

// Start is a no-op; the remote strategy has no background work.
func (c *RemoteCache[T]) Start(context.Context) {}

// Stop is a no-op; see Start.
func (c *RemoteCache[T]) Stop() {}

// Close releases the compressor and, when the cache created it, the store.
func (c *RemoteCache[T]) Close() error {
	c.compressor.close()
	if c.ownsStore {
		return c.store.Close()
	}
	return nil
}

func (c *RemoteCache[T]) deleteMatching(ctx context.Context, match string) (int, error) {
	var keys []string
	err := c.call(ctx, func(ctx context.Context) error {
		found, err := c.store.Scan(ctx, match)
		keys = found
		return err
	})
	if err != nil {
		c.remoteErrors.Add(1)
		return 0, err
	}

	removed := 0
	for start := 0; start < len(keys); start += deleteBatch {
		batch := keys[start:min(start+deleteBatch, len(keys))]
		var n int64
		err := c.call(ctx, func(ctx context.Context) error {
			var err error
			n, err = c.store.Del(ctx, batch...)
			return err
		})
		removed += int(n)
		if err != nil {
			c.remoteErrors.Add(1)
			return removed, err
		}
	}
	return removed, nil
}

func (c *RemoteCache[T]) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.ExecuteWithContext(ctx, fn)
}

func (c *RemoteCache[T]) decode(frame []byte) (T, error) {
	data, err := c.compressor.decompress(frame)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeValue[T](c.config.Codec, data)
}

func (c *RemoteCache[T]) storeFailure(op, key string, err error) {
	c.remoteErrors.Add(1)
	if circuit.IsRejection(err) {
		c.logger.Debug("remote cache call rejected", "operation", op, "key", key)
		return
	}
	c.logger.Warn("remote cache call failed", "operation", op, "key", key, "error", err)
}

func (c *RemoteCache[T]) recordOp(start time.Time) {
	c.ops.Add(1)
	c.opNanos.Add(int64(time.Since(start)))
}
