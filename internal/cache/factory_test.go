package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

func testCacheConfig(strategy string) config.CacheConfig {
	cfg := config.NewDefault().Cache
	cfg.Strategy = strategy
	cfg.Remote.Addr = ""
	cfg.Remote.Compression = string(CompressionZstd)
	return cfg
}

func TestNew_Strategies(t *testing.T) {
	tests := []struct {
		strategy string
		want     any
	}{
		{"local", &LRUCache[string]{}},
		{"remote", &RemoteCache[string]{}},
		{"hybrid", &HybridCache[string]{}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			c, err := New[string](testCacheConfig(tt.strategy), WithRemoteStore(newMemStore()))
			require.NoError(t, err)
			defer c.Close()
			assert.IsType(t, tt.want, c)
			assert.Equal(t, tt.strategy, c.Stats().Strategy)
		})
	}
}

// Every strategy must behave identically through the Cache contract.
func TestNew_StrategyParity(t *testing.T) {
	for _, strategy := range []string{"local", "remote", "hybrid"} {
		t.Run(strategy, func(t *testing.T) {
			ctx := context.Background()
			clock := newFakeClock()
			c, err := New[map[string]int](testCacheConfig(strategy),
				WithRemoteStore(newMemStore()),
				WithFactoryClock(clock.Now))
			require.NoError(t, err)
			c.Start(ctx)
			defer c.Close()

			_, ok := c.Get(ctx, "missing")
			assert.False(t, ok)

			for i := 0; i < 5; i++ {
				c.Set(ctx, fmt.Sprintf("org:%d:counts", i%2), map[string]int{"n": i}, time.Minute)
			}
			got, ok := c.Get(ctx, "org:0:counts")
			require.True(t, ok)
			assert.Equal(t, map[string]int{"n": 4}, got)

			assert.True(t, c.Delete(ctx, "org:0:counts"))
			_, ok = c.Get(ctx, "org:0:counts")
			assert.False(t, ok)

			n, err := c.Invalidate(ctx, "org:*")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = c.Invalidate(ctx, "org:[0-9]")
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))

			c.Set(ctx, "x", map[string]int{}, 0)
			c.Clear(ctx)
			_, ok = c.Get(ctx, "x")
			assert.False(t, ok)

			stats := c.Stats()
			assert.Equal(t, strategy, stats.Strategy)
			assert.Equal(t, uint64(1), stats.Hits)
			assert.Equal(t, uint64(3), stats.Misses)
			assert.InDelta(t, 0.25, stats.HitRatio, 1e-9)
		})
	}
}

// Canonical rows come back identical from every strategy and codec,
// including hybrid refills from L2.
func TestNew_RowParity(t *testing.T) {
	created := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.FixedZone("CET", 3600))
	driverRows := []types.Row{{
		"id":         int64(42),
		"big":        int64(1<<62 + 1),
		"score":      0.25,
		"whole":      float64(7),
		"created_at": created,
		"payload":    []byte("login"),
		"details":    map[string]any{"ip": "10.0.0.1", "attempts": int32(3)},
		"tags":       []any{"auth", int16(2)},
		"deleted_at": nil,
	}}
	want := []types.Row{{
		"id":         int64(42),
		"big":        int64(1<<62 + 1),
		"score":      0.25,
		"whole":      int64(7),
		"created_at": "2026-03-14T14:09:26.535Z",
		"payload":    "login",
		"details":    map[string]any{"ip": "10.0.0.1", "attempts": int64(3)},
		"tags":       []any{"auth", int64(2)},
		"deleted_at": nil,
	}}
	require.Equal(t, want, types.NormalizeRows(driverRows))

	for _, codec := range []Codec{CodecJSON, CodecGob} {
		for _, strategy := range []string{"local", "remote", "hybrid"} {
			t.Run(string(codec)+"/"+strategy, func(t *testing.T) {
				ctx := context.Background()
				cfg := testCacheConfig(strategy)
				cfg.Remote.Codec = string(codec)
				c, err := New[[]types.Row](cfg, WithRemoteStore(newMemStore()))
				require.NoError(t, err)
				defer c.Close()

				c.Set(ctx, "audit:org-1", types.NormalizeRows(driverRows), time.Minute)
				if h, ok := c.(*HybridCache[[]types.Row]); ok {
					h.l1.Clear(ctx)
				}

				got, ok := c.Get(ctx, "audit:org-1")
				require.True(t, ok)
				assert.Equal(t, want, types.NormalizeRows(got))
				assert.Zero(t, c.Stats().RemoteErrors)

				again, ok := c.Get(ctx, "audit:org-1")
				require.True(t, ok)
				assert.Equal(t, want, types.NormalizeRows(again))
			})
		}
	}
}

func TestNew_Disabled(t *testing.T) {
	ctx := context.Background()
	cfg := testCacheConfig("remote")
	cfg.Enabled = false

	c, err := New[string](cfg)
	require.NoError(t, err)
	assert.IsType(t, &NopCache[string]{}, c)

	c.Set(ctx, "k", "v", 0)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Delete(ctx, "k"))
	assert.Equal(t, 0, c.Cleanup(ctx))
	assert.Equal(t, "disabled", c.Stats().Strategy)

	_, err = c.Invalidate(ctx, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))
	n, err := c.Invalidate(ctx, "k*")
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, c.Close())
}

func TestNew_Errors(t *testing.T) {
	_, err := New[string](testCacheConfig("distributed"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnsupportedStrategy))

	for _, strategy := range []string{"remote", "hybrid"} {
		_, err := New[string](testCacheConfig(strategy))
		require.Error(t, err, strategy)
		assert.True(t, errors.IsCode(err, errors.ErrCodeMissingConfig), strategy)
	}

	cfg := testCacheConfig("remote")
	cfg.Remote.Codec = "xml"
	_, err = New[string](cfg, WithRemoteStore(newMemStore()))
	assert.True(t, errors.IsConfigError(err))
}

func TestNew_RemoteFromAddress(t *testing.T) {
	cfg := testCacheConfig("remote")
	cfg.Remote.Addr = "127.0.0.1:1"
	cfg.Remote.OpTimeoutMs = 20

	c, err := New[string](cfg)
	require.NoError(t, err)
	defer c.Close()

	remote := c.(*RemoteCache[string])
	assert.True(t, remote.ownsStore)
	assert.IsType(t, &RedisStore{}, remote.store)
	require.NotNil(t, remote.breaker)

	// Nothing listens on port 1; the cache degrades to misses.
	_, ok := c.Get(context.Background(), "k")
	assert.False(t, ok)
	assert.Error(t, remote.Ping(context.Background()))
}

func TestNew_BreakerDisabled(t *testing.T) {
	cfg := testCacheConfig("remote")
	cfg.Remote.CircuitBreaker.Enabled = false

	c, err := New[string](cfg, WithRemoteStore(newMemStore()))
	require.NoError(t, err)
	assert.Nil(t, c.(*RemoteCache[string]).breaker)
	assert.False(t, c.(*RemoteCache[string]).ownsStore)
}
