package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditvault/auditperf/internal/circuit"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

type auditSummary struct {
	Org     string
	Actions map[string]int
	Latest  time.Time
}

func newTestRemote[T any](t *testing.T, store RemoteStore, cfg RemoteConfig) *RemoteCache[T] {
	t.Helper()
	c, err := NewRemoteCache[T](store, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRemoteCache_Validation(t *testing.T) {
	_, err := NewRemoteCache[string](nil, RemoteConfig{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMissingConfig))

	_, err = NewRemoteCache[string](newMemStore(), RemoteConfig{Codec: "msgpack"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	_, err = NewRemoteCache[string](newMemStore(), RemoteConfig{Compression: "lz4"})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))

	c, err := NewRemoteCache[string](newMemStore(), RemoteConfig{})
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c.config.Codec)
	assert.Equal(t, 250*time.Millisecond, c.config.OpTimeout)
	assert.Equal(t, 5*time.Minute, c.config.DefaultTTL)
}

func TestRemoteCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestRemote[[]types.Row](t, store, RemoteConfig{KeyPrefix: "audit:", DefaultTTL: 10 * time.Minute})

	rows := []types.Row{{"id": "evt-1", "actor": "alice", "count": int64(3)}}
	c.Set(ctx, "org:7", rows, 0)
	assert.ElementsMatch(t, []string{"audit:org:7"}, store.keys())
	assert.Equal(t, 10*time.Minute, store.ttlOf("audit:org:7"), "zero ttl takes the default")

	got, ok := c.Get(ctx, "org:7")
	require.True(t, ok)
	assert.Equal(t, json.Number("3"), got[0]["count"], "numbers keep their precision")
	assert.Equal(t, rows, types.NormalizeRows(got))

	_, ok = c.Get(ctx, "org:8")
	assert.False(t, ok)

	c.Set(ctx, "org:9", rows, time.Minute)
	assert.Equal(t, time.Minute, store.ttlOf("audit:org:9"))

	assert.True(t, c.Delete(ctx, "org:7"))
	assert.False(t, c.Delete(ctx, "org:7"))

	stats := c.Stats()
	assert.Equal(t, "remote", stats.Strategy)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, 0.0, stats.TotalSizeMB)
	assert.Equal(t, uint64(0), stats.RemoteErrors)
	assert.Equal(t, 0, c.Cleanup(ctx))
}

func TestRemoteCache_GobCodec(t *testing.T) {
	ctx := context.Background()
	c := newTestRemote[auditSummary](t, newMemStore(), RemoteConfig{Codec: CodecGob})

	want := auditSummary{
		Org:     "acme",
		Actions: map[string]int{"login": 12, "export": 1},
		Latest:  time.Date(2026, 4, 30, 23, 59, 0, 0, time.UTC),
	}
	c.Set(ctx, "summary", want, 0)

	got, ok := c.Get(ctx, "summary")
	require.True(t, ok)
	assert.Equal(t, want.Org, got.Org)
	assert.Equal(t, want.Actions, got.Actions)
	assert.True(t, want.Latest.Equal(got.Latest))
}

func TestRemoteCache_CompressionFrames(t *testing.T) {
	ctx := context.Background()
	value := fmt.Sprintf("%0200d", 0)

	tests := []struct {
		compression Compression
		header      byte
	}{
		{CompressionNone, frameRaw},
		{"", frameRaw},
		{CompressionZstd, frameZstd},
		{CompressionS2, frameS2},
	}
	for _, tt := range tests {
		t.Run(string(tt.compression), func(t *testing.T) {
			store := newMemStore()
			c := newTestRemote[string](t, store, RemoteConfig{Compression: tt.compression})
			c.Set(ctx, "k", value, 0)

			frame := store.data["k"].data
			require.NotEmpty(t, frame)
			assert.Equal(t, tt.header, frame[0])

			got, ok := c.Get(ctx, "k")
			require.True(t, ok)
			assert.Equal(t, value, got)
		})
	}
}

func TestRemoteCache_ReadsFramesFromOtherSettings(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	writer := newTestRemote[string](t, store, RemoteConfig{Compression: CompressionZstd})
	writer.Set(ctx, "z", "written with zstd", 0)
	s2Writer := newTestRemote[string](t, store, RemoteConfig{Compression: CompressionS2})
	s2Writer.Set(ctx, "s", "written with s2", 0)

	reader := newTestRemote[string](t, store, RemoteConfig{Compression: CompressionNone})
	got, ok := reader.Get(ctx, "z")
	require.True(t, ok)
	assert.Equal(t, "written with zstd", got)
	got, ok = reader.Get(ctx, "s")
	require.True(t, ok)
	assert.Equal(t, "written with s2", got)
}

func TestRemoteCache_UndecodableValueIsMiss(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestRemote[int](t, store, RemoteConfig{})

	store.data["bad-header"] = storedValue{data: []byte{0x7f, '1'}}
	store.data["bad-json"] = storedValue{data: append([]byte{frameRaw}, `"not an int"`...)}

	_, ok := c.Get(ctx, "bad-header")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "bad-json")
	assert.False(t, ok)
	assert.Equal(t, uint64(2), c.Stats().RemoteErrors)
	assert.Equal(t, uint64(2), c.Stats().Misses)
}

func TestRemoteCache_FailOpen(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestRemote[string](t, store, RemoteConfig{KeyPrefix: "p:"})

	c.Set(ctx, "k", "v", 0)
	store.fail(errStoreDown)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok, "a failed read is a miss")
	assert.NotPanics(t, func() { c.Set(ctx, "k2", "v", 0) })
	assert.False(t, c.Delete(ctx, "k"))
	assert.NotPanics(t, func() { c.Clear(ctx) })

	_, err := c.Invalidate(ctx, "k*")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCacheUnavailable))
	assert.True(t, errors.IsRetryable(err))

	assert.Equal(t, uint64(5), c.Stats().RemoteErrors)
	assert.Error(t, c.Ping(ctx))

	store.fail(nil)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok, "the store recovered and the value was never deleted")
	assert.Equal(t, "v", got)
}

func TestRemoteCache_OpTimeout(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.delay = 200 * time.Millisecond
	c := newTestRemote[string](t, store, RemoteConfig{OpTimeout: 10 * time.Millisecond})

	start := time.Now()
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, uint64(1), c.Stats().RemoteErrors)
}

func TestRemoteCache_CircuitBreaker(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	breaker := circuit.New("test", circuit.Config{FailureThreshold: 2, Timeout: time.Hour})
	c := newTestRemote[string](t, store, RemoteConfig{Breaker: breaker})

	store.fail(errStoreDown)
	c.Get(ctx, "a")
	c.Get(ctx, "b")
	require.Equal(t, circuit.StateOpen, breaker.State())

	callsBefore := store.calls
	for i := 0; i < 10; i++ {
		_, ok := c.Get(ctx, "a")
		assert.False(t, ok)
	}
	assert.Equal(t, callsBefore, store.calls, "an open breaker keeps calls off the store")
	assert.Equal(t, uint64(10), breaker.Counts().Rejected)
	assert.Equal(t, uint64(12), c.Stats().RemoteErrors)
}

func TestRemoteCache_ClearAndInvalidate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestRemote[int](t, store, RemoteConfig{KeyPrefix: "audit:"})

	for i := 0; i < 1200; i++ {
		c.Set(ctx, fmt.Sprintf("org:1:q%d", i), i, 0)
	}
	c.Set(ctx, "org:2:q1", 1, 0)
	store.data["other:org:1:q1"] = storedValue{data: []byte{frameRaw, '1'}}

	callsBefore := store.calls
	n, err := c.Invalidate(ctx, "org:1:*")
	require.NoError(t, err)
	assert.Equal(t, 1200, n)
	assert.Equal(t, callsBefore+4, store.calls, "one scan and three delete batches")

	_, err = c.Invalidate(ctx, "org:[12]")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidPattern))

	c.Clear(ctx)
	assert.Equal(t, []string{"other:org:1:q1"}, store.keys(), "clear only touches the prefix")
}

func TestRemoteCache_PrefixWithGlobCharacters(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	c := newTestRemote[int](t, store, RemoteConfig{KeyPrefix: "a*:"})

	c.Set(ctx, "k1", 1, 0)
	store.data["ab:k1"] = storedValue{data: []byte{frameRaw, '1'}}

	n, err := c.Invalidate(ctx, "k*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ab:k1"}, store.keys())
}

func TestRemoteCache_CloseOwnership(t *testing.T) {
	shared := newMemStore()
	c, err := NewRemoteCache[string](shared, RemoteConfig{Compression: CompressionZstd})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.False(t, shared.closed)

	owned := newMemStore()
	c, err = NewRemoteCache[string](owned, RemoteConfig{})
	require.NoError(t, err)
	c.ownsStore = true
	require.NoError(t, c.Close())
	assert.True(t, owned.closed)
}
