package cache

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/auditvault/auditperf/pkg/types"
)

func benchRows(n int) []types.Row {
	rows := make([]types.Row, n)
	for i := range rows {
		rows[i] = types.Row{
			"id":              fmt.Sprintf("evt-%d", i),
			"organization_id": "org-1",
			"action":          "login",
			"timestamp":       time.Unix(1_700_000_000+int64(i), 0).UTC(),
		}
	}
	return rows
}

func newBenchCache(entries int) *LRUCache[[]types.Row] {
	return NewLRUCache[[]types.Row](LRUConfig{
		MaxSizeBytes: 512 * 1024 * 1024,
		MaxEntries:   entries,
		DefaultTTL:   time.Hour,
	})
}

func BenchmarkLRUGet(b *testing.B) {
	ctx := context.Background()
	c := newBenchCache(10000)
	rows := benchRows(10)
	for i := 0; i < 1000; i++ {
		c.Set(ctx, fmt.Sprintf("audit:org-%d", i), rows, 0)
	}

	b.ResetTimer()
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			c.Get(ctx, fmt.Sprintf("audit:org-%d", r.Intn(1000)))
		}
	})
}

func BenchmarkLRUGetMiss(b *testing.B) {
	ctx := context.Background()
	c := newBenchCache(10000)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(ctx, fmt.Sprintf("missing-%d", i))
			i++
		}
	})
}

func BenchmarkLRUSet(b *testing.B) {
	ctx := context.Background()
	c := newBenchCache(10000)
	rows := benchRows(10)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Set(ctx, fmt.Sprintf("audit:set-%d", i%5000), rows, 0)
			i++
		}
	})
}

func BenchmarkLRUMixed(b *testing.B) {
	ctx := context.Background()
	c := newBenchCache(10000)
	rows := benchRows(10)

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			key := fmt.Sprintf("audit:org-%d", r.Intn(2000))
			if r.Intn(10) < 8 {
				c.Get(ctx, key)
			} else {
				c.Set(ctx, key, rows, 0)
			}
		}
	})
}

func BenchmarkLRUEviction(b *testing.B) {
	ctx := context.Background()
	c := newBenchCache(100)
	rows := benchRows(1)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Set(ctx, fmt.Sprintf("audit:evict-%d", i), rows, 0)
	}
}

func BenchmarkLRURowSizes(b *testing.B) {
	ctx := context.Background()
	for _, n := range []int{1, 10, 100} {
		b.Run(fmt.Sprintf("%drows", n), func(b *testing.B) {
			c := newBenchCache(10000)
			rows := benchRows(n)

			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				key := fmt.Sprintf("audit:size-%d", i%1000)
				c.Set(ctx, key, rows, 0)
				c.Get(ctx, key)
			}
		})
	}
}

func BenchmarkLRUInvalidate(b *testing.B) {
	ctx := context.Background()
	rows := benchRows(1)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		c := newBenchCache(10000)
		for j := 0; j < 1000; j++ {
			c.Set(ctx, fmt.Sprintf("audit:org-%d:page-%d", j%10, j), rows, 0)
		}
		b.StartTimer()

		if _, err := c.Invalidate(ctx, "audit:org-3:*"); err != nil {
			b.Fatal(err)
		}
	}
}
