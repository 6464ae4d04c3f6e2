package performance

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

type fakePool struct {
	stats  types.ConnectionPoolStats
	health types.HealthStatus

	mu      sync.Mutex
	queries []string
	rows    []types.Row
	err     error
	gate    chan struct{}
	calls   atomic.Int32
	execs   atomic.Int32
}

func (p *fakePool) Exec(context.Context, string, ...any) (int64, error) {
	p.execs.Add(1)
	return 1, nil
}

func (p *fakePool) Query(_ context.Context, sql string, _ ...any) ([]types.Row, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queries = append(p.queries, sql)
	if p.err != nil {
		return nil, p.err
	}
	return p.rows, nil
}

func (p *fakePool) Stats() types.ConnectionPoolStats { return p.stats }

func (p *fakePool) HealthCheck(context.Context) types.HealthStatus { return p.health }

func (p *fakePool) lastQuery() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queries) == 0 {
		return ""
	}
	return p.queries[len(p.queries)-1]
}

type fakePartitions struct {
	stats        []partition.TableStats
	parts        map[string][]types.PartitionMetadata
	maintenances atomic.Int32
	failures     int
}

func (f *fakePartitions) AllStats() []partition.TableStats { return f.stats }

func (f *fakePartitions) PartitionsFor(table string, _, _ time.Time) ([]types.PartitionMetadata, error) {
	parts, ok := f.parts[table]
	if !ok {
		return nil, errors.NewError(errors.ErrCodePartitionNotFound, "table "+table+" is not partitioned")
	}
	return parts, nil
}

func (f *fakePartitions) RunMaintenance(context.Context) partition.MaintenanceResult {
	f.maintenances.Add(1)
	var result partition.MaintenanceResult
	for i := 0; i < f.failures; i++ {
		result.Failures = append(result.Failures, partition.Failure{Operation: "create"})
	}
	return result
}

type fakeMonitor struct {
	slow     []SlowQuery
	unused   []UnusedIndex
	slowErr  error
	indexErr error
}

func (m *fakeMonitor) SlowQueries(context.Context, float64, int) ([]SlowQuery, error) {
	return m.slow, m.slowErr
}

func (m *fakeMonitor) UnusedIndexes(context.Context, int) ([]UnusedIndex, error) {
	return m.unused, m.indexErr
}

type fakeObserver struct {
	mu           sync.Mutex
	reports      []*PerformanceReport
	remediations []string
}

func (o *fakeObserver) ObserveReport(r *PerformanceReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

func (o *fakeObserver) RecordRemediation(action, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.remediations = append(o.remediations, action+"="+outcome)
}

// statsCache is a map-backed cache with fixed stats.
type statsCache struct {
	mu      sync.Mutex
	entries map[string][]types.Row
	stats   types.QueryCacheStats
	clears  int
}

func newStatsCache(stats types.QueryCacheStats) *statsCache {
	return &statsCache{entries: map[string][]types.Row{}, stats: stats}
}

func (c *statsCache) Get(_ context.Context, key string) ([]types.Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *statsCache) Set(_ context.Context, key string, value []types.Row, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
}

func (c *statsCache) Delete(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

func (c *statsCache) Clear(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]types.Row{}
	c.clears++
}

func (c *statsCache) Stats() types.QueryCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *statsCache) Cleanup(context.Context) int { return 0 }

func (c *statsCache) Invalidate(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	n := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

func (c *statsCache) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}
