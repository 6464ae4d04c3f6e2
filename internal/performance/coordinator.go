package performance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// PoolSource is the connection pool as seen by the coordinator.
type PoolSource interface {
	types.QueryExecutor
	Stats() types.ConnectionPoolStats
	HealthCheck(ctx context.Context) types.HealthStatus
}

// CacheSource caches query results.
type CacheSource = types.QueryCache[[]types.Row]

// PartitionSource is the partition lifecycle manager as seen by the
// coordinator.
type PartitionSource interface {
	AllStats() []partition.TableStats
	PartitionsFor(table string, start, end time.Time) ([]types.PartitionMetadata, error)
	RunMaintenance(ctx context.Context) partition.MaintenanceResult
}

// Observer receives every report and remediation outcome.
type Observer interface {
	ObserveReport(report *PerformanceReport)
	RecordRemediation(action, outcome string)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	ReportInterval  time.Duration
	AutoRemediation bool
	Thresholds      Thresholds
	// MonitorLimit caps slow query and unused index lists.
	MonitorLimit int
	// LoadTimeout bounds a cache-miss load shared by concurrent callers.
	LoadTimeout time.Duration
}

// CoordinatorConfigFrom converts the performance section.
func CoordinatorConfigFrom(cfg config.PerformanceConfig) CoordinatorConfig {
	return CoordinatorConfig{
		ReportInterval:  cfg.ReportInterval(),
		AutoRemediation: cfg.AutoRemediation,
		Thresholds:      ThresholdsFrom(cfg),
	}
}

// CoordinatorOption customizes a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithQueryMonitor adds slow query and unused index sampling to reports.
func WithQueryMonitor(m QueryMonitor) CoordinatorOption {
	return func(c *Coordinator) { c.monitor = m }
}

// WithObserver forwards reports and remediation outcomes, typically to metrics.
func WithObserver(o Observer) CoordinatorOption {
	return func(c *Coordinator) { c.observer = o }
}

// WithQueryBuilder sets the builder used by QueryRange.
func WithQueryBuilder(b *partition.QueryBuilder) CoordinatorOption {
	return func(c *Coordinator) { c.builder = b }
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithCoordinatorClock replaces the wall clock.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// WithRemediationOptions passes options to the remediation engine.
func WithRemediationOptions(opts ...RemediationOption) CoordinatorOption {
	return func(c *Coordinator) { c.remediationOpts = append(c.remediationOpts, opts...) }
}

// Coordinator ties the pool, cache and partition manager together: it serves
// cached reads, builds periodic PerformanceReports and applies remediation.
type Coordinator struct {
	pool       PoolSource
	cache      CacheSource
	partitions PartitionSource
	monitor    QueryMonitor
	observer   Observer
	builder    *partition.QueryBuilder
	config     CoordinatorConfig
	now        func() time.Time
	logger     *slog.Logger

	remediation     *RemediationEngine
	remediationOpts []RemediationOption

	flight singleflight.Group

	mu     sync.RWMutex
	latest *PerformanceReport

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a coordinator. partitions may be nil when no table
// is partitioned.
func NewCoordinator(pool PoolSource, cache CacheSource, partitions PartitionSource, cfg CoordinatorConfig, opts ...CoordinatorOption) (*Coordinator, error) {
	if pool == nil || cache == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "coordinator needs a pool and a cache").
			WithComponent("performance")
	}
	if cfg.ReportInterval <= 0 {
		cfg.ReportInterval = 5 * time.Minute
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if cfg.MonitorLimit <= 0 {
		cfg.MonitorLimit = 20
	}

	c := &Coordinator{
		pool:       pool,
		cache:      cache,
		partitions: partitions,
		config:     cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = utils.OrDiscard(c.logger).With("component", "performance")

	if cfg.AutoRemediation {
		ropts := []RemediationOption{WithRemediationLogger(c.logger), WithRemediationClock(c.now)}
		if c.observer != nil {
			ropts = append(ropts, WithActionObserver(c.observer.RecordRemediation))
		}
		c.remediation = NewRemediationEngine(cfg.Thresholds, append(ropts, c.remediationOpts...)...)
		c.remediation.Register(ActionClearCache, func(ctx context.Context) error {
			c.cache.Clear(ctx)
			return nil
		})
		if partitions != nil {
			c.remediation.Register(ActionRunMaintenance, func(ctx context.Context) error {
				result := c.partitions.RunMaintenance(ctx)
				if n := len(result.Failures); n > 0 {
					return fmt.Errorf("maintenance finished with %d failures", n)
				}
				return nil
			})
		}
	}
	return c, nil
}

// Remediation returns the remediation engine, or nil when disabled.
func (c *Coordinator) Remediation() *RemediationEngine {
	return c.remediation
}

// GenerateReport samples every collaborator. Monitor failures are listed in
// the report rather than returned.
func (c *Coordinator) GenerateReport(ctx context.Context) *PerformanceReport {
	start := c.now()
	report := &PerformanceReport{
		ID:          uuid.NewString(),
		GeneratedAt: start,
		Pool:        c.pool.Stats(),
		PoolHealth:  c.pool.HealthCheck(ctx),
		Cache:       c.cache.Stats(),
	}
	if c.partitions != nil {
		report.Partitions = c.partitions.AllStats()
	}

	if c.monitor != nil {
		var (
			g                 errgroup.Group
			slowErr, indexErr error
		)
		g.Go(func() error {
			report.SlowQueries, slowErr = c.monitor.SlowQueries(ctx, c.config.Thresholds.SlowQueryMs, c.config.MonitorLimit)
			return nil
		})
		g.Go(func() error {
			report.UnusedIndexes, indexErr = c.monitor.UnusedIndexes(ctx, c.config.MonitorLimit)
			return nil
		})
		_ = g.Wait()
		for _, err := range []error{slowErr, indexErr} {
			if err != nil {
				c.logger.Warn("query monitor failed", "error", err)
				report.Errors = append(report.Errors, err.Error())
			}
		}
	}

	report.Recommendations = report.recommendations(c.config.Thresholds)
	if c.remediation != nil {
		report.Actions = c.remediation.Evaluate(ctx, report)
	}
	report.Duration = c.now().Sub(start)

	c.mu.Lock()
	c.latest = report
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.ObserveReport(report)
	}

	level := slog.LevelInfo
	if !report.Healthy() {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "performance report generated",
		"id", report.ID,
		"healthy", report.PoolHealth.Healthy,
		"hit_ratio", report.Cache.HitRatio,
		"avg_acquire_ms", report.Pool.AvgAcquireTimeMs,
		"recommendations", len(report.Recommendations),
		"actions", len(report.Actions))
	return report
}

// LatestReport returns the last generated report, or nil.
func (c *Coordinator) LatestReport() *PerformanceReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Query serves rows from the cache, loading them through the pool on a miss.
// Concurrent misses for the same key share one database round trip. A ttl
// <= 0 uses the cache default.
func (c *Coordinator) Query(ctx context.Context, key string, ttl time.Duration, sql string, args ...any) ([]types.Row, error) {
	if rows, ok := c.cache.Get(ctx, key); ok {
		return types.NormalizeRows(rows), nil
	}

	// The shared load outlives any one caller; each caller still returns
	// when its own context ends.
	ch := c.flight.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.LoadTimeout)
		defer cancel()
		rows, err := c.pool.Query(loadCtx, sql, args...)
		if err != nil {
			return nil, err
		}
		rows = types.NormalizeRows(rows)
		c.cache.Set(loadCtx, key, rows, ttl)
		return rows, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		rows, _ := res.Val.([]types.Row)
		return types.NormalizeRows(rows), nil
	}
}

// Exec runs a statement through the pool. Callers invalidate affected cache
// keys with InvalidateCache.
func (c *Coordinator) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return c.pool.Exec(ctx, sql, args...)
}

// InvalidateCache removes every cached key matching the glob pattern.
func (c *Coordinator) InvalidateCache(ctx context.Context, pattern string) (int, error) {
	return c.cache.Invalidate(ctx, pattern)
}

// QueryRange runs a list query. When both time bounds are set and the table
// is partitioned, only the partitions intersecting the range are read; a
// range no partition covers yields no rows without touching the database.
// Results are cached under range:{table}:{hash}.
func (c *Coordinator) QueryRange(ctx context.Context, q partition.ListQuery, ttl time.Duration) ([]types.Row, error) {
	if c.builder == nil {
		return nil, errors.NewConfigError("performance", "range queries need a query builder")
	}

	var parts []types.PartitionMetadata
	if c.partitions != nil && !q.From.IsZero() && !q.To.IsZero() {
		found, err := c.partitions.PartitionsFor(q.Table, q.From, q.To)
		switch {
		case errors.IsCode(err, errors.ErrCodePartitionNotFound):
		case err != nil:
			return nil, err
		case len(found) == 0:
			return []types.Row{}, nil
		default:
			parts = found
		}
	}

	sql, args, err := c.builder.Build(q, parts)
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, RangeKey(q.Table, sql, args), ttl, sql, args...)
}

// RangeKey derives the cache key of a rendered range query.
func RangeKey(table, sql string, args []any) string {
	h := sha256.New()
	h.Write([]byte(sql))
	for _, a := range args {
		fmt.Fprintf(h, "\x00%T=%v", a, a)
	}
	return "range:" + table + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}

// Start launches the report ticker. Calling Start twice is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.reportLoop(ctx, c.done)
}

// Stop halts the ticker and waits for an in-flight report.
func (c *Coordinator) Stop() {
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

func (c *Coordinator) reportLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.GenerateReport(ctx)
		}
	}
}
