package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auditvault/auditperf/internal/archive"
	"github.com/auditvault/auditperf/internal/cache"
	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/internal/metrics"
	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/internal/performance"
	"github.com/auditvault/auditperf/internal/pool"
	"github.com/auditvault/auditperf/pkg/api"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/health"
	"github.com/auditvault/auditperf/pkg/status"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// Archiver is an archive-before-drop target with a reachability probe.
type Archiver interface {
	partition.Archiver
	HealthCheck(ctx context.Context) error
}

// Option customizes an Adapter.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	store    cache.RemoteStore
	archiver Archiver
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRemoteStore replaces the Redis store of the remote and hybrid caches.
func WithRemoteStore(store cache.RemoteStore) Option {
	return func(o *options) { o.store = store }
}

// WithArchiver replaces the S3 archiver built from the archive section.
func WithArchiver(a Archiver) Option {
	return func(o *options) { o.archiver = a }
}

// Adapter owns every component of the service and runs their lifecycles.
type Adapter struct {
	config *config.Configuration
	logger *slog.Logger

	pool        *pool.Pool
	cache       cache.Cache[[]types.Row]
	partitions  *partition.Manager
	archiver    Archiver
	metrics     *metrics.Collector
	coordinator *performance.Coordinator
	health      *health.Tracker
	status      *status.Tracker
	server      *api.Server

	obsMu            sync.Mutex
	lastRemoteErrors uint64

	mu         sync.Mutex
	started    bool
	closed     bool
	cancel     context.CancelFunc
	checksDone chan struct{}
}

var _ performance.Observer = (*Adapter)(nil)

// New validates cfg and builds every component. It opens the pool driver but
// does not talk to the database; Start does.
func New(ctx context.Context, cfg *config.Configuration, opts ...Option) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := utils.OrDiscard(o.logger)

	a := &Adapter{
		config:   cfg,
		logger:   logger.With("component", "adapter"),
		archiver: o.archiver,
	}

	a.health = health.NewTracker(health.DefaultConfig())
	for _, c := range []string{health.ComponentDatabase, health.ComponentCache, health.ComponentPartitions} {
		a.health.RegisterComponent(c)
	}
	a.status = status.NewTracker(status.TrackerConfig{HealthTracker: a.health})

	var err error
	if a.metrics, err = metrics.NewCollector(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	if a.pool, err = pool.Open(ctx, cfg.Pool, pool.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}

	cacheOpts := []cache.FactoryOption{cache.WithFactoryLogger(logger)}
	if o.store != nil {
		cacheOpts = append(cacheOpts, cache.WithRemoteStore(o.store))
	}
	if a.cache, err = cache.New[[]types.Row](cfg.Cache, cacheOpts...); err != nil {
		a.pool.Close()
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	dialect, err := a.buildPartitions(ctx, logger)
	if err != nil {
		a.release()
		return nil, err
	}

	coordOpts := []performance.CoordinatorOption{
		performance.WithCoordinatorLogger(logger),
		performance.WithObserver(a),
		performance.WithQueryBuilder(partition.NewQueryBuilder(dialect, partition.DefaultColumns)),
	}
	if cfg.Performance.QueryMonitor && dialect.Name() == "postgres" {
		coordOpts = append(coordOpts, performance.WithQueryMonitor(performance.NewPostgresMonitor(a.pool)))
	}
	a.coordinator, err = performance.NewCoordinator(a.pool, a.cache, a.partitions,
		performance.CoordinatorConfigFrom(cfg.Performance), coordOpts...)
	if err != nil {
		a.release()
		return nil, err
	}

	if cfg.API.Enabled {
		deps := api.Dependencies{
			Reports:    a.coordinator,
			Partitions: a.partitions,
			Health:     a.health,
			Status:     a.status,
			Logger:     logger,
		}
		if a.metrics.Enabled() {
			deps.Metrics = a.metrics.Handler()
		}
		a.server = api.NewServer(api.ServerConfigFrom(cfg.API), deps)
	}
	return a, nil
}

func (a *Adapter) buildPartitions(ctx context.Context, logger *slog.Logger) (partition.Dialect, error) {
	managerCfg, err := partition.ManagerConfigFrom(a.config.Partitioning)
	if err != nil {
		return nil, err
	}
	dialect, err := partition.DialectFor(a.config.Pool.Driver)
	if err != nil {
		return nil, err
	}

	managerOpts := []partition.ManagerOption{
		partition.WithPolicySource(partition.StaticPolicies(a.config.RetentionPolicies)),
		partition.WithManagerLogger(logger),
		partition.WithMaintenanceHook(a.onMaintenance),
	}
	if a.archiver == nil && a.config.Archive.Enabled {
		s3, err := archive.NewS3Archiver(ctx, a.config.Archive, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		a.archiver = s3
	}
	if a.archiver != nil {
		a.health.RegisterComponent(health.ComponentArchive)
		managerOpts = append(managerOpts, partition.WithArchiver(a.archiver))
	}

	a.partitions, err = partition.NewManager(a.pool, dialect, managerCfg, managerOpts...)
	return dialect, err
}

// Start connects to the database, loads the partition indexes and launches
// the background loops and the API server. If the database or the partition
// catalog cannot be read, the pool and cache are released and the adapter
// is stopped.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.NewError(errors.ErrCodeClosed, "adapter stopped").WithComponent("adapter")
	}
	if a.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "adapter already started").WithComponent("adapter")
	}

	a.logger.Info("starting audit performance service",
		"driver", a.config.Pool.Driver,
		"cache_strategy", a.config.Cache.Strategy,
		"tables", len(a.config.Partitioning.Tables))

	err := a.pool.Connect(ctx)
	a.health.Observe(health.ComponentDatabase, err)
	if err != nil {
		a.abort()
		return err
	}

	err = a.partitions.RebuildAll(ctx)
	a.health.Observe(health.ComponentPartitions, err)
	if err != nil {
		a.abort()
		return fmt.Errorf("failed to load partitions: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel

	if a.config.Partitioning.AutoMaintenance {
		a.partitions.RunMaintenance(ctx)
		a.partitions.Start(runCtx)
	}
	a.cache.Start(runCtx)
	a.coordinator.Start(runCtx)

	a.checksDone = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		a.health.StartHealthChecks(runCtx, a.healthChecks())
	}(a.checksDone)

	if a.server != nil {
		a.server.StartBackground()
	}

	a.started = true
	a.logger.Info("audit performance service started")
	return nil
}

func (a *Adapter) healthChecks() map[string]health.CheckFunc {
	checks := map[string]health.CheckFunc{
		health.ComponentDatabase: func(ctx context.Context) error {
			st := a.pool.HealthCheck(ctx)
			if !st.Healthy {
				return errors.NewError(errors.ErrCodeConnectionFailed, st.Error).WithComponent("pool")
			}
			return nil
		},
	}
	if a.archiver != nil {
		checks[health.ComponentArchive] = a.archiver.HealthCheck
	}
	return checks
}

// CheckHealth probes the database and the archive once.
func (a *Adapter) CheckHealth(ctx context.Context) {
	a.health.RunChecks(ctx, a.healthChecks())
}

// Stop shuts the API down, halts every loop and releases the pool and cache.
// An adapter that was never started is only released. A stopped adapter
// cannot be restarted.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.NewError(errors.ErrCodeClosed, "adapter stopped").WithComponent("adapter")
	}
	if !a.started {
		a.abort()
		return nil
	}
	a.logger.Info("stopping audit performance service")

	var shutdownErr error
	if a.server != nil {
		shutdownErr = a.server.Shutdown(ctx)
	}

	a.cancel()
	<-a.checksDone
	a.coordinator.Stop()
	a.partitions.Stop()
	a.release()

	a.started = false
	a.closed = true
	a.logger.Info("audit performance service stopped")
	return shutdownErr
}

// abort releases an adapter whose loops never ran.
func (a *Adapter) abort() {
	a.release()
	a.closed = true
	a.logger.Info("audit performance service released without starting")
}

func (a *Adapter) release() {
	if a.cache != nil {
		a.cache.Stop()
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("failed to close cache", "error", err)
		}
	}
	a.pool.Close()
}

// ObserveReport forwards a report to metrics, health and the status history.
func (a *Adapter) ObserveReport(report *performance.PerformanceReport) {
	a.metrics.ObserveReport(report)

	var dbErr error
	if !report.PoolHealth.Healthy {
		dbErr = errors.NewError(errors.ErrCodeConnectionFailed, report.PoolHealth.Error).WithComponent("pool")
		a.metrics.RecordError(health.ComponentDatabase, dbErr)
	}
	a.health.Observe(health.ComponentDatabase, dbErr)

	a.obsMu.Lock()
	remoteErrors := report.Cache.RemoteErrors - min(report.Cache.RemoteErrors, a.lastRemoteErrors)
	a.lastRemoteErrors = report.Cache.RemoteErrors
	a.obsMu.Unlock()

	var cacheErr error
	if remoteErrors > 0 {
		cacheErr = errors.NewError(errors.ErrCodeCacheUnavailable,
			fmt.Sprintf("%d remote cache errors since the last report", remoteErrors)).WithComponent("cache")
	}
	a.health.Observe(health.ComponentCache, cacheErr)

	a.status.Record(status.OpReport, report.GeneratedAt, nil, map[string]any{
		"report_id":       report.ID,
		"recommendations": len(report.Recommendations),
		"actions":         len(report.Actions),
	})
}

// RecordRemediation implements performance.Observer.
func (a *Adapter) RecordRemediation(action, outcome string) {
	a.metrics.RecordRemediation(action, outcome)
}

func (a *Adapter) onMaintenance(result partition.MaintenanceResult) {
	a.metrics.RecordMaintenance(result)

	var err error
	if n := len(result.Failures); n > 0 {
		first := result.Failures[0]
		err = fmt.Errorf("%d partition operations failed, first: %s %s: %w", n, first.Operation, first.Partition, first.Err)
		a.metrics.RecordError(health.ComponentPartitions, first.Err)
	}
	a.health.Observe(health.ComponentPartitions, err)
	a.status.Record(status.OpMaintenance, result.StartedAt, err, map[string]any{
		"created":  len(result.Created),
		"dropped":  len(result.Dropped),
		"archived": len(result.Archived),
		"failures": len(result.Failures),
	})
}

// Coordinator returns the performance coordinator serving cached reads.
func (a *Adapter) Coordinator() *performance.Coordinator { return a.coordinator }

// Partitions returns the partition lifecycle manager.
func (a *Adapter) Partitions() *partition.Manager { return a.partitions }

// Health returns the component health tracker.
func (a *Adapter) Health() *health.Tracker { return a.health }

// Status returns the operation tracker.
func (a *Adapter) Status() *status.Tracker { return a.status }

// Server returns the API server, or nil when the API is disabled.
func (a *Adapter) Server() *api.Server { return a.server }
