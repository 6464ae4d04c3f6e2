package pool

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/retry"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// sampleWindow is the number of acquisition times kept for the rolling average.
const sampleWindow = 100

// Option customizes a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithClock replaces the clock used for timings and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// Pool adds query metrics and health checks on top of a Driver. It never
// retries a query; errors reach the caller after being counted.
type Pool struct {
	driver Driver
	config config.PoolConfig
	logger *slog.Logger
	now    func() time.Time

	totalQueries      atomic.Uint64
	successfulQueries atomic.Uint64
	failedQueries     atomic.Uint64

	mu          sync.Mutex
	samples     [sampleWindow]time.Duration
	next        int
	count       int
	sampleSum   time.Duration
	lastError   string
	lastErrorAt time.Time

	closeOnce sync.Once
}

var _ types.QueryExecutor = (*Pool)(nil)

// New wraps driver.
func New(driver Driver, cfg config.PoolConfig, opts ...Option) *Pool {
	p := &Pool{
		driver: driver,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrDiscard(p.logger).With("component", "pool", "driver", driver.Name())
	return p
}

// Open builds the configured driver and wraps it.
func Open(ctx context.Context, cfg config.PoolConfig, opts ...Option) (*Pool, error) {
	driver, err := OpenDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(driver, cfg, opts...), nil
}

// ExecuteQuery acquires a connection, runs fn on it and releases it. The
// acquisition is bounded by the acquire timeout and timed into the rolling
// average. Any error is counted and returned as is.
func ExecuteQuery[T any](ctx context.Context, p *Pool, fn func(ctx context.Context, conn Conn) (T, error)) (T, error) {
	var zero T
	p.totalQueries.Add(1)

	conn, err := p.acquire(ctx)
	if err != nil {
		p.recordFailure(err)
		return zero, err
	}
	defer conn.Release()

	result, err := fn(ctx, conn)
	if err != nil {
		p.recordFailure(err)
		return zero, err
	}
	p.successfulQueries.Add(1)
	return result, nil
}

// Exec runs a statement and returns the affected row count.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	return ExecuteQuery(ctx, p, func(ctx context.Context, conn Conn) (int64, error) {
		return conn.Exec(ctx, sql, args...)
	})
}

// Query runs a query and returns its rows keyed by column name.
func (p *Pool) Query(ctx context.Context, sql string, args ...any) ([]types.Row, error) {
	return ExecuteQuery(ctx, p, func(ctx context.Context, conn Conn) ([]types.Row, error) {
		return conn.Query(ctx, sql, args...)
	})
}

func (p *Pool) acquire(ctx context.Context) (Conn, error) {
	timeout := p.config.AcquireTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	conn, err := p.driver.Acquire(acquireCtx)
	p.recordAcquire(p.now().Sub(start))
	if err == nil {
		return conn, nil
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return nil, errors.WrapError(err, errors.ErrCodeConnectionTimeout,
			fmt.Sprintf("no connection available within %s", timeout)).
			WithComponent("pool").
			WithOperation("acquire")
	}
	return nil, errors.WrapError(err, errors.ErrCodeConnectionFailed, "failed to acquire connection").
		WithComponent("pool").
		WithOperation("acquire")
}

// recordAcquire pushes a sample into the ring, replacing the oldest once full.
func (p *Pool) recordAcquire(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count == sampleWindow {
		p.sampleSum -= p.samples[p.next]
	} else {
		p.count++
	}
	p.samples[p.next] = d
	p.sampleSum += d
	p.next = (p.next + 1) % sampleWindow
}

func (p *Pool) recordFailure(err error) {
	p.failedQueries.Add(1)

	p.mu.Lock()
	p.lastError = err.Error()
	p.lastErrorAt = p.now()
	p.mu.Unlock()
}

// HealthCheck runs a trivial round trip under the health check timeout. It
// never returns an error; failures are reported in the status.
func (p *Pool) HealthCheck(ctx context.Context) (status types.HealthStatus) {
	start := p.now()
	status.CheckedAt = start

	defer func() {
		if r := recover(); r != nil {
			status.Healthy = false
			status.Error = fmt.Sprintf("health check panicked: %v", r)
		}
		status.ConnectionTimeMs = float64(p.now().Sub(start)) / float64(time.Millisecond)
	}()

	ctx, cancel := context.WithTimeout(ctx, p.config.HealthCheckTimeout())
	defer cancel()

	conn, err := p.driver.Acquire(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer conn.Release()

	if _, err := conn.Query(ctx, "SELECT 1"); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Healthy = true
	return status
}

// Connect verifies the database is reachable at startup, retrying with the
// configured attempts and delay.
func (p *Pool) Connect(ctx context.Context) error {
	cfg := retry.FromAttempts(max(p.config.RetryAttempts, 1), p.config.RetryDelay())
	cfg.RetryUnclassified = true
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("database not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	err := retry.New(cfg).DoWithContext(ctx, func(ctx context.Context) error {
		timeout := p.config.AcquireTimeout()
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.driver.Ping(pingCtx)
	})
	if err != nil {
		p.logger.Error("database connection failed", "error", err)
		return errors.WrapError(err, errors.ErrCodeConnectionFailed, "database unreachable").
			WithComponent("pool").
			WithOperation("connect")
	}
	p.logger.Info("database connected")
	return nil
}

// Stats returns a snapshot of query counters, the rolling acquisition average
// and the driver's connection counts.
func (p *Pool) Stats() types.ConnectionPoolStats {
	stat := p.driver.Stat()

	p.mu.Lock()
	stats := types.ConnectionPoolStats{
		Driver:            p.driver.Name(),
		Samples:           p.count,
		TotalConnections:  stat.Total,
		IdleConnections:   stat.Idle,
		ActiveConnections: stat.Acquired,
		MaxConnections:    stat.Max,
		LastError:         p.lastError,
		LastErrorAt:       p.lastErrorAt,
	}
	if p.count > 0 {
		stats.AvgAcquireTimeMs = float64(p.sampleSum) / float64(p.count) / float64(time.Millisecond)
	}
	p.mu.Unlock()

	stats.TotalQueries = p.totalQueries.Load()
	stats.SuccessfulQueries = p.successfulQueries.Load()
	stats.FailedQueries = p.failedQueries.Load()
	return stats
}

// Driver returns the wrapped driver.
func (p *Pool) Driver() Driver { return p.driver }

// Close closes the driver. Subsequent calls are no-ops.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.driver.Close()
		p.logger.Info("pool closed")
	})
}
