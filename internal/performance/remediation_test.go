package performance

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/retry"
	"github.com/auditvault/auditperf/pkg/types"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func fastRetry() retry.Config {
	cfg := retry.FromAttempts(3, time.Millisecond)
	cfg.Jitter = false
	return cfg
}

func lowHitReport(sizeMB float64) *PerformanceReport {
	return &PerformanceReport{Cache: types.QueryCacheStats{TotalOps: 1000, Hits: 20, HitRatio: 0.02, TotalSizeMB: sizeMB}}
}

func newTestEngine(clock *fakeClock, opts ...RemediationOption) *RemediationEngine {
	opts = append([]RemediationOption{WithRemediationClock(clock.Now), WithRemediationRetry(fastRetry())}, opts...)
	return NewRemediationEngine(testThresholds(), opts...)
}

func TestThresholdsFrom(t *testing.T) {
	cfg := config.NewDefault().Performance
	cfg.LowHitRatioReports = 0
	th := ThresholdsFrom(cfg)
	assert.Equal(t, 1, th.LowHitRatioReports)
	assert.Equal(t, 0.1, th.LowHitRatio)
	assert.Equal(t, 10, th.SlowQueryThreshold)
}

func TestRemediation_ClearCacheNeedsSustainedLowHitRatio(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestEngine(clock)
	clears := 0
	e.Register(ActionClearCache, func(context.Context) error { clears++; return nil })
	ctx := context.Background()

	assert.Empty(t, e.Evaluate(ctx, lowHitReport(50)))
	assert.Empty(t, e.Evaluate(ctx, lowHitReport(50)))
	records := e.Evaluate(ctx, lowHitReport(50))
	require.Len(t, records, 1)
	assert.Equal(t, ActionClearCache, records[0].Action)
	assert.True(t, records[0].Success)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Contains(t, records[0].Reason, "for 3 reports")
	assert.Equal(t, 1, clears)

	// A healthy report resets the streak.
	clock.Advance(2 * time.Hour)
	assert.Empty(t, e.Evaluate(ctx, lowHitReport(50)))
	assert.Empty(t, e.Evaluate(ctx, &PerformanceReport{Cache: types.QueryCacheStats{TotalOps: 10, HitRatio: 0.9}}))
	assert.Empty(t, e.Evaluate(ctx, lowHitReport(50)))
	assert.Empty(t, e.Evaluate(ctx, lowHitReport(50)))
	assert.Len(t, e.Evaluate(ctx, lowHitReport(50)), 1)
	assert.Equal(t, 2, clears)
}

func TestRemediation_SmallOrIdleCacheIsKept(t *testing.T) {
	e := newTestEngine(&fakeClock{now: time.Now()})
	e.Register(ActionClearCache, func(context.Context) error {
		t.Fatal("cache must not be cleared")
		return nil
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		assert.Empty(t, e.Evaluate(ctx, lowHitReport(1)))
		assert.Empty(t, e.Evaluate(ctx, &PerformanceReport{}))
	}
}

func TestRemediation_Cooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestEngine(clock)
	runs := 0
	e.Register(ActionRunMaintenance, func(context.Context) error { runs++; return nil })
	report := &PerformanceReport{SlowQueries: make([]SlowQuery, 3)}
	ctx := context.Background()

	require.Len(t, e.Evaluate(ctx, report), 1)
	clock.Advance(30 * time.Minute)
	assert.Empty(t, e.Evaluate(ctx, report))
	clock.Advance(31 * time.Minute)
	assert.Len(t, e.Evaluate(ctx, report), 1)
	assert.Equal(t, 2, runs)

	assert.Empty(t, e.Evaluate(ctx, &PerformanceReport{SlowQueries: make([]SlowQuery, 2)}), "at threshold is not above it")
}

func TestRemediation_FailureIsRetriedAndObserved(t *testing.T) {
	var outcomes []string
	e := newTestEngine(&fakeClock{now: time.Now()}, WithActionObserver(func(action, outcome string) {
		outcomes = append(outcomes, action+"="+outcome)
	}))
	calls := 0
	e.Register(ActionRunMaintenance, func(context.Context) error {
		calls++
		return stderrors.New("lock timeout")
	})

	records := e.Evaluate(context.Background(), &PerformanceReport{SlowQueries: make([]SlowQuery, 5)})
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, 3, records[0].Attempts)
	assert.Equal(t, 3, calls)
	assert.Contains(t, records[0].Error, "lock timeout")
	assert.Equal(t, []string{"run_maintenance=failure"}, outcomes)
}

func TestRemediation_RetrySucceedsAfterTransientError(t *testing.T) {
	e := newTestEngine(&fakeClock{now: time.Now()})
	calls := 0
	e.Register(ActionRunMaintenance, func(context.Context) error {
		calls++
		if calls == 1 {
			return stderrors.New("deadlock detected")
		}
		return nil
	})

	records := e.Evaluate(context.Background(), &PerformanceReport{SlowQueries: make([]SlowQuery, 5)})
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, 2, records[0].Attempts)
	assert.Empty(t, records[0].Error)
}

func TestRemediation_UnregisteredActionsAreSkipped(t *testing.T) {
	e := newTestEngine(&fakeClock{now: time.Now()})
	report := lowHitReport(50)
	report.SlowQueries = make([]SlowQuery, 10)
	for i := 0; i < 4; i++ {
		assert.Empty(t, e.Evaluate(context.Background(), report))
	}
	assert.Empty(t, e.History(0))
}

func TestRemediation_HistoryIsBounded(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestEngine(clock)
	e.Register(ActionRunMaintenance, func(context.Context) error { return nil })
	report := &PerformanceReport{SlowQueries: make([]SlowQuery, 3)}

	for i := 0; i < maxHistory+20; i++ {
		require.Len(t, e.Evaluate(context.Background(), report), 1)
		clock.Advance(2 * time.Hour)
	}
	history := e.History(0)
	require.Len(t, history, maxHistory)
	assert.True(t, history[0].Timestamp.Before(history[len(history)-1].Timestamp))

	last := e.History(5)
	require.Len(t, last, 5)
	assert.Equal(t, history[len(history)-1], last[4])
}

func TestCoordinator_ClearsCacheOnLowHitRatio(t *testing.T) {
	sc := newStatsCache(types.QueryCacheStats{TotalOps: 500, HitRatio: 0.01, TotalSizeMB: 64})
	observer := &fakeObserver{}
	th := testThresholds()
	th.LowHitRatioReports = 1
	c, err := NewCoordinator(healthyPool(), sc, nil, CoordinatorConfig{AutoRemediation: true, Thresholds: th},
		WithObserver(observer), WithRemediationOptions(WithRemediationRetry(fastRetry())))
	require.NoError(t, err)

	report := c.GenerateReport(context.Background())
	require.Len(t, report.Actions, 1)
	assert.Equal(t, ActionClearCache, report.Actions[0].Action)
	assert.Equal(t, 1, sc.clearCount())
	assert.Contains(t, report.Recommendations[0], "cache hit ratio 0.01")
	assert.Equal(t, []string{"clear_cache=success"}, observer.remediations)
}

func TestCoordinator_MaintenanceFailuresAreRetried(t *testing.T) {
	parts := &fakePartitions{failures: 1}
	monitor := &fakeMonitor{slow: make([]SlowQuery, 3)}
	c, err := NewCoordinator(healthyPool(), newStatsCache(types.QueryCacheStats{}), parts,
		CoordinatorConfig{AutoRemediation: true, Thresholds: testThresholds()},
		WithQueryMonitor(monitor), WithRemediationOptions(WithRemediationRetry(fastRetry())))
	require.NoError(t, err)

	report := c.GenerateReport(context.Background())
	require.Len(t, report.Actions, 1)
	assert.False(t, report.Actions[0].Success)
	assert.Contains(t, report.Actions[0].Error, "maintenance finished with 1 failures")
	assert.Equal(t, int32(3), parts.maintenances.Load())
}
