package performance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/retry"
	"github.com/auditvault/auditperf/pkg/utils"
)

// Remediation actions.
const (
	ActionClearCache     = "clear_cache"
	ActionRunMaintenance = "run_maintenance"
)

// Action outcomes passed to observers.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// maxHistory bounds the remediation history.
const maxHistory = 100

// Thresholds configures report recommendations and remediation triggers.
type Thresholds struct {
	LowHitRatio        float64
	LowHitRatioReports int
	MinCacheSizeMB     float64
	SlowQueryThreshold int
	SlowQueryMs        float64
	ActionCooldown     time.Duration
}

// ThresholdsFrom converts the performance section.
func ThresholdsFrom(cfg config.PerformanceConfig) Thresholds {
	t := Thresholds{
		LowHitRatio:        cfg.LowHitRatio,
		LowHitRatioReports: cfg.LowHitRatioReports,
		MinCacheSizeMB:     cfg.MinCacheSizeMB,
		SlowQueryThreshold: cfg.SlowQueryThreshold,
		SlowQueryMs:        cfg.SlowQueryMs,
		ActionCooldown:     cfg.ActionCooldown(),
	}
	if t.LowHitRatioReports <= 0 {
		t.LowHitRatioReports = 1
	}
	return t
}

// ActionFunc performs one remediation.
type ActionFunc func(ctx context.Context) error

// ActionRecord is one remediation attempt.
type ActionRecord struct {
	Action    string        `json:"action"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
}

// RemediationOption customizes a RemediationEngine.
type RemediationOption func(*RemediationEngine)

// WithRemediationRetry replaces the retry policy of actions.
func WithRemediationRetry(cfg retry.Config) RemediationOption {
	return func(e *RemediationEngine) { e.retry = cfg }
}

// WithRemediationClock replaces the wall clock.
func WithRemediationClock(now func() time.Time) RemediationOption {
	return func(e *RemediationEngine) { e.now = now }
}

// WithRemediationLogger sets the logger.
func WithRemediationLogger(logger *slog.Logger) RemediationOption {
	return func(e *RemediationEngine) { e.logger = logger }
}

// WithActionObserver is called after every attempted action.
func WithActionObserver(fn func(action, outcome string)) RemediationOption {
	return func(e *RemediationEngine) { e.observe = fn }
}

// RemediationEngine turns reports into self-tuning actions. Actions are best
// effort and rate limited by a per-action cooldown.
type RemediationEngine struct {
	thresholds Thresholds
	retry      retry.Config
	now        func() time.Time
	logger     *slog.Logger
	observe    func(action, outcome string)

	mu           sync.Mutex
	actions      map[string]ActionFunc
	lastRun      map[string]time.Time
	lowHitStreak int
	history      []ActionRecord
}

// NewRemediationEngine creates an engine with no registered actions.
func NewRemediationEngine(thresholds Thresholds, opts ...RemediationOption) *RemediationEngine {
	e := &RemediationEngine{
		thresholds: thresholds,
		retry:      retry.FromAttempts(3, time.Second),
		now:        time.Now,
		actions:    make(map[string]ActionFunc),
		lastRun:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retry.RetryUnclassified = true
	e.logger = utils.OrDiscard(e.logger).With("component", "remediation")
	return e
}

// Register installs the function behind action.
func (e *RemediationEngine) Register(action string, fn ActionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.actions[action] = fn
}

// Evaluate applies the rules to report and runs every triggered action that
// is registered and out of cooldown. It returns the attempts made.
func (e *RemediationEngine) Evaluate(ctx context.Context, report *PerformanceReport) []ActionRecord {
	type trigger struct{ action, reason string }
	var triggers []trigger

	e.mu.Lock()
	cacheStats := report.Cache
	if cacheStats.TotalOps > 0 && cacheStats.HitRatio < e.thresholds.LowHitRatio {
		e.lowHitStreak++
	} else {
		e.lowHitStreak = 0
	}
	if e.lowHitStreak >= e.thresholds.LowHitRatioReports && cacheStats.TotalSizeMB >= e.thresholds.MinCacheSizeMB {
		triggers = append(triggers, trigger{ActionClearCache, fmt.Sprintf(
			"hit ratio %.2f below %.2f for %d reports with %.1fMB cached",
			cacheStats.HitRatio, e.thresholds.LowHitRatio, e.lowHitStreak, cacheStats.TotalSizeMB)})
	}
	if n := len(report.SlowQueries); n > e.thresholds.SlowQueryThreshold {
		triggers = append(triggers, trigger{ActionRunMaintenance, fmt.Sprintf(
			"%d slow queries exceed threshold %d", n, e.thresholds.SlowQueryThreshold)})
	}
	e.mu.Unlock()

	var records []ActionRecord
	for _, t := range triggers {
		if rec, ok := e.run(ctx, t.action, t.reason); ok {
			records = append(records, rec)
		}
	}
	return records
}

func (e *RemediationEngine) run(ctx context.Context, action, reason string) (ActionRecord, bool) {
	e.mu.Lock()
	fn, registered := e.actions[action]
	last, ran := e.lastRun[action]
	now := e.now()
	if !registered {
		e.mu.Unlock()
		return ActionRecord{}, false
	}
	if ran && now.Sub(last) < e.thresholds.ActionCooldown {
		e.mu.Unlock()
		e.logger.Debug("remediation in cooldown", "action", action, "since", now.Sub(last))
		return ActionRecord{}, false
	}
	e.lastRun[action] = now
	e.mu.Unlock()

	rec := ActionRecord{Action: action, Reason: reason, Timestamp: now}
	start := time.Now()
	err := retry.New(e.retry).DoWithContext(ctx, func(ctx context.Context) error {
		rec.Attempts++
		return fn(ctx)
	})
	rec.Duration = time.Since(start)
	rec.Success = err == nil

	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
		rec.Error = err.Error()
		e.logger.Warn("remediation failed", "action", action, "reason", reason, "attempts", rec.Attempts, "error", err)
	} else {
		e.logger.Info("remediation applied", "action", action, "reason", reason, "duration", rec.Duration)
	}

	e.mu.Lock()
	if rec.Success && action == ActionClearCache {
		e.lowHitStreak = 0
	}
	e.history = append(e.history, rec)
	if len(e.history) > maxHistory {
		e.history = append(e.history[:0:0], e.history[len(e.history)-maxHistory:]...)
	}
	e.mu.Unlock()

	if e.observe != nil {
		e.observe(action, outcome)
	}
	return rec, true
}

// History returns up to limit of the most recent attempts, oldest first. A
// limit <= 0 returns everything kept.
func (e *RemediationEngine) History(limit int) []ActionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.history) {
		limit = len(e.history)
	}
	return append([]ActionRecord(nil), e.history[len(e.history)-limit:]...)
}
