package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/internal/performance"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/health"
	"github.com/auditvault/auditperf/pkg/status"
)

type fakeReports struct {
	mu          sync.Mutex
	latest      *performance.PerformanceReport
	generated   int
	patterns    []string
	invalidated int
	err         error
	engine      *performance.RemediationEngine
}

func (f *fakeReports) LatestReport() *performance.PerformanceReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeReports) GenerateReport(context.Context) *performance.PerformanceReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	f.latest = &performance.PerformanceReport{ID: fmt.Sprintf("report-%d", f.generated)}
	return f.latest
}

func (f *fakeReports) InvalidateCache(_ context.Context, pattern string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	return f.invalidated, f.err
}

func (f *fakeReports) Remediation() *performance.RemediationEngine { return f.engine }

type fakePartitions struct {
	stats  []partition.TableStats
	result partition.MaintenanceResult
	runs   int
}

func (f *fakePartitions) Stats(table string) (partition.TableStats, error) {
	for _, s := range f.stats {
		if s.Table == table {
			return s, nil
		}
	}
	return partition.TableStats{}, errors.NewError(errors.ErrCodePartitionNotFound, "table "+table+" is not partitioned")
}

func (f *fakePartitions) AllStats() []partition.TableStats { return f.stats }

func (f *fakePartitions) RunMaintenance(context.Context) partition.MaintenanceResult {
	f.runs++
	return f.result
}

type fixture struct {
	server     *Server
	reports    *fakeReports
	partitions *fakePartitions
	health     *health.Tracker
	status     *status.Tracker
}

func newFixture() *fixture {
	f := &fixture{
		reports: &fakeReports{},
		partitions: &fakePartitions{stats: []partition.TableStats{
			{Table: "audit_logs", Interval: "monthly", PartitionCount: 6},
		}},
		health: health.NewTracker(health.DefaultConfig()),
	}
	f.health.RegisterComponent(health.ComponentDatabase)
	f.health.RegisterComponent(health.ComponentCache)
	f.status = status.NewTracker(status.TrackerConfig{HealthTracker: f.health})
	f.server = NewServer(DefaultServerConfig(), Dependencies{
		Reports:    f.reports,
		Partitions: f.partitions,
		Health:     f.health,
		Status:     f.status,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("auditperf_db_healthy 1\n"))
		}),
	})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))

	var decoded map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestServerConfigFrom(t *testing.T) {
	cfg := ServerConfigFrom(config.APIConfig{Enabled: true, Address: ":9100"})
	assert.Equal(t, ":9100", cfg.Address)
	assert.Equal(t, DefaultServerConfig().ReadTimeout, cfg.ReadTimeout)
	assert.Equal(t, "localhost:8080", ServerConfigFrom(config.APIConfig{}).Address)
}

func TestHealth(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Len(t, body["components"], 2)

	f.health.RecordError(health.ComponentCache, errors.NewError(errors.ErrCodeCacheUnavailable, "redis down"))
	rec, body = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "degraded", body["status"])

	rec, body = f.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code, "a degraded cache does not block readiness")
	assert.Equal(t, true, body["ready"])

	for i := 0; i < 3; i++ {
		f.health.RecordError(health.ComponentDatabase, fmt.Errorf("timeout"))
	}
	rec, _ = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, body = f.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ready"])

	rec, body = f.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["alive"])
}

func TestHealth_WithoutTracker(t *testing.T) {
	s := NewServer(DefaultServerConfig(), Dependencies{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/report", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))

	rec, _ = f.do(t, http.MethodGet, "/cache/invalidate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReport(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodGet, "/report", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report-1", body["id"], "generated on first request")

	_, body = f.do(t, http.MethodGet, "/report", "")
	assert.Equal(t, "report-1", body["id"])

	rec, body = f.do(t, http.MethodPost, "/report/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report-2", body["id"])

	history := f.status.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, status.OpReport, history[0].Type)
	assert.Equal(t, "report-2", history[0].Metadata["report_id"])
}

func TestRemediation(t *testing.T) {
	f := newFixture()
	_, body := f.do(t, http.MethodGet, "/remediation", "")
	assert.Equal(t, false, body["enabled"])

	engine := performance.NewRemediationEngine(performance.Thresholds{SlowQueryThreshold: 0})
	engine.Register(performance.ActionRunMaintenance, func(context.Context) error { return nil })
	engine.Evaluate(context.Background(), &performance.PerformanceReport{SlowQueries: make([]performance.SlowQuery, 1)})
	f.reports.engine = engine

	_, body = f.do(t, http.MethodGet, "/remediation?limit=5", "")
	assert.Equal(t, true, body["enabled"])
	history, ok := body["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	assert.Equal(t, "run_maintenance", history[0].(map[string]any)["action"])
}

func TestPartitions(t *testing.T) {
	f := newFixture()

	rec, body := f.do(t, http.MethodGet, "/partitions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["tables"], 1)

	rec, body = f.do(t, http.MethodGet, "/partitions?table=audit_logs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(6), body["partition_count"])

	rec, body = f.do(t, http.MethodGet, "/partitions?table=users", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PARTITION_NOT_FOUND", body["code"])
}

func TestMaintenance(t *testing.T) {
	f := newFixture()
	f.partitions.result = partition.MaintenanceResult{Created: []string{"audit_logs_2026_12"}}

	rec, body := f.do(t, http.MethodPost, "/partitions/maintenance", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"audit_logs_2026_12"}, body["created"])
	assert.Equal(t, 1, f.partitions.runs)

	f.partitions.result = partition.MaintenanceResult{Failures: []partition.Failure{{Operation: "drop", Message: "lock timeout"}}}
	rec, _ = f.do(t, http.MethodPost, "/partitions/maintenance", "")
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	history := f.status.GetHistory(0)
	require.Len(t, history, 2)
	assert.Equal(t, status.StatusFailed, history[0].Status)
	assert.Equal(t, status.StatusCompleted, history[1].Status)
	assert.Equal(t, 1, history[1].Metadata["created"])
}

func TestInvalidate(t *testing.T) {
	f := newFixture()
	f.reports.invalidated = 4

	rec, body := f.do(t, http.MethodPost, "/cache/invalidate", `{"pattern":"org:42:*"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["removed"])
	assert.Equal(t, []string{"org:42:*"}, f.reports.patterns)

	rec, _ = f.do(t, http.MethodPost, "/cache/invalidate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/cache/invalidate", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.reports.err = errors.NewError(errors.ErrCodeInvalidPattern, "unbalanced [")
	rec, body = f.do(t, http.MethodPost, "/cache/invalidate", `{"pattern":"org:[*"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_PATTERN", body["code"])

	f.reports.err = errors.NewError(errors.ErrCodeCacheUnavailable, "redis down")
	rec, _ = f.do(t, http.MethodPost, "/cache/invalidate", `{"pattern":"org:*"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failures := 0
	for _, op := range f.status.GetHistory(0) {
		if op.Status == status.StatusFailed {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestStatusEndpoints(t *testing.T) {
	f := newFixture()
	running, _ := f.status.StartOperation(context.Background(), status.OpMaintenance, nil)
	done, _ := f.status.StartOperation(context.Background(), status.OpReport, nil)
	require.NoError(t, f.status.CompleteOperation(done.ID, nil))

	rec, body := f.do(t, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["active_operations"])
	assert.Equal(t, "healthy", body["health_state"])

	_, body = f.do(t, http.MethodGet, "/status/operations", "")
	assert.Equal(t, float64(1), body["count"])

	rec, body = f.do(t, http.MethodGet, "/status/operations/"+running.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "in_progress", body["status"])

	rec, body = f.do(t, http.MethodGet, "/status/operations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "OPERATION_NOT_FOUND", body["code"])

	rec, _ = f.do(t, http.MethodGet, "/status/operations/", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = f.do(t, http.MethodGet, "/status/history?limit=bogus", "")
	assert.Equal(t, float64(10), body["limit"])
	assert.Equal(t, float64(1), body["count"])
}

func TestMetricsAndInfo(t *testing.T) {
	f := newFixture()

	rec, _ := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auditperf_db_healthy 1")

	_, body := f.do(t, http.MethodGet, "/info", "")
	assert.Contains(t, body["endpoints"], "GET /metrics")
	assert.Equal(t, "auditperf", body["service"])
}

func TestCORS(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.EnableCORS = true
	s := NewServer(cfg, Dependencies{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/report", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestShutdown(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Address = "127.0.0.1:0"
	s := NewServer(cfg, Dependencies{})
	s.StartBackground()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
