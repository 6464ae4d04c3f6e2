package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/internal/performance"
	"github.com/auditvault/auditperf/pkg/errors"
)

// Collector exports performance reports, maintenance passes and remediation
// outcomes as Prometheus metrics on a private registry.
type Collector struct {
	mu       sync.Mutex
	config   config.MetricsConfig
	registry *prometheus.Registry

	// Cache
	cacheOps        *prometheus.GaugeVec
	cacheHitRatio   *prometheus.GaugeVec
	cacheSize       *prometheus.GaugeVec
	cacheEntries    *prometheus.GaugeVec
	cacheEvictions  *prometheus.GaugeVec
	cacheRemoteErrs *prometheus.GaugeVec

	// Pool
	poolQueries     *prometheus.GaugeVec
	poolAcquire     prometheus.Gauge
	poolConnections *prometheus.GaugeVec
	dbHealthy       prometheus.Gauge
	dbProbe         prometheus.Gauge

	// Partitions
	partitionCount *prometheus.GaugeVec
	partitionBytes *prometheus.GaugeVec
	partitionEmpty *prometheus.GaugeVec

	// Query monitor
	slowQueries   prometheus.Gauge
	unusedIndexes prometheus.Gauge

	reports             prometheus.Counter
	reportDuration      prometheus.Histogram
	maintenanceOps      *prometheus.CounterVec
	maintenanceFailures *prometheus.CounterVec
	maintenanceDuration prometheus.Histogram
	remediations        *prometheus.CounterVec
	errorCounter        *prometheus.CounterVec

	// tables seen in the previous report, so vanished tables are removed
	tables map[string]bool
}

var _ performance.Observer = (*Collector)(nil)

// NewCollector creates a collector. A disabled collector accepts every call
// and records nothing.
func NewCollector(cfg config.MetricsConfig) (*Collector, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "auditperf"
	}
	c := &Collector{config: cfg, tables: make(map[string]bool)}
	if !cfg.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	return c, nil
}

// Enabled reports whether metrics are recorded.
func (c *Collector) Enabled() bool {
	return c.registry != nil
}

// Registry returns the underlying registry, or nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          c.registry,
	})
}

// ObserveReport publishes the gauges of one performance report.
func (c *Collector) ObserveReport(r *performance.PerformanceReport) {
	if !c.Enabled() || r == nil {
		return
	}

	strategy := r.Cache.Strategy
	if strategy == "" {
		strategy = "unknown"
	}
	c.cacheOps.WithLabelValues(strategy, "hit").Set(float64(r.Cache.Hits))
	c.cacheOps.WithLabelValues(strategy, "miss").Set(float64(r.Cache.Misses))
	c.cacheHitRatio.WithLabelValues(strategy).Set(r.Cache.HitRatio)
	c.cacheSize.WithLabelValues(strategy).Set(r.Cache.TotalSizeMB)
	c.cacheEntries.WithLabelValues(strategy).Set(float64(r.Cache.Entries))
	c.cacheEvictions.WithLabelValues(strategy, "evicted").Set(float64(r.Cache.Evictions))
	c.cacheEvictions.WithLabelValues(strategy, "expired").Set(float64(r.Cache.Expirations))
	c.cacheRemoteErrs.WithLabelValues(strategy).Set(float64(r.Cache.RemoteErrors))

	c.poolQueries.WithLabelValues("success").Set(float64(r.Pool.SuccessfulQueries))
	c.poolQueries.WithLabelValues("failure").Set(float64(r.Pool.FailedQueries))
	c.poolAcquire.Set(r.Pool.AvgAcquireTimeMs)
	c.poolConnections.WithLabelValues("total").Set(float64(r.Pool.TotalConnections))
	c.poolConnections.WithLabelValues("idle").Set(float64(r.Pool.IdleConnections))
	c.poolConnections.WithLabelValues("active").Set(float64(r.Pool.ActiveConnections))
	c.poolConnections.WithLabelValues("max").Set(float64(r.Pool.MaxConnections))
	c.dbHealthy.Set(boolGauge(r.PoolHealth.Healthy))
	c.dbProbe.Set(r.PoolHealth.ConnectionTimeMs)

	c.slowQueries.Set(float64(len(r.SlowQueries)))
	c.unusedIndexes.Set(float64(len(r.UnusedIndexes)))

	c.observePartitions(r.Partitions)

	c.reports.Inc()
	c.reportDuration.Observe(r.Duration.Seconds())
}

func (c *Collector) observePartitions(stats []partition.TableStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[string]bool, len(stats))
	for _, s := range stats {
		seen[s.Table] = true
		c.partitionCount.WithLabelValues(s.Table, s.Interval).Set(float64(s.PartitionCount))
		c.partitionBytes.WithLabelValues(s.Table).Set(float64(s.TotalSizeBytes))
		c.partitionEmpty.WithLabelValues(s.Table).Set(float64(s.EmptyPartitions))
	}
	for table := range c.tables {
		if !seen[table] {
			c.partitionCount.DeletePartialMatch(prometheus.Labels{"table": table})
			c.partitionBytes.DeleteLabelValues(table)
			c.partitionEmpty.DeleteLabelValues(table)
		}
	}
	c.tables = seen
}

// RecordMaintenance counts the partitions touched by one maintenance pass.
func (c *Collector) RecordMaintenance(result partition.MaintenanceResult) {
	if !c.Enabled() {
		return
	}
	c.maintenanceOps.WithLabelValues("created").Add(float64(len(result.Created)))
	c.maintenanceOps.WithLabelValues("dropped").Add(float64(len(result.Dropped)))
	c.maintenanceOps.WithLabelValues("archived").Add(float64(len(result.Archived)))
	for _, f := range result.Failures {
		c.maintenanceFailures.WithLabelValues(f.Operation).Inc()
		if f.Err != nil {
			c.RecordError("partition", f.Err)
		}
	}
	c.maintenanceDuration.Observe(result.Duration.Seconds())
	c.observePartitions(result.Stats)
}

// RecordRemediation counts one remediation attempt.
func (c *Collector) RecordRemediation(action, outcome string) {
	if !c.Enabled() {
		return
	}
	c.remediations.WithLabelValues(action, outcome).Inc()
}

// RecordError counts an error of component by its code.
func (c *Collector) RecordError(component string, err error) {
	if !c.Enabled() || err == nil {
		return
	}
	c.errorCounter.WithLabelValues(component, classifyError(err)).Inc()
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	labels := prometheus.Labels(c.config.Labels)

	gaugeVec := func(subsystem, name, help string, vars ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		}, vars)
	}
	gauge := func(subsystem, name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: subsystem, Name: name, Help: help, ConstLabels: labels,
		})
	}

	c.cacheOps = gaugeVec("cache", "lookups", "Cache lookups since start by result", "strategy", "result")
	c.cacheHitRatio = gaugeVec("cache", "hit_ratio", "Cache hits divided by lookups", "strategy")
	c.cacheSize = gaugeVec("cache", "size_megabytes", "Estimated size of cached values", "strategy")
	c.cacheEntries = gaugeVec("cache", "entries", "Number of cached entries", "strategy")
	c.cacheEvictions = gaugeVec("cache", "removals", "Entries removed since start by reason", "strategy", "reason")
	c.cacheRemoteErrs = gaugeVec("cache", "remote_errors", "Failed remote cache operations since start", "strategy")

	c.poolQueries = gaugeVec("pool", "queries", "Queries since start by outcome", "outcome")
	c.poolAcquire = gauge("pool", "acquire_milliseconds_avg", "Rolling average connection acquire time")
	c.poolConnections = gaugeVec("pool", "connections", "Pool connections by state", "state")
	c.dbHealthy = gauge("db", "healthy", "1 when the last health check succeeded")
	c.dbProbe = gauge("db", "health_check_milliseconds", "Duration of the last health check")

	c.partitionCount = gaugeVec("partition", "count", "Partitions per table", "table", "interval")
	c.partitionBytes = gaugeVec("partition", "size_bytes", "Total partition size per table", "table")
	c.partitionEmpty = gaugeVec("partition", "empty", "Empty partitions per table", "table")

	c.slowQueries = gauge("query", "slow", "Slow statements in the last report")
	c.unusedIndexes = gauge("query", "unused_indexes", "Never scanned indexes in the last report")

	c.reports = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "report", Name: "generated_total",
		Help: "Performance reports generated", ConstLabels: labels,
	})
	c.reportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "report", Name: "duration_seconds",
		Help: "Time to build a performance report", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	})
	c.maintenanceOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "maintenance", Name: "partitions_total",
		Help: "Partitions touched by maintenance", ConstLabels: labels,
	}, []string{"operation"})
	c.maintenanceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "maintenance", Name: "failures_total",
		Help: "Failed partition operations", ConstLabels: labels,
	}, []string{"operation"})
	c.maintenanceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: "maintenance", Name: "duration_seconds",
		Help: "Duration of maintenance passes", ConstLabels: labels,
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~3m
	})
	c.remediations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "remediation", Name: "actions_total",
		Help: "Remediation attempts by action and outcome", ConstLabels: labels,
	}, []string{"action", "outcome"})
	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "errors_total",
		Help: "Errors by component and code", ConstLabels: labels,
	}, []string{"component", "code"})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.cacheOps, c.cacheHitRatio, c.cacheSize, c.cacheEntries, c.cacheEvictions, c.cacheRemoteErrs,
		c.poolQueries, c.poolAcquire, c.poolConnections, c.dbHealthy, c.dbProbe,
		c.partitionCount, c.partitionBytes, c.partitionEmpty,
		c.slowQueries, c.unusedIndexes,
		c.reports, c.reportDuration,
		c.maintenanceOps, c.maintenanceFailures, c.maintenanceDuration,
		c.remediations, c.errorCounter,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: c.config.Namespace}),
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// classifyError prefers the structured code and falls back to the message.
func classifyError(err error) string {
	if code := errors.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"):
		return "connection"
	case strings.Contains(msg, "permission"):
		return "permission"
	default:
		return "other"
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
