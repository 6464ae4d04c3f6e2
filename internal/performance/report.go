package performance

import (
	"fmt"
	"time"

	"github.com/auditvault/auditperf/internal/partition"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// SlowQuery is one statement reported by the query monitor.
type SlowQuery struct {
	Query       string  `json:"query"`
	Calls       int64   `json:"calls"`
	MeanTimeMs  float64 `json:"mean_time_ms"`
	TotalTimeMs float64 `json:"total_time_ms"`
}

// UnusedIndex is an index that has never been scanned.
type UnusedIndex struct {
	Table     string `json:"table"`
	Index     string `json:"index"`
	SizeBytes int64  `json:"size_bytes"`
}

// PerformanceReport is one snapshot of pool, cache and partition state.
type PerformanceReport struct {
	ID              string                    `json:"id"`
	GeneratedAt     time.Time                 `json:"generated_at"`
	Duration        time.Duration             `json:"duration"`
	Pool            types.ConnectionPoolStats `json:"pool"`
	PoolHealth      types.HealthStatus        `json:"pool_health"`
	Cache           types.QueryCacheStats     `json:"cache"`
	Partitions      []partition.TableStats    `json:"partitions"`
	SlowQueries     []SlowQuery               `json:"slow_queries,omitempty"`
	UnusedIndexes   []UnusedIndex             `json:"unused_indexes,omitempty"`
	Recommendations []string                  `json:"recommendations,omitempty"`
	Actions         []ActionRecord            `json:"actions,omitempty"`
	// Errors lists collaborators that could not be sampled.
	Errors []string `json:"errors,omitempty"`
}

// Healthy reports whether the database answered the health probe.
func (r *PerformanceReport) Healthy() bool {
	return r.PoolHealth.Healthy
}

// recommendations derives advice from the snapshot. Partition advice comes
// from the lifecycle manager and is repeated here per table.
func (r *PerformanceReport) recommendations(cfg Thresholds) []string {
	var recs []string
	if !r.PoolHealth.Healthy {
		recs = append(recs, "database health check failed: "+r.PoolHealth.Error)
	}
	if r.Pool.MaxConnections > 0 && r.Pool.ActiveConnections >= r.Pool.MaxConnections {
		recs = append(recs, fmt.Sprintf("all %d pool connections are in use; consider raising max_connections",
			r.Pool.MaxConnections))
	}
	if r.Pool.TotalQueries > 0 {
		failRate := float64(r.Pool.FailedQueries) / float64(r.Pool.TotalQueries)
		if failRate > 0.05 {
			recs = append(recs, fmt.Sprintf("%.1f%% of queries failed; last error: %s", failRate*100, r.Pool.LastError))
		}
	}
	if r.Cache.TotalOps > 0 && r.Cache.HitRatio < cfg.LowHitRatio {
		recs = append(recs, fmt.Sprintf("cache hit ratio %.2f is below %.2f; review cache keys and TTLs",
			r.Cache.HitRatio, cfg.LowHitRatio))
	}
	if n := len(r.SlowQueries); n > cfg.SlowQueryThreshold {
		recs = append(recs, fmt.Sprintf("%d slow queries exceed %.0fms", n, cfg.SlowQueryMs))
	}
	var unused int64
	for _, idx := range r.UnusedIndexes {
		unused += idx.SizeBytes
	}
	if len(r.UnusedIndexes) > 0 {
		recs = append(recs, fmt.Sprintf("%d unused indexes hold %s", len(r.UnusedIndexes), utils.FormatBytes(unused)))
	}
	for _, t := range r.Partitions {
		for _, rec := range t.Recommendations {
			recs = append(recs, t.Table+": "+rec)
		}
	}
	return recs
}
