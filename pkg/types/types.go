package types

import (
	"time"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// QueryCacheStats is a point-in-time snapshot of a query cache. Every strategy
// reports the same shape.
type QueryCacheStats struct {
	Strategy     string  `json:"strategy"`
	TotalOps     uint64  `json:"total_ops"`
	Hits         uint64  `json:"hits"`
	Misses       uint64  `json:"misses"`
	HitRatio     float64 `json:"hit_ratio"`
	TotalSizeMB  float64 `json:"total_size_mb"`
	Entries      int     `json:"entries"`
	Evictions    uint64  `json:"evictions"`
	Expirations  uint64  `json:"expirations"`
	AvgOpTimeMs  float64 `json:"avg_op_time_ms"`
	RemoteErrors uint64  `json:"remote_errors"`
}

// ConnectionPoolStats represents connection pool statistics
type ConnectionPoolStats struct {
	Driver            string    `json:"driver"`
	TotalQueries      uint64    `json:"total_queries"`
	SuccessfulQueries uint64    `json:"successful_queries"`
	FailedQueries     uint64    `json:"failed_queries"`
	AvgAcquireTimeMs  float64   `json:"avg_acquire_time_ms"`
	Samples           int       `json:"samples"`
	TotalConnections  int32     `json:"total_connections"`
	IdleConnections   int32     `json:"idle_connections"`
	ActiveConnections int32     `json:"active_connections"`
	MaxConnections    int32     `json:"max_connections"`
	LastError         string    `json:"last_error,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitempty"`
}

// HealthStatus is the outcome of a single database round trip.
type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	ConnectionTimeMs float64   `json:"connection_time_ms"`
	Error            string    `json:"error,omitempty"`
	CheckedAt        time.Time `json:"checked_at"`
}

// PartitionMetadata describes one physical time-range partition covering the
// half-open range [StartDate, EndDate).
type PartitionMetadata struct {
	Table               string    `json:"table"`
	Name                string    `json:"name"`
	StartDate           time.Time `json:"start_date"`
	EndDate             time.Time `json:"end_date"`
	RetentionPolicyName string    `json:"retention_policy_name"`
	SizeBytes           int64     `json:"size_bytes"`
}

// Contains reports whether t falls inside the partition range.
func (p PartitionMetadata) Contains(t time.Time) bool {
	return !t.Before(p.StartDate) && t.Before(p.EndDate)
}

// Overlaps reports whether [start, end) intersects the partition range.
func (p PartitionMetadata) Overlaps(start, end time.Time) bool {
	return start.Before(p.EndDate) && p.StartDate.Before(end)
}

// RetentionPolicy is a named data retention rule. Zero ArchiveAfterDays or
// DeleteAfterDays means the step is not configured.
type RetentionPolicy struct {
	Name               string `json:"name" yaml:"name" toml:"name"`
	RetentionDays      int    `json:"retention_days" yaml:"retention_days" toml:"retention_days"`
	ArchiveAfterDays   int    `json:"archive_after_days,omitempty" yaml:"archive_after_days" toml:"archive_after_days"`
	DeleteAfterDays    int    `json:"delete_after_days,omitempty" yaml:"delete_after_days" toml:"delete_after_days"`
	DataClassification string `json:"data_classification" yaml:"data_classification" toml:"data_classification"`
}

// IntervalUnit is the width of one partition.
type IntervalUnit string

const (
	IntervalMonthly   IntervalUnit = "monthly"
	IntervalQuarterly IntervalUnit = "quarterly"
	IntervalYearly    IntervalUnit = "yearly"
)

// CacheStrategy selects the query cache implementation.
type CacheStrategy string

const (
	StrategyLocal  CacheStrategy = "local"
	StrategyRemote CacheStrategy = "remote"
	StrategyHybrid CacheStrategy = "hybrid"
)
