/*
Package performance coordinates the connection pool, the query cache and the
partition lifecycle manager.

The Coordinator serves cached reads (Query, QueryRange) and produces a
PerformanceReport on a fixed interval. A report carries pool statistics and
health, cache statistics, per-table partition statistics and, when a
QueryMonitor is configured, the slowest statements and never-scanned indexes.

With auto remediation enabled each report is fed to a RemediationEngine:

	clear_cache      hit ratio below LowHitRatio for LowHitRatioReports
	                 consecutive reports while the cache holds at least
	                 MinCacheSizeMB
	run_maintenance  more than SlowQueryThreshold slow queries

Each action runs at most once per ActionCooldown and is retried with
exponential backoff. Outcomes are kept in a bounded history and forwarded to
the Observer.
*/
package performance
