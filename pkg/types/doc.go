/*
Package types provides the shared data model and collaborator interfaces for auditperf.

The package sits below every other package in the module and has no internal
dependencies, so the cache, pool, partition and performance packages can exchange
values without importing one another.

# Core Interfaces

QueryCache:
The get/set/delete/clear/stats/cleanup/invalidate contract implemented identically
by the local LRU, the remote (Redis) adapter and the hybrid L1/L2 adapter.

	var c types.QueryCache[[]types.Row]
	rows, ok := c.Get(ctx, "org:42:recent")
	if !ok {
		rows = load()
		c.Set(ctx, "org:42:recent", rows, 0) // default TTL
	}

QueryExecutor:
The execute(sql, params) contract consumed by the partition lifecycle manager and
by the performance monitor. The connection pool implements it.

RetentionPolicySource:
Read-only access to the named retention policies owned by the administration side.

# Snapshots

QueryCacheStats, ConnectionPoolStats and HealthStatus are recomputed on demand and
never persisted. PartitionMetadata ranges are half-open:

	p := types.PartitionMetadata{
		Name:      "audit_logs_2026_01",
		StartDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	p.Contains(p.EndDate) // false
*/
package types
