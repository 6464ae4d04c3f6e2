/*
Package partition manages time-range partitions of the audit tables.

Partition names follow {base}_{YYYY}_{MM} for monthly, {base}_{YYYY}_q{Q} for
quarterly and {base}_{YYYY} for yearly periods. External tooling relies on this
convention, and the Manager relies on it to rebuild its index from the
database catalog.

The Index keeps each table's partitions sorted by start date. Because ranges
never overlap, both bounds of a date range query are found by binary search:

	parts := idx.FindPartitionsForDateRange(
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC),
	) // audit_logs_2026_01, audit_logs_2026_02

A maintenance pass creates every missing partition from the retention cutoff
through the lookahead window, drops the partitions that ended before the
cutoff (archiving them first when the retention policy says so), then
refreshes sizes. A failure on one partition is recorded in the
MaintenanceResult and the pass continues.

QueryBuilder renders list queries with bound parameters only, optionally
reading the pruned partitions directly through UNION ALL.
*/
package partition
