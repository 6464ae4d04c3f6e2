/*
Package adapter wires the audit performance service together and runs its
lifecycle.

New builds every component from a validated configuration:

	pool         connection pool over pgx or database/sql (SQLite)
	cache        local LRU, remote Redis or hybrid query cache
	partitions   partition lifecycle manager with optional S3 archiving
	coordinator  cached reads, periodic PerformanceReports, auto-remediation
	metrics      Prometheus collector fed by reports and maintenance passes
	health       per-component health derived from probes and reports
	status       history of maintenance passes, reports and invalidations
	api          HTTP surface over all of the above

Start connects to the database, rebuilds the partition indexes from the
catalog, runs one maintenance pass when automatic maintenance is enabled, and
then launches the background loops:

	a, err := adapter.New(ctx, cfg, adapter.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Stop(context.Background())

The Adapter is the coordinator's Observer: each report updates the metrics,
the database and cache health, and the status history. Maintenance passes
reach the same three through the partition manager's hook.

Stop releases the pool and the cache. A stopped Adapter cannot be restarted.
*/
package adapter
