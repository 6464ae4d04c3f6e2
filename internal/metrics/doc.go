/*
Package metrics exports auditperf state to Prometheus.

The Collector owns a private registry. It is attached to the performance
Coordinator as its Observer and to the partition Manager as its maintenance
hook, so every report and maintenance pass updates the exported series:

	auditperf_cache_lookups{strategy,result}
	auditperf_cache_hit_ratio{strategy}
	auditperf_pool_queries{outcome}
	auditperf_pool_acquire_milliseconds_avg
	auditperf_db_healthy
	auditperf_partition_count{table,interval}
	auditperf_maintenance_partitions_total{operation}
	auditperf_remediation_actions_total{action,outcome}
	auditperf_errors_total{component,code}

Cache and pool figures are cumulative counts kept by those components; they
are exported as gauges because the collector only samples them.

Usage:

	collector, err := metrics.NewCollector(cfg.Metrics)
	if err != nil {
		return err
	}
	mux.Handle("/metrics", collector.Handler())

A collector built from a disabled config records nothing and its handler
answers 404.
*/
package metrics
