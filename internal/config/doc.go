/*
Package config provides configuration management for auditperf.

Configuration is layered, highest precedence first:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (AUDITPERF_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│       (YAML, or TOML by extension)          │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│            (NewDefault)                     │
	└─────────────────────────────────────────────┘

# Sections

	global:              log level, file and format
	cache:               enabled, strategy, max_size_mb, default_ttl_seconds,
	                     key_prefix, max_entries, cleanup_interval_ms, remote.*
	pool:                driver, url, min/max_connections, idle_timeout_ms,
	                     acquire_timeout_ms, retry_attempts, retry_delay_ms
	partitioning:        strategy, interval_unit, retention_days, auto_maintenance,
	                     maintenance_interval_ms, lookahead, tables[]
	retention_policies:  name, retention_days, archive_after_days,
	                     delete_after_days, data_classification
	archive:             S3 archive-before-drop settings
	performance:         report interval and remediation thresholds
	metrics, api:        Prometheus namespace and HTTP listen address

Durations are stored as integer milliseconds or seconds, as their key names say,
and exposed as time.Duration through accessor methods.

# Usage

	cfg, err := config.Load("auditperf.yaml")
	if err != nil {
		return err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err // INVALID_CONFIG, MISSING_CONFIG, UNSUPPORTED_* codes
	}

There is no package-level default instance; composition code builds one
Configuration and passes the relevant sections into constructors.
*/
package config
