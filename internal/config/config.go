package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"

	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global            GlobalConfig            `yaml:"global" toml:"global"`
	Cache             CacheConfig             `yaml:"cache" toml:"cache"`
	Pool              PoolConfig              `yaml:"pool" toml:"pool"`
	Partitioning      PartitioningConfig      `yaml:"partitioning" toml:"partitioning"`
	RetentionPolicies []types.RetentionPolicy `yaml:"retention_policies" toml:"retention_policies"`
	Archive           ArchiveConfig           `yaml:"archive" toml:"archive"`
	Performance       PerformanceConfig       `yaml:"performance" toml:"performance"`
	Metrics           MetricsConfig           `yaml:"metrics" toml:"metrics"`
	API               APIConfig               `yaml:"api" toml:"api"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFile   string `yaml:"log_file" toml:"log_file"`
	LogFormat string `yaml:"log_format" toml:"log_format"`
}

// CacheConfig represents query cache configuration
type CacheConfig struct {
	Enabled           bool              `yaml:"enabled" toml:"enabled"`
	Strategy          string            `yaml:"strategy" toml:"strategy"`
	MaxSizeMB         float64           `yaml:"max_size_mb" toml:"max_size_mb"`
	DefaultTTLSeconds int               `yaml:"default_ttl_seconds" toml:"default_ttl_seconds"`
	KeyPrefix         string            `yaml:"key_prefix" toml:"key_prefix"`
	MaxEntries        int               `yaml:"max_entries" toml:"max_entries"`
	CleanupIntervalMs int               `yaml:"cleanup_interval_ms" toml:"cleanup_interval_ms"`
	Remote            RemoteCacheConfig `yaml:"remote" toml:"remote"`
}

// RemoteCacheConfig represents the distributed (Redis) cache layer
type RemoteCacheConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	// Codec is "json" or "gob".
	Codec string `yaml:"codec" toml:"codec"`
	// Compression is "none", "zstd" or "s2".
	Compression    string               `yaml:"compression" toml:"compression"`
	OpTimeoutMs    int                  `yaml:"op_timeout_ms" toml:"op_timeout_ms"`
	LocalTTLSec    int                  `yaml:"local_ttl_seconds" toml:"local_ttl_seconds"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" toml:"circuit_breaker"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	Enabled          bool `yaml:"enabled" toml:"enabled"`
	FailureThreshold int  `yaml:"failure_threshold" toml:"failure_threshold"`
	TimeoutMs        int  `yaml:"timeout_ms" toml:"timeout_ms"`
	MaxRequests      int  `yaml:"max_requests" toml:"max_requests"`
}

// PoolConfig represents connection pool settings
type PoolConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver               string `yaml:"driver" toml:"driver"`
	URL                  string `yaml:"url" toml:"url"`
	MinConnections       int    `yaml:"min_connections" toml:"min_connections"`
	MaxConnections       int    `yaml:"max_connections" toml:"max_connections"`
	IdleTimeoutMs        int    `yaml:"idle_timeout_ms" toml:"idle_timeout_ms"`
	AcquireTimeoutMs     int    `yaml:"acquire_timeout_ms" toml:"acquire_timeout_ms"`
	RetryAttempts        int    `yaml:"retry_attempts" toml:"retry_attempts"`
	RetryDelayMs         int    `yaml:"retry_delay_ms" toml:"retry_delay_ms"`
	HealthCheckTimeoutMs int    `yaml:"health_check_timeout_ms" toml:"health_check_timeout_ms"`
}

// PartitioningConfig represents partition lifecycle settings
type PartitioningConfig struct {
	Strategy              string        `yaml:"strategy" toml:"strategy"`
	IntervalUnit          string        `yaml:"interval_unit" toml:"interval_unit"`
	RetentionDays         int           `yaml:"retention_days" toml:"retention_days"`
	AutoMaintenance       bool          `yaml:"auto_maintenance" toml:"auto_maintenance"`
	MaintenanceIntervalMs int           `yaml:"maintenance_interval_ms" toml:"maintenance_interval_ms"`
	Lookahead             int           `yaml:"lookahead" toml:"lookahead"`
	Tables                []TableConfig `yaml:"tables" toml:"tables"`
}

// TableConfig describes one partitioned table. Empty fields inherit the
// partitioning defaults.
type TableConfig struct {
	Name            string `yaml:"name" toml:"name"`
	IntervalUnit    string `yaml:"interval_unit" toml:"interval_unit"`
	RetentionPolicy string `yaml:"retention_policy" toml:"retention_policy"`
	Lookahead       int    `yaml:"lookahead" toml:"lookahead"`
}

// ArchiveConfig represents archive-before-drop settings
type ArchiveConfig struct {
	Enabled         bool   `yaml:"enabled" toml:"enabled"`
	Bucket          string `yaml:"bucket" toml:"bucket"`
	Prefix          string `yaml:"prefix" toml:"prefix"`
	Region          string `yaml:"region" toml:"region"`
	Endpoint        string `yaml:"endpoint" toml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id" toml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" toml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" toml:"force_path_style"`
	UseCargoShip    bool   `yaml:"use_cargoship" toml:"use_cargoship"`
	StorageClass    string `yaml:"storage_class" toml:"storage_class"`
	BatchSize       int    `yaml:"batch_size" toml:"batch_size"`
}

// PerformanceConfig represents reporting and remediation settings
type PerformanceConfig struct {
	ReportIntervalMs   int     `yaml:"report_interval_ms" toml:"report_interval_ms"`
	AutoRemediation    bool    `yaml:"auto_remediation" toml:"auto_remediation"`
	LowHitRatio        float64 `yaml:"low_hit_ratio" toml:"low_hit_ratio"`
	LowHitRatioReports int     `yaml:"low_hit_ratio_reports" toml:"low_hit_ratio_reports"`
	MinCacheSizeMB     float64 `yaml:"min_cache_size_mb" toml:"min_cache_size_mb"`
	SlowQueryThreshold int     `yaml:"slow_query_threshold" toml:"slow_query_threshold"`
	SlowQueryMs        float64 `yaml:"slow_query_ms" toml:"slow_query_ms"`
	ActionCooldownMs   int     `yaml:"action_cooldown_ms" toml:"action_cooldown_ms"`
	QueryMonitor       bool    `yaml:"query_monitor" toml:"query_monitor"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled   bool              `yaml:"enabled" toml:"enabled"`
	Namespace string            `yaml:"namespace" toml:"namespace"`
	Labels    map[string]string `yaml:"labels" toml:"labels"`
}

// APIConfig represents the HTTP surface
type APIConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Address string `yaml:"address" toml:"address"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Cache: CacheConfig{
			Enabled:           true,
			Strategy:          string(types.StrategyLocal),
			MaxSizeMB:         100,
			DefaultTTLSeconds: 300,
			KeyPrefix:         "auditperf:",
			MaxEntries:        10000,
			CleanupIntervalMs: 60000,
			Remote: RemoteCacheConfig{
				Codec:       "json",
				Compression: "none",
				OpTimeoutMs: 250,
				LocalTTLSec: 60,
				CircuitBreaker: CircuitBreakerConfig{
					Enabled:          true,
					FailureThreshold: 5,
					TimeoutMs:        30000,
					MaxRequests:      1,
				},
			},
		},
		Pool: PoolConfig{
			Driver:               "postgres",
			URL:                  "postgres://localhost:5432/audit?sslmode=disable",
			MinConnections:       2,
			MaxConnections:       20,
			IdleTimeoutMs:        30000,
			AcquireTimeoutMs:     5000,
			RetryAttempts:        3,
			RetryDelayMs:         1000,
			HealthCheckTimeoutMs: 5000,
		},
		Partitioning: PartitioningConfig{
			Strategy:              "range",
			IntervalUnit:          string(types.IntervalMonthly),
			RetentionDays:         2555,
			AutoMaintenance:       true,
			MaintenanceIntervalMs: 24 * 60 * 60 * 1000,
			Lookahead:             6,
			Tables: []TableConfig{
				{Name: "audit_logs", RetentionPolicy: "default"},
			},
		},
		RetentionPolicies: []types.RetentionPolicy{
			{Name: "default", RetentionDays: 2555, DataClassification: "internal"},
		},
		Archive: ArchiveConfig{
			Prefix:    "audit-archive",
			Region:       "us-east-1",
			StorageClass: "STANDARD_IA",
			BatchSize:    5000,
		},
		Performance: PerformanceConfig{
			ReportIntervalMs:   5 * 60 * 1000,
			AutoRemediation:    true,
			LowHitRatio:        0.1,
			LowHitRatioReports: 3,
			MinCacheSizeMB:     10,
			SlowQueryThreshold: 10,
			SlowQueryMs:        1000,
			ActionCooldownMs:   15 * 60 * 1000,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "auditperf",
		},
		API: APIConfig{
			Enabled: true,
			Address: ":8080",
		},
	}
}

// Load returns the defaults overlaid with the given file.
func Load(filename string) (*Configuration, error) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filename); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or TOML file, chosen by extension
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		return errors.NewConfigError("config", "unsupported config file extension %q", filepath.Ext(filename))
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	setString("AUDITPERF_LOG_LEVEL", &c.Global.LogLevel)
	setString("AUDITPERF_LOG_FILE", &c.Global.LogFile)
	setString("AUDITPERF_LOG_FORMAT", &c.Global.LogFormat)

	// Cache settings
	setBool("AUDITPERF_CACHE_ENABLED", &c.Cache.Enabled)
	setString("AUDITPERF_CACHE_STRATEGY", &c.Cache.Strategy)
	setString("AUDITPERF_CACHE_KEY_PREFIX", &c.Cache.KeyPrefix)
	setString("AUDITPERF_REDIS_ADDR", &c.Cache.Remote.Addr)
	setString("AUDITPERF_REDIS_PASSWORD", &c.Cache.Remote.Password)
	if err := setInt("AUDITPERF_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries); err != nil {
		return err
	}
	if err := setInt("AUDITPERF_CACHE_DEFAULT_TTL_SECONDS", &c.Cache.DefaultTTLSeconds); err != nil {
		return err
	}
	if val := os.Getenv("AUDITPERF_CACHE_MAX_SIZE_MB"); val != "" {
		size, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.NewConfigError("config", "AUDITPERF_CACHE_MAX_SIZE_MB: %v", err)
		}
		c.Cache.MaxSizeMB = size
	}

	// Pool settings
	setString("AUDITPERF_DB_DRIVER", &c.Pool.Driver)
	setString("AUDITPERF_DB_URL", &c.Pool.URL)
	if err := setInt("AUDITPERF_DB_MAX_CONNECTIONS", &c.Pool.MaxConnections); err != nil {
		return err
	}
	if err := setInt("AUDITPERF_DB_MIN_CONNECTIONS", &c.Pool.MinConnections); err != nil {
		return err
	}

	// Partitioning
	setString("AUDITPERF_PARTITION_INTERVAL", &c.Partitioning.IntervalUnit)
	setBool("AUDITPERF_AUTO_MAINTENANCE", &c.Partitioning.AutoMaintenance)
	if err := setInt("AUDITPERF_RETENTION_DAYS", &c.Partitioning.RetentionDays); err != nil {
		return err
	}

	// Archive
	setBool("AUDITPERF_ARCHIVE_ENABLED", &c.Archive.Enabled)
	setString("AUDITPERF_ARCHIVE_BUCKET", &c.Archive.Bucket)

	setString("AUDITPERF_API_ADDRESS", &c.API.Address)
	setBool("AUDITPERF_METRICS_ENABLED", &c.Metrics.Enabled)

	return nil
}

func setString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		*dst = strings.EqualFold(val, "true") || val == "1"
	}
}

func setInt(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return errors.NewConfigError("config", "%s: %v", key, err)
	}
	*dst = n
	return nil
}

// SaveToFile saves the configuration as YAML, or TOML for a .toml filename
func (c *Configuration) SaveToFile(filename string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(filename), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.Global.LogLevel, level) {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return errors.NewConfigError("global", "invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Partitioning.Validate(); err != nil {
		return err
	}

	policies := make(map[string]bool, len(c.RetentionPolicies))
	for _, p := range c.RetentionPolicies {
		if p.Name == "" {
			return errors.NewConfigError("retention", "retention policy name is required")
		}
		if p.RetentionDays <= 0 {
			return errors.NewConfigError("retention", "policy %s: retention_days must be greater than 0", p.Name)
		}
		policies[p.Name] = true
	}
	for _, t := range c.Partitioning.Tables {
		if t.RetentionPolicy != "" && !policies[t.RetentionPolicy] {
			return errors.NewConfigError("partitioning", "table %s references unknown retention policy %s",
				t.Name, t.RetentionPolicy)
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.NewError(errors.ErrCodeMissingConfig, "archive.bucket is required when archiving is enabled").
			WithComponent("archive")
	}

	if c.Performance.LowHitRatio < 0 || c.Performance.LowHitRatio > 1 {
		return errors.NewConfigError("performance", "low_hit_ratio must be between 0 and 1")
	}
	if c.API.Enabled && c.API.Address == "" {
		return errors.NewConfigError("api", "address is required when the API is enabled")
	}

	return nil
}

// Validate checks the cache section. Missing remote settings for the remote
// and hybrid strategies are reported by the cache factory.
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch types.CacheStrategy(c.Strategy) {
	case types.StrategyLocal, types.StrategyRemote, types.StrategyHybrid:
	default:
		return errors.NewError(errors.ErrCodeUnsupportedStrategy,
			fmt.Sprintf("unsupported cache strategy %q", c.Strategy)).WithComponent("cache")
	}
	if c.MaxSizeMB <= 0 {
		return errors.NewConfigError("cache", "max_size_mb must be greater than 0")
	}
	if c.MaxEntries <= 0 {
		return errors.NewConfigError("cache", "max_entries must be greater than 0")
	}
	if c.DefaultTTLSeconds <= 0 {
		return errors.NewConfigError("cache", "default_ttl_seconds must be greater than 0")
	}
	switch c.Remote.Codec {
	case "", "json", "gob":
	default:
		return errors.NewConfigError("cache", "unsupported remote codec %q", c.Remote.Codec)
	}
	switch c.Remote.Compression {
	case "", "none", "zstd", "s2":
	default:
		return errors.NewConfigError("cache", "unsupported remote compression %q", c.Remote.Compression)
	}
	return nil
}

// Validate checks the pool section.
func (p *PoolConfig) Validate() error {
	switch p.Driver {
	case "postgres", "sqlite":
	default:
		return errors.NewConfigError("pool", "unsupported driver %q (must be postgres or sqlite)", p.Driver)
	}
	if p.URL == "" {
		return errors.NewError(errors.ErrCodeMissingConfig, "pool.url is required").WithComponent("pool")
	}
	if p.MaxConnections <= 0 {
		return errors.NewConfigError("pool", "max_connections must be greater than 0")
	}
	if p.MinConnections < 0 || p.MinConnections > p.MaxConnections {
		return errors.NewConfigError("pool", "min_connections must be between 0 and max_connections")
	}
	if p.AcquireTimeoutMs <= 0 {
		return errors.NewConfigError("pool", "acquire_timeout_ms must be greater than 0")
	}
	if p.RetryAttempts < 0 {
		return errors.NewConfigError("pool", "retry_attempts must not be negative")
	}
	return nil
}

// Validate checks the partitioning section.
func (p *PartitioningConfig) Validate() error {
	if p.Strategy != "range" {
		return errors.NewError(errors.ErrCodeUnsupportedStrategy,
			fmt.Sprintf("unsupported partitioning strategy %q", p.Strategy)).WithComponent("partitioning")
	}
	if err := validateInterval(p.IntervalUnit); err != nil {
		return err
	}
	if p.RetentionDays <= 0 {
		return errors.NewConfigError("partitioning", "retention_days must be greater than 0")
	}
	if p.Lookahead < 0 {
		return errors.NewConfigError("partitioning", "lookahead must not be negative")
	}
	if p.AutoMaintenance && p.MaintenanceIntervalMs <= 0 {
		return errors.NewConfigError("partitioning", "maintenance_interval_ms must be greater than 0")
	}
	seen := make(map[string]bool, len(p.Tables))
	for _, t := range p.Tables {
		if t.Name == "" {
			return errors.NewConfigError("partitioning", "table name is required")
		}
		if seen[t.Name] {
			return errors.NewConfigError("partitioning", "duplicate table %s", t.Name)
		}
		seen[t.Name] = true
		if t.IntervalUnit != "" {
			if err := validateInterval(t.IntervalUnit); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateInterval(unit string) error {
	switch types.IntervalUnit(unit) {
	case types.IntervalMonthly, types.IntervalQuarterly, types.IntervalYearly:
		return nil
	}
	return errors.NewError(errors.ErrCodeUnsupportedInterval,
		fmt.Sprintf("unsupported interval unit %q", unit)).WithComponent("partitioning")
}

// DefaultTTL returns the default entry lifetime.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// CleanupInterval returns the expiry sweep period.
func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMs) * time.Millisecond
}

// MaxSizeBytes returns the memory ceiling in bytes.
func (c CacheConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB * 1024 * 1024)
}

// OpTimeout returns the per-call remote timeout.
func (r RemoteCacheConfig) OpTimeout() time.Duration {
	return time.Duration(r.OpTimeoutMs) * time.Millisecond
}

// LocalTTL returns the L1 lifetime used by the hybrid strategy.
func (r RemoteCacheConfig) LocalTTL() time.Duration {
	return time.Duration(r.LocalTTLSec) * time.Second
}

// Timeout returns how long the breaker stays open.
func (b CircuitBreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// IdleTimeout returns the idle connection lifetime.
func (p PoolConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutMs) * time.Millisecond
}

// AcquireTimeout returns the connection checkout deadline.
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutMs) * time.Millisecond
}

// RetryDelay returns the startup retry delay.
func (p PoolConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

// HealthCheckTimeout returns the health probe deadline.
func (p PoolConfig) HealthCheckTimeout() time.Duration {
	if p.HealthCheckTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.HealthCheckTimeoutMs) * time.Millisecond
}

// MaintenanceInterval returns the lifecycle tick period.
func (p PartitioningConfig) MaintenanceInterval() time.Duration {
	return time.Duration(p.MaintenanceIntervalMs) * time.Millisecond
}

// ReportInterval returns the performance report period.
func (p PerformanceConfig) ReportInterval() time.Duration {
	return time.Duration(p.ReportIntervalMs) * time.Millisecond
}

// ActionCooldown returns the minimum gap between repeats of one remediation action.
func (p PerformanceConfig) ActionCooldown() time.Duration {
	return time.Duration(p.ActionCooldownMs) * time.Millisecond
}
