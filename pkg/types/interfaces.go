package types

import (
	"context"
	"time"
)

// QueryCache defines the caching interface shared by the local, remote and
// hybrid strategies.
type QueryCache[T any] interface {
	// Get returns the cached value and true, or the zero value and false on a
	// miss. Expired entries are misses.
	Get(ctx context.Context, key string) (T, bool)

	// Set stores value under key. A ttl <= 0 uses the configured default.
	Set(ctx context.Context, key string, value T, ttl time.Duration)

	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) bool

	Clear(ctx context.Context)
	Stats() QueryCacheStats

	// Cleanup removes expired entries and returns how many were removed.
	Cleanup(ctx context.Context) int

	// Invalidate removes every entry whose key matches the glob pattern.
	Invalidate(ctx context.Context, pattern string) (int, error)
}

// QueryExecutor runs SQL against the audit store.
type QueryExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
}

// RetentionPolicySource supplies the read-only list of retention policies.
type RetentionPolicySource interface {
	Policies(ctx context.Context) ([]RetentionPolicy, error)
}
