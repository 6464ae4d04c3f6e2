package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auditvault/auditperf/internal/circuit"
	"github.com/auditvault/auditperf/internal/config"
	"github.com/auditvault/auditperf/pkg/errors"
	"github.com/auditvault/auditperf/pkg/types"
	"github.com/auditvault/auditperf/pkg/utils"
)

// Cache is a query cache with an explicit background lifecycle.
type Cache[T any] interface {
	types.QueryCache[T]
	Start(ctx context.Context)
	Stop()
	Close() error
}

var (
	_ Cache[string] = (*LRUCache[string])(nil)
	_ Cache[string] = (*RemoteCache[string])(nil)
	_ Cache[string] = (*HybridCache[string])(nil)
	_ Cache[string] = (*NopCache[string])(nil)
)

// FactoryOption customizes New.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	store  RemoteStore
	logger *slog.Logger
	now    func() time.Time
}

// WithRemoteStore supplies the remote store instead of dialing Redis from config.
// The caller keeps ownership of the store.
func WithRemoteStore(store RemoteStore) FactoryOption {
	return func(o *factoryOptions) { o.store = store }
}

// WithFactoryLogger sets the logger for every layer.
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(o *factoryOptions) { o.logger = logger }
}

// WithFactoryClock sets the clock of the local layer.
func WithFactoryClock(now func() time.Time) FactoryOption {
	return func(o *factoryOptions) { o.now = now }
}

// New builds the cache selected by cfg.Strategy. A disabled cache yields a
// NopCache. The remote and hybrid strategies need either WithRemoteStore or
// cfg.Remote.Addr.
func New[T any](cfg config.CacheConfig, opts ...FactoryOption) (Cache[T], error) {
	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = utils.OrDiscard(o.logger)

	if !cfg.Enabled {
		return NewNopCache[T](), nil
	}

	strategy := types.CacheStrategy(cfg.Strategy)
	switch strategy {
	case types.StrategyLocal:
		return newLocal[T](cfg, o), nil
	case types.StrategyRemote:
		return newRemote[T](cfg, o)
	case types.StrategyHybrid:
		remote, err := newRemote[T](cfg, o)
		if err != nil {
			return nil, err
		}
		return NewHybridCache(newLocal[T](cfg, o), remote, cfg.Remote.LocalTTL()), nil
	default:
		return nil, errors.NewError(errors.ErrCodeUnsupportedStrategy,
			fmt.Sprintf("unsupported cache strategy %q", cfg.Strategy)).
			WithComponent("cache").
			WithDetail("supported", []string{"local", "remote", "hybrid"})
	}
}

func newLocal[T any](cfg config.CacheConfig, o factoryOptions) *LRUCache[T] {
	lruOpts := []LRUOption[T]{WithLogger[T](o.logger)}
	if o.now != nil {
		lruOpts = append(lruOpts, WithClock[T](o.now))
	}
	return NewLRUCache[T](LRUConfig{
		MaxSizeBytes:    cfg.MaxSizeBytes(),
		MaxEntries:      cfg.MaxEntries,
		DefaultTTL:      cfg.DefaultTTL(),
		KeyPrefix:       cfg.KeyPrefix,
		CleanupInterval: cfg.CleanupInterval(),
	}, lruOpts...)
}

func newRemote[T any](cfg config.CacheConfig, o factoryOptions) (*RemoteCache[T], error) {
	store, owned := o.store, false
	if store == nil {
		if cfg.Remote.Addr == "" {
			return nil, errors.NewError(errors.ErrCodeMissingConfig,
				fmt.Sprintf("cache strategy %q requires cache.remote.addr or a remote store", cfg.Strategy)).
				WithComponent("cache")
		}
		store, owned = NewRedisStoreFromConfig(cfg.Remote), true
	}

	var breaker *circuit.Breaker
	if cfg.Remote.CircuitBreaker.Enabled {
		breakerCfg := circuit.FromConfig(cfg.Remote.CircuitBreaker)
		logger := o.logger
		breakerCfg.OnStateChange = func(name string, from, to circuit.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
		breaker = circuit.New("remote-cache", breakerCfg)
	}

	remote, err := NewRemoteCache[T](store, RemoteConfig{
		KeyPrefix:   cfg.KeyPrefix,
		DefaultTTL:  cfg.DefaultTTL(),
		Codec:       Codec(cfg.Remote.Codec),
		Compression: Compression(cfg.Remote.Compression),
		OpTimeout:   cfg.Remote.OpTimeout(),
		Breaker:     breaker,
		Logger:      o.logger,
	})
	if err != nil {
		if owned {
			_ = store.Close()
		}
		return nil, err
	}
	remote.ownsStore = owned
	return remote, nil
}

// NopCache is the disabled cache: every read misses and writes are dropped.
type NopCache[T any] struct{}

// NewNopCache returns a disabled cache.
func NewNopCache[T any]() *NopCache[T] { return &NopCache[T]{} }

func (NopCache[T]) Get(context.Context, string) (T, bool) {
	var zero T
	return zero, false
}
func (NopCache[T]) Set(context.Context, string, T, time.Duration) {}
func (NopCache[T]) Delete(context.Context, string) bool           { return false }
func (NopCache[T]) Clear(context.Context)                         {}
func (NopCache[T]) Cleanup(context.Context) int                   { return 0 }
func (NopCache[T]) Invalidate(_ context.Context, pattern string) (int, error) {
	return 0, validatePattern(pattern)
}
func (NopCache[T]) Stats() types.QueryCacheStats {
	return types.QueryCacheStats{Strategy: "disabled"}
}
func (NopCache[T]) Start(context.Context) {}
func (NopCache[T]) Stop()                 {}
func (NopCache[T]) Close() error          { return nil }
