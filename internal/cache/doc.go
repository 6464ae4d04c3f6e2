/*
Package cache provides the query result cache for auditperf.

Three strategies implement the same Cache contract, so callers never branch on
which one is configured:

	┌─────────────────────────────────────────────┐
	│          Performance Coordinator            │
	│        (cached read path, Query)            │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Cache[T] interface             │  ← This Package
	└─────────────────────────────────────────────┘
	        │                 │                 │
	┌───────────────┐ ┌───────────────┐ ┌───────────────────────┐
	│    local      │ │    remote     │ │        hybrid         │
	│  LRUCache[T]  │ │ RemoteCache[T]│ │ L1 LRU + L2 remote    │
	└───────────────┘ └───────────────┘ └───────────────────────┘
	                          │
	                  ┌───────────────┐
	                  │  RemoteStore  │
	                  │ (RedisStore)  │
	                  └───────────────┘

# LRU Engine

LRUCache pairs a map with a container/list. Get, Set and Delete are O(1); every
public method runs under one mutex because Get reorders the list. After each
Set the tail is evicted until both MaxSizeBytes and MaxEntries hold, which can
evict the entry just written if it alone exceeds the size limit.

Expiry is lazy on Get and periodic through Cleanup. Start launches the sweep
ticker and Stop halts it; construction never starts goroutines.

Invalidate accepts glob patterns where '*' is the only wildcard. It is the one
O(N) operation on the request path.

# Remote and Hybrid

RemoteCache encodes values as JSON or gob, optionally compresses them with zstd
or S2, and prefixes keys. Every store call carries a timeout and passes through
an optional circuit breaker. Failures are never returned from Get, Set or
Delete: a failed read is a miss and a failed write is logged.

JSON decodes numbers held in interfaces as json.Number. Rows stored in the
form types.NormalizeRows produces, and normalized again after Get, read back
identically from every strategy and codec.

The LRU engine stores and returns values as given. Callers that mutate
cached maps or slices copy them first.

HybridCache reads L1 then L2 and copies L2 hits into L1 for a short local TTL.
Writes, deletes and invalidations go to both layers.

# Usage

	c, err := cache.New[[]types.Row](cfg.Cache, cache.WithFactoryLogger(logger))
	if err != nil {
		return err // MISSING_CONFIG or UNSUPPORTED_STRATEGY
	}
	c.Start(ctx)
	defer c.Close()
*/
package cache
