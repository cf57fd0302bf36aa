// Package cache provides a fast, generic, sharded in-memory cache with
// compute-if-absent loading, pluggable eviction policies (LRU by
// default), write- and access-expiry, single-flight load coalescing,
// removal notifications, lightweight metrics hooks, and weight-based
// capacity.
//
// # Design
//
//   - Concurrency: the cache is split into shards, each protected by an
//     RWMutex. The default shard count is chosen by a heuristic
//     (ReasonableShardCount) and is a power of two. Sharding bounds
//     lock contention while keeping memory overhead small. The shard
//     lock protects the entry table, the recency list, and the
//     in-flight load registry for that shard — and is never held while
//     user-supplied code (loaders, removal listeners) runs.
//
//   - Storage: each shard keeps a map[K]*entry for lookups and an
//     intrusive MRU<->LRU doubly linked list for ordering. All
//     operations are O(1) expected. Only loaded entries exist in the
//     table; an in-flight load is tracked by a token, so no placeholder
//     value can ever be observed.
//
//   - Loading: Get/GetOrLoad coalesce concurrent loads for the same key
//     through singleflight — the loader runs at most once and every
//     caller receives the same value or the same failure. The loader
//     runs outside every shard lock, so slow loads never block other
//     keys. A Put or Invalidate racing a load wins: the load's result
//     is discarded at publish time via a per-key token, and the waiters
//     still receive the loaded value. Failures are never cached; the
//     next request starts a fresh load.
//
//   - Policies: eviction policy is pluggable via the policy package.
//     LRU is the default. A 2Q policy is provided (resists scan
//     pollution). More policies can be added without changing the shard.
//
//   - Expiry: entries can carry per-item write deadlines (PutWithTTL or
//     ExpireAfterWrite) and the cache can expire by idle time
//     (ExpireAfterAccess). Expiration is lazy on read, amortized on the
//     request path (a short LRU-tail sweep every Nth operation), and
//     exhaustive in CleanUp. No background goroutine is required for
//     correctness.
//
//   - Weigher/MaxWeight: besides the entry count (Capacity), a
//     user-defined weight per entry can be enforced globally; shards
//     split the MaxWeight budget evenly.
//
//   - Statistics: Stats() snapshots six monotonic counters (hits,
//     misses, load successes, load exceptions, total load time,
//     evictions) accumulated on padded atomics off the lock hot path.
//
//   - Callbacks: Options.OnRemoval(k, v, cause) observes every removal
//     (Explicit, Replaced, Evicted, Expired) on a dedicated dispatcher
//     goroutine, best-effort and never under a shard lock.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/ObserveLoad/Size
//     signals. NoopMetrics is the default; plug the Prometheus adapter
//     (metrics/prom) to export them.
//
// # Basic usage
//
//	// Create an LRU cache with capacity for 10k entries.
//	c := cache.New[string, []byte](cache.Options[string, []byte]{Capacity: 10_000})
//	c.Put("a", []byte("1"))
//	if v, ok := c.GetIfPresent("a"); ok {
//	    _ = v // use value
//	}
//	c.Invalidate("a")
//
// # With expiry
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    Capacity:          1024,
//	    ExpireAfterAccess: time.Minute,
//	})
//	c.PutWithTTL("tmp", "v", 200*time.Millisecond) // write-expiry override
//
// # With loading (singleflight)
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    Capacity: 1024,
//	    Loader: func(ctx context.Context, k string) (string, error) {
//	        // e.g. fetch from DB
//	        return "v:" + k, nil
//	    },
//	})
//	v, err := c.GetOrLoad(context.Background(), "key")
//
// # Using an alternative policy (2Q)
//
//	c := cache.New[string, string](cache.Options[string, string]{
//	    Capacity: 50_000,
//	    Policy:   twoq.New[string, string](12_500 /* A1in ~ 25% */, 25_000 /* ghosts */),
//	})
//
// # Exporting metrics
//
//	m := prom.New(nil, "guava", "demo", nil) // implements cache.Metrics
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    Capacity: 10_000,
//	    Metrics:  m,
//	})
//
// # Thread-safety & complexity
//
// All methods on Cache are safe for concurrent use. Typical operation
// cost is O(1) expected time: one map access and a constant amount of
// pointer fixes. Eviction work is O(1) amortized per removed item.
// Len() and Stats() aggregate per-shard state under momentary per-shard
// locks and are therefore approximate under concurrent writes.
//
// Reentrancy hazard: a loader must not call back into the same cache
// for the same key on the same goroutine — it would join its own flight
// and deadlock.
package cache
