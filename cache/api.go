package cache

import (
	"context"
	"time"
)

// Cache is a sharded, in-memory key/value cache with optional
// compute-if-absent loading. All methods are safe for concurrent use by
// multiple goroutines.
//
// Typical complexity for operations is amortized O(1): a map lookup
// plus constant-time list adjustments under a shard lock. Only
// Get/GetOrLoad ever block, and only while a load for that same key is
// in flight.
type Cache[K comparable, V any] interface {
	// GetIfPresent returns the value for k and a presence flag. It
	// never triggers a load. On hit the entry is promoted according to
	// the active eviction policy; expired entries read as absent.
	GetIfPresent(k K) (V, bool)

	// Get returns the value for k, computing it via loader on miss.
	// Concurrent loads for the same key are coalesced (singleflight):
	// the loader runs at most once, and every caller receives the same
	// value or the same failure. Loader failures are returned wrapped
	// in *LoadError and are never cached.
	Get(ctx context.Context, k K, loader LoaderFunc[K, V]) (V, error)

	// GetOrLoad is Get bound to Options.Loader.
	// If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)

	// GetAllPresent returns the present values for keys, applying
	// GetIfPresent per key. No atomicity across the batch.
	GetAllPresent(keys []K) map[K]V

	// Put inserts or updates k→v, using ExpireAfterWrite (if any), and
	// promotes the entry according to the active eviction policy.
	Put(k K, v V)

	// PutWithTTL inserts or updates k→v with a per-key TTL (relative
	// duration). A non-positive ttl disables write expiry for this entry.
	PutWithTTL(k K, v V, ttl time.Duration)

	// Invalidate discards the value for k if present and reports
	// whether an entry existed. An in-flight load for k runs to
	// completion but its result is discarded.
	Invalidate(k K) bool

	// InvalidateKeys discards the values for keys.
	InvalidateKeys(keys []K)

	// InvalidateAll discards all entries.
	InvalidateAll()

	// Len returns the approximate number of resident entries across all
	// shards (per-shard sums; no global lock).
	Len() int

	// Stats returns a snapshot of cumulative statistics. All counters
	// are monotonically non-decreasing over the cache's lifetime.
	Stats() Stats

	// AsMap returns a live map-style view over the loaded entries.
	AsMap() *MapView[K, V]

	// CleanUp synchronously runs any due expiry/capacity eviction.
	CleanUp()

	// Close stops the removal-notification dispatcher and marks the
	// cache closed. Subsequent loading calls fail with ErrClosed.
	Close() error
}
