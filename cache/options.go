package cache

import (
	"context"
	"time"

	"github.com/go-kit/log"

	"github.com/alexanderwhatley/guava/policy"
)

// RemovalCause explains why an entry left the cache.
type RemovalCause int

const (
	// RemovalExplicit — the caller invalidated the key.
	RemovalExplicit RemovalCause = iota
	// RemovalReplaced — a Put overwrote an existing value.
	RemovalReplaced
	// RemovalEvicted — removed to satisfy capacity/weight limits.
	RemovalEvicted
	// RemovalExpired — write- or access-expiry elapsed (lazy eviction).
	RemovalExpired
)

// String returns a stable lower-case name, suitable as a metric label.
func (c RemovalCause) String() string {
	switch c {
	case RemovalExplicit:
		return "explicit"
	case RemovalReplaced:
		return "replaced"
	case RemovalEvicted:
		return "evicted"
	case RemovalExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// WasEvicted reports whether the removal was automatic rather than
// caller-initiated. Only automatic removals count toward the eviction
// statistic.
func (c RemovalCause) WasEvicted() bool {
	return c == RemovalEvicted || c == RemovalExpired
}

// LoaderFunc computes the value for a missing key. It runs outside any
// shard lock and must not call back into the same cache for the same
// key on the same goroutine (reentrant loads deadlock on the
// singleflight registration; this is a documented hazard, not handled).
// A panic in the loader propagates to the caller that ran it; callers
// coalesced onto that load receive a load error instead, and the key
// stays loadable.
type LoaderFunc[K comparable, V any] func(ctx context.Context, k K) (V, error)

// RemovalListener observes entries leaving the cache. Delivery is
// asynchronous and best-effort: listeners run on a dedicated goroutine,
// never under a shard lock, and notifications may be dropped under
// extreme pressure.
type RemovalListener[K comparable, V any] func(k K, v V, cause RemovalCause)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(cause RemovalCause)
	ObserveLoad(d time.Duration, err error)
	Size(entries int, weight int64)
}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Options configures the cache behavior. All fields are immutable for
// the cache's lifetime. Zero values are safe; sane defaults are applied
// in New():
//   - nil Policy   => LRU
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
//   - nil Logger   => nop logger
type Options[K comparable, V any] struct {
	// Capacity is the entry count limit (used together with MaxWeight
	// if set). Must be > 0.
	Capacity int

	// Shards defines the number of shards. If 0, an automatic value is
	// chosen (~ 2*GOMAXPROCS) and rounded to the next power of two.
	Shards int

	// Policy is a pluggable eviction policy (LRU/2Q/...); nil => LRU.
	Policy policy.Policy[K, V]

	// ExpireAfterWrite expires entries a fixed duration after they were
	// written (0 = no write expiry). PutWithTTL overrides it per entry.
	ExpireAfterWrite time.Duration

	// ExpireAfterAccess expires entries a fixed duration after their
	// last read or write (0 = no access expiry).
	ExpireAfterAccess time.Duration

	// Weight-based limiting (e.g., bytes). If Weigher is non-nil and
	// MaxWeight > 0, the cache evicts until both the entry count and
	// total weight limits are satisfied. Shards split the MaxWeight
	// budget evenly.
	Weigher   func(k K, v V) int // nil = all entries weigh 0 (equal)
	MaxWeight int64              // total weight limit; 0 disables it

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader LoaderFunc[K, V]

	// OnRemoval is notified of every removal with its cause. See
	// RemovalListener for the delivery contract.
	OnRemoval RemovalListener[K, V]

	// Metrics receives hit/miss/eviction/load/size signals.
	Metrics Metrics

	// Clock allows overriding the time source (tests). Nil => time.Now().
	Clock Clock

	// Logger receives load failures and dispatcher overflow events.
	Logger log.Logger
}
