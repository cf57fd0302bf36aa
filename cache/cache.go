package cache

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/alexanderwhatley/guava/internal/singleflight"
	"github.com/alexanderwhatley/guava/internal/util"
	"github.com/alexanderwhatley/guava/policy/lru"
)

// cache is a sharded in-memory KV store with a pluggable eviction
// policy and single-flight loading. All methods are safe for concurrent
// use by multiple goroutines.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	closed atomic.Bool

	opt    Options[K, V]
	logger log.Logger

	// singleflight group coalescing concurrent loads per key.
	sf singleflight.Group[K, V]

	// loader outcome counters, cache-wide.
	loads loadCounters

	// async removal dispatcher; nil when no listener is configured.
	notifier *notifier[K, V]
}

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Policy   -> LRU
//   - nil Logger   -> nop logger
//   - Shards <= 0  -> auto, rounded up to the next power of two
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 {
		panic("cache: Capacity must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}
	if opt.Logger == nil {
		opt.Logger = log.NewNopLogger()
	}

	// Normalize the shard count to a power of two before the shards
	// capture Options.
	if opt.Shards <= 0 {
		opt.Shards = util.ReasonableShardCount()
	} else {
		opt.Shards = int(util.NextPow2(uint64(opt.Shards)))
	}

	c := &cache[K, V]{
		hash:   util.Hash64[K],
		opt:    opt,
		logger: opt.Logger,
	}

	var notify func(K, V, RemovalCause)
	if opt.OnRemoval != nil {
		c.notifier = newNotifier(opt.OnRemoval, opt.Logger)
		notify = c.notifier.enqueue
	}

	sh := opt.Shards
	perShardCap := (opt.Capacity + sh - 1) / sh // split capacity evenly (ceil)
	c.shards = make([]*shard[K, V], sh)
	for i := 0; i < sh; i++ {
		c.shards[i] = newShard[K, V](perShardCap, opt.Policy, opt, notify)
	}

	// return pointer-to-impl as the interface (avoids unexported-return lint)
	return c
}

// ---- Cache[K,V] implementation ----

// GetIfPresent returns the current value for k without ever triggering
// a load. Records a hit or miss and promotes the entry on hit.
func (c *cache[K, V]) GetIfPresent(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.getShard(k).Get(k)
}

// GetAllPresent applies GetIfPresent to each key independently. The
// result is a point-in-time snapshot with no atomicity across keys.
func (c *cache[K, V]) GetAllPresent(keys []K) map[K]V {
	out := make(map[K]V, len(keys))
	for _, k := range keys {
		if v, ok := c.GetIfPresent(k); ok {
			out[k] = v
		}
	}
	return out
}

// Get returns the value for k, computing it via loader on miss.
// Concurrent calls for the same key are coalesced: the loader runs at
// most once and every caller observes the same value or the same
// failure. The caller blocks only until this key's load resolves;
// other keys stay fully available.
func (c *cache[K, V]) Get(ctx context.Context, k K, loader LoaderFunc[K, V]) (V, error) {
	if c.closed.Load() {
		var zero V
		return zero, ErrClosed
	}
	s := c.getShard(k)
	if v, ok := s.Get(k); ok {
		return v, nil
	}
	if loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	return c.load(ctx, s, k, loader)
}

// GetOrLoad is Get bound to the Loader configured in Options.
// If no Loader was configured, returns ErrNoLoader.
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	return c.Get(ctx, k, c.opt.Loader)
}

// load coalesces the miss path through singleflight. The leader runs
// the loader outside every shard lock and publishes through the load
// token so a racing write wins over the load's result.
func (c *cache[K, V]) load(ctx context.Context, s *shard[K, V], k K, loader LoaderFunc[K, V]) (V, error) {
	v, err := c.sf.Do(ctx, k, func(ctx context.Context) (V, error) {
		// Another flight may have finished (or a Put landed) between
		// our miss and winning the slot.
		if v, ok := s.Peek(k); ok {
			return v, nil
		}

		tok := s.BeginLoad(k)
		completed := false
		defer func() {
			if !completed {
				// The loader panicked (or bailed via runtime.Goexit):
				// drop the in-flight marker so the key is not wedged
				// and count the failed attempt. The panic itself keeps
				// unwinding through the singleflight group.
				s.AbortLoad(k, tok)
				c.loads.exceptions.Add(1)
			}
		}()
		start := c.nowNano()
		v, err := loader(ctx, k)
		completed = true
		d := time.Duration(c.nowNano() - start)

		if err == nil && isNilValue(v) {
			err = ErrInvalidLoadResult
		}
		c.loads.totalNanos.Add(int64(d))
		c.opt.Metrics.ObserveLoad(d, err)

		if err != nil {
			s.AbortLoad(k, tok)
			c.loads.exceptions.Add(1)
			level.Warn(c.logger).Log("msg", "cache load failed", "err", err)
			var zero V
			return zero, &LoadError{Err: err}
		}

		c.loads.successes.Add(1)
		s.FinishLoad(k, tok, v, c.defaultDeadline(), c.weightOf(k, v))
		return v, nil
	})

	// A follower observing a panicking leader gets the recovered panic
	// as an error (the leader itself re-panics inside Do). Report it as
	// a load failure rather than leaking the singleflight wrapper.
	var pe *singleflight.PanicError
	if errors.As(err, &pe) {
		return v, &LoadError{Err: err}
	}
	return v, err
}

// Put unconditionally installs k→v, using ExpireAfterWrite if set.
// A replaced value is reported with cause RemovalReplaced; an in-flight
// load for k is invalidated so its result cannot clobber this write.
func (c *cache[K, V]) Put(k K, v V) {
	if c.closed.Load() {
		return
	}
	c.getShard(k).Put(k, v, c.defaultDeadline(), c.weightOf(k, v))
}

// PutWithTTL installs k→v with a per-key TTL (relative duration),
// overriding ExpireAfterWrite for this entry only. A non-positive ttl
// disables write expiry for this entry.
func (c *cache[K, V]) PutWithTTL(k K, v V, ttl time.Duration) {
	if c.closed.Load() {
		return
	}
	c.getShard(k).Put(k, v, c.deadline(ttl), c.weightOf(k, v))
}

// Invalidate discards any cached value for k and returns whether an
// entry existed. Invalidating an absent key is a no-op.
func (c *cache[K, V]) Invalidate(k K) bool {
	if c.closed.Load() {
		return false
	}
	_, ok := c.getShard(k).Remove(k)
	return ok
}

// InvalidateKeys discards any cached values for keys.
func (c *cache[K, V]) InvalidateKeys(keys []K) {
	for _, k := range keys {
		c.Invalidate(k)
	}
}

// InvalidateAll discards every entry. Shards are cleared one at a time
// under momentary per-shard locks; the operation is not atomic across
// shards.
func (c *cache[K, V]) InvalidateAll() {
	if c.closed.Load() {
		return
	}
	for _, s := range c.shards {
		s.Clear()
	}
}

// Len returns the approximate number of resident entries: per-shard
// counts summed without a global lock.
func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

// Stats returns a snapshot of the cache's cumulative statistics. The
// counters are read without a global lock, so the snapshot is
// eventually consistent across shards.
func (c *cache[K, V]) Stats() Stats {
	var st Stats
	for _, s := range c.shards {
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
	}
	st.LoadSuccesses = c.loads.successes.Load()
	st.LoadExceptions = c.loads.exceptions.Load()
	st.TotalLoadTime = time.Duration(c.loads.totalNanos.Load())
	return st
}

// AsMap returns a live, thread-safe view over the loaded entries.
// Writes through the view have identical semantics to Put/Invalidate.
func (c *cache[K, V]) AsMap() *MapView[K, V] {
	return &MapView[K, V]{c: c}
}

// CleanUp synchronously runs due expiry and capacity eviction on every
// shard. The same work also runs opportunistically on a fraction of
// normal operations, so calling CleanUp is never required for
// correctness — only for promptness.
func (c *cache[K, V]) CleanUp() {
	for _, s := range c.shards {
		s.CleanUp()
	}
}

// Close marks the cache closed and stops the removal dispatcher after
// draining its queue. Further loading calls fail with ErrClosed; reads
// miss and writes are ignored.
func (c *cache[K, V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.notifier != nil {
		c.notifier.close()
	}
	return nil
}

// ---- helpers ----

// getShard picks a shard by hashing the key and masking with len-1.
// len(c.shards) is guaranteed to be a power of two.
func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	h := c.hash(k)
	return c.shards[util.ShardIndex(h, len(c.shards))]
}

// defaultDeadline returns an absolute deadline from ExpireAfterWrite.
func (c *cache[K, V]) defaultDeadline() int64 {
	if c.opt.ExpireAfterWrite <= 0 {
		return 0
	}
	return c.deadline(c.opt.ExpireAfterWrite)
}

// deadline converts a relative TTL into an absolute UnixNano deadline.
// A non-positive ttl returns 0 (no write expiry).
func (c *cache[K, V]) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return c.nowNano() + int64(ttl)
}

func (c *cache[K, V]) nowNano() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// weightOf computes the per-entry weight (clamped to int32 range).
func (c *cache[K, V]) weightOf(k K, v V) int32 {
	if c.opt.Weigher == nil {
		return 0
	}
	w := c.opt.Weigher(k, v)
	if w < 0 {
		w = 0
	}
	// clamp to int32 to avoid overflow
	if w > math.MaxInt32 {
		w = math.MaxInt32
	}
	return int32(w)
}
