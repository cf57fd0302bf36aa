package cache

import (
	"sync"
	"time"

	"github.com/alexanderwhatley/guava/internal/util"
	"github.com/alexanderwhatley/guava/policy"
)

const (
	// opsPerSweep sets the amortized expiry sweep cadence: every Nth
	// locked operation walks a bounded stretch of the LRU tail. Must be
	// a power of two (checked at compile time below).
	opsPerSweep = 64
	// sweepLimit caps how many tail entries one amortized sweep examines.
	sweepLimit = 16
)

var _ [0]struct{} = [opsPerSweep & (opsPerSweep - 1)]struct{}{}

// loadToken marks one in-flight load for a key. A Put or Invalidate for
// the key while the load runs flips stale; a stale load result is
// discarded at publish time instead of clobbering the newer write.
// All fields are guarded by the owning shard's mu.
type loadToken struct {
	stale bool
}

// shard is an independent partition of the cache with its own lock, map,
// in-flight load registry, and an intrusive doubly linked list
// (head=MRU, tail=LRU).
type shard[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu        sync.RWMutex
	m         map[K]*entry[K, V]
	head      *entry[K, V] // MRU
	tail      *entry[K, V] // LRU
	len       int          // number of resident entries
	weight    int64        // total weight (if MaxWeight is enabled)
	cap       int          // per-shard entry capacity
	maxWeight int64        // per-shard weight limit (0 = disabled)
	loads     map[K]*loadToken
	ops       uint64 // operation counter driving the amortized sweep

	// Policy and options (policy uses hooks to manipulate the list).
	pol policy.ShardPolicy[K, V]
	opt Options[K, V]

	// notify hands removals to the async dispatcher. Nil when no
	// listener is configured. Never blocks, so calling it under mu is
	// safe.
	notify func(K, V, RemovalCause)

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64
	evicts util.PaddedAtomicUint64
}

// newShard initializes a shard with per-shard capacity, policy factory,
// and options. maxWeight is derived by splitting opt.MaxWeight evenly
// across shards (opt.Shards is normalized by New before this runs).
func newShard[K comparable, V any](capacity int, pol policy.Policy[K, V], opt Options[K, V], notify func(K, V, RemovalCause)) *shard[K, V] {
	s := &shard[K, V]{
		m:      make(map[K]*entry[K, V], capacity),
		loads:  make(map[K]*loadToken),
		cap:    capacity,
		opt:    opt,
		notify: notify,
	}
	if opt.MaxWeight > 0 {
		s.maxWeight = (opt.MaxWeight + int64(opt.Shards) - 1) / int64(opt.Shards)
	}

	// Wrap this shard with policy hooks.
	h := shardHooks[K, V]{s: s}
	s.pol = pol.New(h)
	return s
}

// Get returns the value for k, promoting the entry according to the
// policy and recording a hit or miss. Expired entries are evicted on
// the spot and reported as misses.
func (s *shard[K, V]) Get(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweepLocked()

	e, ok := s.m[k]
	if !ok {
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		var zero V
		return zero, false
	}
	now := s.now()
	if s.expiredLocked(e, now) {
		s.evictEntry(e, RemovalExpired)
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		var zero V
		return zero, false
	}

	e.acc = now
	s.pol.OnGet(e)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return e.val, true
}

// Peek is Get without statistics, used for the double-check after
// winning a singleflight slot: the caller already recorded its miss.
func (s *shard[K, V]) Peek(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[k]
	if !ok {
		var zero V
		return zero, false
	}
	now := s.now()
	if s.expiredLocked(e, now) {
		s.evictEntry(e, RemovalExpired)
		var zero V
		return zero, false
	}
	e.acc = now
	s.pol.OnGet(e)
	return e.val, true
}

// Put installs k→v unconditionally. exp is an absolute write-expiry
// deadline in UnixNano (0 = none). A racing in-flight load for k is
// marked stale so its eventual result is discarded.
func (s *shard[K, V]) Put(k K, v V, exp int64, weight int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweepLocked()
	s.staleLoadLocked(k)
	now := s.now()

	if e, ok := s.m[k]; ok {
		// In-place update: adjust weight delta, promote, report the
		// displaced value.
		old := e.val
		oldWeight := int64(e.weight)
		e.val = v
		e.exp = exp
		e.acc = now
		e.weight = weight
		s.weight += int64(weight) - oldWeight

		s.pol.OnUpdate(e)
		s.notifyRemoval(k, old, RemovalReplaced)
		s.enforceLimitsLocked()
		return
	}

	// New entry path.
	e := &entry[K, V]{key: k, val: v, exp: exp, acc: now, weight: weight}
	s.m[k] = e

	if ev := s.pol.OnAdd(e); ev != nil {
		s.evictEntry(ev.(*entry[K, V]), RemovalEvicted)
	}
	s.enforceLimitsLocked()
}

// PutIfAbsent installs k→v only if no live entry exists. Returns the
// resident value and whether it was already present (sync.Map
// LoadOrStore semantics).
func (s *shard[K, V]) PutIfAbsent(k K, v V, exp int64, weight int32) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweepLocked()
	now := s.now()

	if e, ok := s.m[k]; ok {
		if !s.expiredLocked(e, now) {
			e.acc = now
			s.pol.OnGet(e)
			return e.val, true
		}
		// A dead entry does not block insertion.
		s.evictEntry(e, RemovalExpired)
	}

	s.staleLoadLocked(k)
	e := &entry[K, V]{key: k, val: v, exp: exp, acc: now, weight: weight}
	s.m[k] = e

	if ev := s.pol.OnAdd(e); ev != nil {
		s.evictEntry(ev.(*entry[K, V]), RemovalEvicted)
	}
	s.enforceLimitsLocked()
	return v, false
}

// Remove deletes k if present, reporting an explicit removal. Returns
// the removed value and whether it existed. A racing in-flight load for
// k is marked stale.
func (s *shard[K, V]) Remove(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staleLoadLocked(k)

	e, ok := s.m[k]
	if !ok {
		var zero V
		return zero, false
	}
	s.pol.OnRemove(e)
	s.unlinkLocked(e)
	delete(s.m, k)
	s.notifyRemoval(e.key, e.val, RemovalExplicit)
	// Explicit removal is not an eviction: the evicts counter stays put.
	return e.val, true
}

// Clear drops every resident entry, reporting each as an explicit
// removal, and marks every in-flight load stale.
func (s *shard[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.loads {
		t.stale = true
	}
	for k, e := range s.m {
		s.pol.OnRemove(e)
		s.unlinkLocked(e)
		delete(s.m, k)
		s.notifyRemoval(e.key, e.val, RemovalExplicit)
	}
	s.opt.Metrics.Size(s.len, s.weight)
}

// Len returns the number of resident entries after a bounded expiry
// sweep, so recently dead entries don't linger in the count.
func (s *shard[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepTailLocked(sweepLimit)
	return s.len
}

// Range snapshots the live entries under the lock, then streams them to
// f outside it so a slow consumer cannot stall the shard. Returns false
// if f stopped the iteration.
func (s *shard[K, V]) Range(f func(K, V) bool) bool {
	type kv struct {
		k K
		v V
	}

	s.mu.Lock()
	now := s.now()
	snap := make([]kv, 0, s.len)
	for _, e := range s.m {
		if !s.expiredLocked(e, now) {
			snap = append(snap, kv{e.key, e.val})
		}
	}
	s.mu.Unlock()

	for _, p := range snap {
		if !f(p.k, p.v) {
			return false
		}
	}
	return true
}

// CleanUp synchronously evicts every expired entry and re-enforces the
// capacity/weight limits. Correctness never depends on CleanUp being
// called; it only tightens the resident set.
func (s *shard[K, V]) CleanUp() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, e := range s.m {
		if s.expiredLocked(e, now) {
			s.evictEntry(e, RemovalExpired)
		}
	}
	s.enforceLimitsLocked()
}

// -------------------- load coordination --------------------

// BeginLoad registers an in-flight load for k. The caller must publish
// the outcome with exactly one FinishLoad or AbortLoad call. Uniqueness
// per key is guaranteed upstream by the singleflight group.
func (s *shard[K, V]) BeginLoad(k K) *loadToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &loadToken{}
	s.loads[k] = t
	return t
}

// FinishLoad publishes a successful load. When the token went stale (a
// put or invalidate won the race) the result is discarded — the waiters
// still receive the loaded value, the table just keeps the newer write.
// Reports whether the value was installed.
func (s *shard[K, V]) FinishLoad(k K, t *loadToken, v V, exp int64, weight int32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loads[k] == t {
		delete(s.loads, k)
	}
	if t.stale {
		return false
	}
	if _, ok := s.m[k]; ok {
		// Every install path marks racing tokens stale, so a resident
		// entry here means a newer write already owns the slot.
		return false
	}

	e := &entry[K, V]{key: k, val: v, exp: exp, acc: s.now(), weight: weight}
	s.m[k] = e

	if ev := s.pol.OnAdd(e); ev != nil {
		s.evictEntry(ev.(*entry[K, V]), RemovalEvicted)
	}
	s.enforceLimitsLocked()
	return true
}

// AbortLoad drops the in-flight marker after a failed load. Failures
// are never cached.
func (s *shard[K, V]) AbortLoad(k K, t *loadToken) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loads[k] == t {
		delete(s.loads, k)
	}
}

// staleLoadLocked invalidates the pending load for k, if any.
func (s *shard[K, V]) staleLoadLocked(k K) {
	if t, ok := s.loads[k]; ok {
		t.stale = true
	}
}

// -------------------- internals (mu held) --------------------

func (s *shard[K, V]) now() int64 {
	if s.opt.Clock != nil {
		return s.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}

// expiredLocked applies both expiry modes: the entry's absolute write
// deadline and the cache-wide access-expiry window. Deadlines are
// inclusive: an entry written at T with TTL D is already dead at T+D.
func (s *shard[K, V]) expiredLocked(e *entry[K, V], now int64) bool {
	if e.exp != 0 && now >= e.exp {
		return true
	}
	if d := s.opt.ExpireAfterAccess; d > 0 && now-e.acc >= int64(d) {
		return true
	}
	return false
}

// maybeSweepLocked runs a bounded expiry sweep every opsPerSweep locked
// operations, amortizing cleanup across the request path so no
// background goroutine is needed.
func (s *shard[K, V]) maybeSweepLocked() {
	s.ops++
	if s.ops&(opsPerSweep-1) == 0 {
		s.sweepTailLocked(sweepLimit)
	}
}

// sweepTailLocked examines up to limit entries from the LRU tail and
// evicts the expired ones. With access-ordered lists the stalest
// entries cluster at the tail, so a short walk reclaims most of the
// dead weight; full reclamation is CleanUp's job.
func (s *shard[K, V]) sweepTailLocked(limit int) {
	now := s.now()
	e := s.tail
	for i := 0; e != nil && i < limit; i++ {
		prev := e.prev
		if s.expiredLocked(e, now) {
			s.evictEntry(e, RemovalExpired)
		}
		e = prev
	}
}

// pushFrontLocked inserts e at MRU in O(1).
func (s *shard[K, V]) pushFrontLocked(e *entry[K, V]) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
	s.len++
	s.weight += int64(e.weight)
}

// moveToFrontLocked promotes e to MRU in O(1).
func (s *shard[K, V]) moveToFrontLocked(e *entry[K, V]) {
	if e == s.head {
		return
	}
	// detach
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.tail == e {
		s.tail = e.prev
	}
	// insert at head
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

// unlinkLocked removes e from the list and updates counters in O(1).
func (s *shard[K, V]) unlinkLocked(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if s.head == e {
		s.head = e.next
	}
	if s.tail == e {
		s.tail = e.prev
	}
	e.prev, e.next = nil, nil
	s.len--
	s.weight -= int64(e.weight)
	if s.weight < 0 {
		s.weight = 0
	}
}

// back returns the current LRU entry in O(1).
func (s *shard[K, V]) back() *entry[K, V] { return s.tail }

// evictEntry removes the entry, bumps the eviction counter/metrics, and
// reports the removal.
func (s *shard[K, V]) evictEntry(e *entry[K, V], cause RemovalCause) {
	s.pol.OnRemove(e)
	s.unlinkLocked(e)
	delete(s.m, e.key)
	s.evicts.Add(1)
	s.opt.Metrics.Evict(cause)
	s.notifyRemoval(e.key, e.val, cause)
}

// notifyRemoval hands the removal to the async dispatcher; the enqueue
// never blocks, so invoking it with mu held is safe.
func (s *shard[K, V]) notifyRemoval(k K, v V, cause RemovalCause) {
	if s.notify != nil {
		s.notify(k, v, cause)
	}
}

// enforceLimitsLocked evicts LRU entries until both the count and
// weight limits are satisfied.
func (s *shard[K, V]) enforceLimitsLocked() {
	// Count limit
	for s.len > s.cap {
		if tail := s.back(); tail != nil {
			s.evictEntry(tail, RemovalEvicted)
		} else {
			break
		}
	}
	// Weight limit
	if s.maxWeight > 0 {
		for s.weight > s.maxWeight {
			if tail := s.back(); tail != nil {
				s.evictEntry(tail, RemovalEvicted)
			} else {
				break
			}
		}
	}
	s.opt.Metrics.Size(s.len, s.weight)
}

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks[K comparable, V any] struct{ s *shard[K, V] }

func (h shardHooks[K, V]) MoveToFront(x policy.Entry[K, V]) { h.s.moveToFrontLocked(x.(*entry[K, V])) }
func (h shardHooks[K, V]) PushFront(x policy.Entry[K, V])   { h.s.pushFrontLocked(x.(*entry[K, V])) }
func (h shardHooks[K, V]) Remove(x policy.Entry[K, V]) {
	// Policies call Remove while the shard lock is held.
	// Map bookkeeping is performed by the shard itself.
	h.s.unlinkLocked(x.(*entry[K, V]))
}
func (h shardHooks[K, V]) Back() policy.Entry[K, V] { return h.s.back() }
func (h shardHooks[K, V]) Len() int                 { return h.s.len }
