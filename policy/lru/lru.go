// Package lru implements the LRU eviction policy.
package lru

import "github.com/alexanderwhatley/guava/policy"

// lru is a classic "move-to-front" Least-Recently-Used policy.
// It delegates list manipulation to policy.Hooks provided by the shard.
type lru[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type lruPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs per-shard LRU instances.
func New[K comparable, V any]() policy.Policy[K, V] { return lruPolicy[K, V]{} }

// New implements policy.Policy by binding shard hooks and returning
// a shard-local policy instance.
func (lruPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &lru[K, V]{h: h}
}

// OnAdd places the new entry at MRU. LRU itself doesn't choose
// evictions; the shard enforces capacity/weight limits and performs
// actual evictions from the tail.
func (p *lru[K, V]) OnAdd(e policy.Entry[K, V]) (evict policy.Entry[K, V]) {
	p.h.PushFront(e)
	return nil
}

// OnGet promotes the entry to MRU.
func (p *lru[K, V]) OnGet(e policy.Entry[K, V]) { p.h.MoveToFront(e) }

// OnUpdate promotes the entry to MRU (updates are treated as recent use).
func (p *lru[K, V]) OnUpdate(e policy.Entry[K, V]) { p.h.MoveToFront(e) }

// OnRemove is a no-op for pure LRU (no policy state to clean up).
func (p *lru[K, V]) OnRemove(_ policy.Entry[K, V]) {}
