// Package twoq implements the 2Q eviction policy.
package twoq

import (
	"container/list"

	"github.com/alexanderwhatley/guava/policy"
)

// twoQ implements the 2Q eviction policy.
//
// Resident queues:
//   - A1in (younger queue): its own list + index by Entry; admits
//     first-time keys
//   - Am (mature queue): entries not present in inIdx; ordering is
//     driven by shard hooks
//
// Ghost A1out: keys only (no values), tracks recently evicted A1in keys
// so they get a second chance (bypass A1in on re-admission). This
// resists scan pollution better than plain LRU.
//
// Concurrency: all methods are called under the shard lock.
type twoQ[K comparable, V any] struct {
	h policy.Hooks[K, V]

	capIn    int // A1in capacity (per-shard)
	capGhost int // A1out (ghost) capacity (per-shard)

	// A1in: MRU at Front() -> LRU at Back()
	inList *list.List
	// Fast membership check for "is entry in A1in?"
	inIdx map[policy.Entry[K, V]]*list.Element // element.Value is policy.Entry[K,V]

	// A1out (ghosts): keys only, MRU at Front() -> LRU at Back()
	ghostList *list.List
	ghostIdx  map[K]*list.Element // key -> element in ghostList (element.Value is K)
}

// New constructs a 2Q policy factory.
// Common choices: capIn ~ 25% of shard capacity; capGhost ~ 50-100% of
// shard capacity.
// NOTE: when used with a sharded cache, pass *per-shard* sizes here.
func New[K comparable, V any](capIn, capGhost int) policy.Policy[K, V] {
	if capIn < 1 {
		capIn = 1
	}
	if capGhost < 1 {
		capGhost = 1
	}
	return twoQPolicy[K, V]{capIn: capIn, capGhost: capGhost}
}

type twoQPolicy[K comparable, V any] struct {
	capIn    int
	capGhost int
}

func (p twoQPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &twoQ[K, V]{
		h:         h,
		capIn:     p.capIn,
		capGhost:  p.capGhost,
		inList:    list.New(),
		inIdx:     make(map[policy.Entry[K, V]]*list.Element),
		ghostList: list.New(),
		ghostIdx:  make(map[K]*list.Element),
	}
}

// OnAdd admission rules:
//   - If the key is present in ghosts (A1out), bypass A1in and admit
//     directly to Am (MRU). The ghost entry is consumed.
//   - Otherwise admit into A1in (and MRU in the shard list via hooks).
//   - If A1in overflows, return its LRU candidate to the shard for
//     eviction.
func (q *twoQ[K, V]) OnAdd(e policy.Entry[K, V]) (evict policy.Entry[K, V]) {
	k := e.Key()
	if ge, ok := q.ghostIdx[k]; ok {
		// Second chance: promote from ghosts directly into Am (skip A1in).
		q.ghostList.Remove(ge)
		delete(q.ghostIdx, k)
		q.h.PushFront(e) // MRU in shard list (Am)
		return nil
	}

	// First-time admission: insert into A1in and MRU of the shard list.
	q.h.PushFront(e)
	q.inIdx[e] = q.inList.PushFront(e)

	// If A1in is over capacity, propose its LRU for eviction.
	if q.inList.Len() > q.capIn {
		if lruEl := q.inList.Back(); lruEl != nil {
			return lruEl.Value.(policy.Entry[K, V])
		}
	}
	return nil
}

// OnGet: if the entry was in A1in, drop it from A1in (promotion to Am),
// then move it to MRU in the shard list.
func (q *twoQ[K, V]) OnGet(e policy.Entry[K, V]) {
	if el, ok := q.inIdx[e]; ok {
		q.inList.Remove(el)
		delete(q.inIdx, e)
	}
	q.h.MoveToFront(e)
}

// OnUpdate follows OnGet semantics (updates count as recent use).
func (q *twoQ[K, V]) OnUpdate(e policy.Entry[K, V]) { q.OnGet(e) }

// OnRemove:
//   - If the entry was in A1in, record its key in ghosts (A1out),
//     respecting capGhost.
//   - Removals from Am do NOT populate ghosts.
func (q *twoQ[K, V]) OnRemove(e policy.Entry[K, V]) {
	if el, ok := q.inIdx[e]; ok {
		q.inList.Remove(el)
		delete(q.inIdx, e)

		k := e.Key()

		// Insert/move ghost to MRU.
		if old := q.ghostIdx[k]; old != nil {
			q.ghostList.Remove(old)
		}
		q.ghostIdx[k] = q.ghostList.PushFront(k)

		// Enforce ghost capacity (drop LRU ghosts).
		for q.ghostList.Len() > q.capGhost {
			tail := q.ghostList.Back()
			if tail == nil {
				break
			}
			kk := tail.Value.(K)
			delete(q.ghostIdx, kk)
			q.ghostList.Remove(tail)
		}
	}
}
