// Package policy defines the pluggable eviction policy contract used by
// the cache shards.
package policy

// Entry is the minimal contract a cache entry must satisfy for a policy.
// It provides read-only access to the key and a pointer to the value.
// The pointer allows in-place updates without re-linking the intrusive
// list node.
type Entry[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks expose O(1) list operations a policy can use to manipulate the
// shard's intrusive MRU/LRU recency list. Implementations are provided
// by the shard.
//
// Concurrency: all hook calls happen under the shard lock.
// Important: hooks manage only the list; the shard owns the key->entry map.
type Hooks[K comparable, V any] interface {
	// MoveToFront promotes the entry to MRU.
	MoveToFront(Entry[K, V])
	// PushFront inserts the entry at MRU (used on admission).
	PushFront(Entry[K, V])
	// Remove detaches the entry from the list (map bookkeeping is done by the shard).
	Remove(Entry[K, V])
	// Back returns the current LRU entry (or nil if empty).
	Back() Entry[K, V]
	// Len returns the number of resident entries in the shard.
	Len() int
}

// ShardPolicy is a per-shard eviction policy instance bound to shard hooks.
// All methods are invoked under the shard lock.
//
// Semantics:
//   - OnAdd may return an eviction candidate (e.g., LRU of a probation
//     queue). The shard evicts that entry and then calls OnRemove for it.
//   - OnGet/OnUpdate typically promote the entry (e.g., move to MRU).
//   - OnRemove is a notification to update policy-internal state
//     (e.g., maintain ghost queues). The shard performs actual deletion.
type ShardPolicy[K comparable, V any] interface {
	OnAdd(Entry[K, V]) (evict Entry[K, V])
	OnGet(Entry[K, V])
	OnUpdate(Entry[K, V])
	OnRemove(Entry[K, V])
}

// Policy is a factory that creates shard-local policy instances bound
// to a particular shard's hooks.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ShardPolicy[K, V]
}
