package cache

// entry is an intrusive doubly linked list element owned by a shard.
// It stores the key/value alongside list links and the metadata used
// for expiry and weight accounting. Only loaded entries exist: an
// in-flight load is represented by a loadToken plus the singleflight
// registration, never by a placeholder entry, so a partially loaded
// value can never be observed through the table.
type entry[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *entry[K, V]
	next *entry[K, V]

	// Absolute write-expiry deadline in UnixNano.
	// Zero means "no write expiry".
	exp int64

	// Last access time in UnixNano; drives ExpireAfterAccess.
	// Updated under the shard lock on every hit and write.
	acc int64

	// Logical weight used when MaxWeight is enabled. Entries are
	// evicted until both count and weight limits are satisfied.
	weight int32
}

// Key returns the entry key (part of the policy.Entry interface).
func (e *entry[K, V]) Key() K { return e.key }

// Value returns a pointer to the stored value (part of the policy.Entry
// interface).
// NOTE: callers must only read/write through this pointer while holding
// the shard lock; otherwise data races may occur.
func (e *entry[K, V]) Value() *V { return &e.val }
