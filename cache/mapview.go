package cache

// MapView is a live, thread-safe, map-style view over the loaded
// entries of a cache. Writes through the view have identical semantics
// to Put/Invalidate on the cache itself. Keys with an in-flight load
// are absent from the view until the load publishes.
type MapView[K comparable, V any] struct {
	c *cache[K, V]
}

// Load returns the value stored for k. Equivalent to GetIfPresent,
// including statistics and recency promotion.
func (m *MapView[K, V]) Load(k K) (V, bool) {
	return m.c.GetIfPresent(k)
}

// Store sets the value for k. Equivalent to Put.
func (m *MapView[K, V]) Store(k K, v V) {
	m.c.Put(k, v)
}

// LoadOrStore returns the existing live value for k if present;
// otherwise it stores v. The loaded result is true if the value was
// already present, false if v was stored (sync.Map semantics).
func (m *MapView[K, V]) LoadOrStore(k K, v V) (actual V, loaded bool) {
	if m.c.closed.Load() {
		return v, false
	}
	s := m.c.getShard(k)
	return s.PutIfAbsent(k, v, m.c.defaultDeadline(), m.c.weightOf(k, v))
}

// Delete removes the value for k. Equivalent to Invalidate.
func (m *MapView[K, V]) Delete(k K) bool {
	return m.c.Invalidate(k)
}

// Range calls f for each live entry, shard by shard. Each shard is
// snapshotted under a momentary lock, so f observes a point-in-time
// view per shard with no atomicity across shards. Iteration stops when
// f returns false.
func (m *MapView[K, V]) Range(f func(k K, v V) bool) {
	if m.c.closed.Load() {
		return
	}
	for _, s := range m.c.shards {
		if !s.Range(f) {
			return
		}
	}
}

// Len returns the approximate number of entries in the view.
func (m *MapView[K, V]) Len() int {
	return m.c.Len()
}
