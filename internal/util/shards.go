package util

import "runtime"

// ReasonableShardCount picks a practical default shard count from CPU
// parallelism: nextPow2(2*GOMAXPROCS), clamped to [1..256]. This keeps
// lock contention low without bloating per-shard memory overhead.
func ReasonableShardCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	n := int(NextPow2(uint64(p * 2)))
	if n < 1 {
		n = 1
	}
	if n > 256 {
		n = 256
	}
	return n
}

// ShardIndex maps a 64-bit hash to a shard index. Uses the mask fast
// path when the shard count is a power of two, modulo otherwise.
func ShardIndex(hash uint64, shards int) int {
	if shards <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(shards)) {
		return int(hash & uint64(shards-1))
	}
	return int(hash % uint64(shards))
}
