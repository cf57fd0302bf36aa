// Package util contains internal helpers (hashing, sharding, padding).
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash64 hashes common key types to 64 bits for shard selection.
// String-like keys go through xxhash (fast, good dispersion even on
// short keys); integer keys are mixed with an allocation-free FNV-1a
// over their little-endian bytes so hot integer-keyed workloads stay
// zero-alloc.
// Supported: string, []byte, [16|32|64]byte, all int/uint widths,
// uintptr, fmt.Stringer. Panicking on unsupported types is deliberate
// to avoid silently poor sharding.
func Hash64[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)
	case []byte:
		return xxhash.Sum64(v)
	case [16]byte:
		return xxhash.Sum64(v[:])
	case [32]byte:
		return xxhash.Sum64(v[:])
	case [64]byte:
		return xxhash.Sum64(v[:])

	// Integer-like keys: mix the value's little-endian bytes.
	case uint8:
		return mixUint64(uint64(v))
	case uint16:
		return mixUint64(uint64(v))
	case uint32:
		return mixUint64(uint64(v))
	case uint64:
		return mixUint64(v)
	case uint:
		return mixUint64(uint64(v))
	case uintptr:
		return mixUint64(uint64(v))
	case int8:
		return mixUint64(uint64(uint8(v)))
	case int16:
		return mixUint64(uint64(uint16(v)))
	case int32:
		return mixUint64(uint64(uint32(v)))
	case int64:
		return mixUint64(uint64(v))
	case int:
		return mixUint64(uint64(v))

	// Fallback for pseudo-keys via String() (avoid if you can).
	case fmt.Stringer:
		return xxhash.Sum64String(v.String())
	default:
		panic(fmt.Sprintf("util.Hash64: unsupported key type %T; convert key to string or provide a custom hasher", k))
	}
}

const (
	fnvOffset64 = 1469598103934665603
	fnvPrime64  = 1099511628211
)

// mixUint64 FNV-1a-hashes the 8 little-endian bytes of u without allocating.
func mixUint64(u uint64) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < 8; i++ {
		h ^= uint64(byte(u))
		h *= fnvPrime64
		u >>= 8
	}
	return h
}
