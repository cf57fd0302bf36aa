package cache

import (
	"time"

	"github.com/alexanderwhatley/guava/internal/util"
)

// Stats is an immutable snapshot of the cache's cumulative statistics.
// All counters start at zero and are monotonically non-decreasing over
// the cache's lifetime. The snapshot reads each counter at roughly the
// same instant; exact cross-counter atomicity is not guaranteed.
type Stats struct {
	// Hits is the number of lookups that returned a cached value.
	Hits uint64
	// Misses is the number of lookups that found no live value.
	Misses uint64
	// LoadSuccesses is the number of loader runs that produced a value.
	LoadSuccesses uint64
	// LoadExceptions is the number of loader runs that failed
	// (including nil results).
	LoadExceptions uint64
	// TotalLoadTime is the cumulative wall time spent in loaders,
	// successful or not.
	TotalLoadTime time.Duration
	// Evictions is the number of entries removed by capacity, weight,
	// or expiry. Explicit invalidation and replacement do not count.
	Evictions uint64
}

// RequestCount returns Hits + Misses.
func (s Stats) RequestCount() uint64 { return s.Hits + s.Misses }

// HitRate returns Hits / RequestCount, or 1.0 when no requests were made.
func (s Stats) HitRate() float64 {
	n := s.RequestCount()
	if n == 0 {
		return 1.0
	}
	return float64(s.Hits) / float64(n)
}

// MissRate returns Misses / RequestCount, or 0.0 when no requests were made.
func (s Stats) MissRate() float64 {
	n := s.RequestCount()
	if n == 0 {
		return 0.0
	}
	return float64(s.Misses) / float64(n)
}

// LoadCount returns LoadSuccesses + LoadExceptions.
func (s Stats) LoadCount() uint64 { return s.LoadSuccesses + s.LoadExceptions }

// AverageLoadPenalty returns TotalLoadTime / LoadCount, or 0 when no
// loads have run.
func (s Stats) AverageLoadPenalty() time.Duration {
	n := s.LoadCount()
	if n == 0 {
		return 0
	}
	return s.TotalLoadTime / time.Duration(n)
}

// Minus returns the difference between this snapshot and an earlier one,
// clamping at zero. Useful for interval deltas.
func (s Stats) Minus(o Stats) Stats {
	return Stats{
		Hits:           sub64(s.Hits, o.Hits),
		Misses:         sub64(s.Misses, o.Misses),
		LoadSuccesses:  sub64(s.LoadSuccesses, o.LoadSuccesses),
		LoadExceptions: sub64(s.LoadExceptions, o.LoadExceptions),
		TotalLoadTime:  maxDur(s.TotalLoadTime-o.TotalLoadTime, 0),
		Evictions:      sub64(s.Evictions, o.Evictions),
	}
}

func sub64(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

func maxDur(d, floor time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	return d
}

// loadCounters accumulates loader outcomes for the whole cache on
// padded atomics so contended loads on different keys don't share a
// cache line. Never incremented under a shard lock.
type loadCounters struct {
	_          util.CacheLinePad
	successes  util.PaddedAtomicUint64
	exceptions util.PaddedAtomicUint64
	totalNanos util.PaddedAtomicInt64
}
