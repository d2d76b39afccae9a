// stats.go: monotonic operation counters and derived hit ratio
//
// Mirrors the teacher's CacheStats (interfaces.go) and its atomic
// fetch-add counters, generalized to the three counters spec.md Sec. 3
// names: hits, misses, expired_keys.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import (
	"math"
	"sync/atomic"
)

// Stats holds the cache's monotonic counters. All fields are accessed
// exclusively through atomic operations; readers observe a
// monotonically non-decreasing view regardless of which goroutine last
// wrote them.
type Stats struct {
	hits        uint64
	misses      uint64
	expiredKeys uint64
}

func (s *Stats) recordHit()     { atomic.AddUint64(&s.hits, 1) }
func (s *Stats) recordMiss()    { atomic.AddUint64(&s.misses, 1) }
func (s *Stats) recordExpired() { atomic.AddUint64(&s.expiredKeys, 1) }

// Snapshot is an immutable point-in-time view of Stats, suitable for the
// wire-level GetStats response (spec.md Sec. 6).
type Snapshot struct {
	Hits        uint64
	Misses      uint64
	ExpiredKeys uint64
}

// HitRatio returns hits / (hits + misses) rounded to two decimals, or 0
// when the denominator is zero (spec.md Sec. 3 "Stats").
func (s Snapshot) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	ratio := float64(s.Hits) / float64(total)
	return math.Round(ratio*100) / 100
}

// Snapshot reads the current counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Hits:        atomic.LoadUint64(&s.hits),
		Misses:      atomic.LoadUint64(&s.misses),
		ExpiredKeys: atomic.LoadUint64(&s.expiredKeys),
	}
}
