// entry.go: the stored value plus its insertion time and TTL
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import "github.com/varelen/mimoria/internal/wire"

// entry is (value shape, insert_time, ttl_ms) per spec.md Sec. 3. Only one
// of the shape-specific fields is meaningful at a time, selected by shape.
// An entry is mutated only while its owning key lock is held.
type entry struct {
	shape Shape

	str      *string // nil means a present key with a null string value
	bytes    []byte  // nil means a present key with a null bytes value
	list     []string
	m        map[string]wire.TaggedValue
	counter  int64

	insertTime int64 // nanoseconds, from the configured clock.Provider
	ttlMs      int64 // 0 = never expires
}

// expired reports whether e has outlived its TTL as of now (nanoseconds).
func (e *entry) expired(nowNanos int64) bool {
	if e.ttlMs == 0 {
		return false
	}
	elapsedMs := (nowNanos - e.insertTime) / int64(1e6)
	return elapsedMs >= e.ttlMs
}

// remainingTTLMs computes the remaining time-to-live for snapshot
// replication (spec.md Sec. 4.I Resync): max(0, ttl_ms - elapsed), with 0
// (infinite) preserved as-is.
func (e *entry) remainingTTLMs(nowNanos int64) int64 {
	if e.ttlMs == 0 {
		return 0
	}
	elapsedMs := (nowNanos - e.insertTime) / int64(1e6)
	remaining := e.ttlMs - elapsedMs
	if remaining < 0 {
		return 0
	}
	return remaining
}
