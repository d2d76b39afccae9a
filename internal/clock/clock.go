// clock.go: pluggable time source used by cachekv and the protocol
// dispatcher
//
// Mirrors the teacher's interfaces.go TimeProvider, defaulting to
// go-timecache for a cached, allocation-free clock instead of time.Now()
// on every entry touch. Election and heartbeat timers use the standard
// time package, not this clock.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package clock

import "github.com/agilira/go-timecache"

// Provider supplies the current time in nanoseconds since epoch. It must
// be safe for concurrent use and fast enough to call on every hot-path
// operation.
type Provider interface {
	Now() int64
}

// System is the default Provider, backed by go-timecache's periodically
// refreshed clock.
type System struct{}

func (System) Now() int64 { return timecache.CachedTimeNano() }

// Default is the package-level System provider, usable wherever a
// zero-value default is preferable to constructing one.
var Default Provider = System{}
