// config.go: configuration for the cache engine
//
// Mirrors the teacher's config.go Validate()/DefaultConfig() pattern:
// normalize to sensible defaults rather than reject, so NewCache never
// fails on a zero-value Config.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import (
	"time"

	"github.com/varelen/mimoria/internal/clock"
	"github.com/varelen/mimoria/internal/logging"
)

// DefaultShardCount is the number of stripes the key-to-entry map is
// split across, balancing per-shard lock contention against per-shard
// map overhead (spec.md Sec. 5 "Shared resources").
const DefaultShardCount = 256

// DefaultMaxKeyLength is the floor spec.md Sec. 3 guarantees
// ("at least 65,535 bytes"); this implementation does not impose a
// tighter limit.
const DefaultMaxKeyLength = 65535

// Config configures a Cache.
type Config struct {
	// ShardCount is the number of map stripes a key is distributed
	// across by FNV hash modulo ShardCount; any positive value works,
	// no power-of-two requirement. Default: DefaultShardCount.
	ShardCount int

	// MaxKeyLength caps accepted key length. Default: DefaultMaxKeyLength.
	MaxKeyLength int

	// ExpireCheckInterval configures the periodic sweep (spec.md Sec.
	// 4.C "Periodic sweep"). Zero disables the sweeper; lazy expiry
	// still runs on every read.
	ExpireCheckInterval time.Duration

	// Clock supplies the current time for insert_time and expiry
	// checks. Default: clock.System{}.
	Clock clock.Provider

	// Logger receives sweep diagnostics. Default: logging.NoOpLogger{}.
	Logger logging.Logger

	// OnKeyExpired is invoked exactly once per key per generation when
	// an entry is discovered expired, lazily or by the sweeper. The
	// server wires this to the pub/sub expiration channel
	// (spec.md Sec. 4.D). Must be fast and non-blocking.
	OnKeyExpired func(key string)

	// OnHit and OnMiss are invoked alongside every hits/misses counter
	// update, letting a caller mirror the wire-level stats into an
	// external metrics recorder (internal/telemetry). Both must be fast
	// and non-blocking; neither is required for correctness of
	// GetStats, which reads Stats directly.
	OnHit  func()
	OnMiss func()
}

// Validate normalizes zero-valued fields to their defaults. It never
// returns a non-nil error today but keeps the signature of the
// teacher's Validate() for symmetry and future validation.
func (c *Config) Validate() error {
	if c.ShardCount <= 0 {
		c.ShardCount = DefaultShardCount
	}
	if c.MaxKeyLength <= 0 {
		c.MaxKeyLength = DefaultMaxKeyLength
	}
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if c.Logger == nil {
		c.Logger = logging.NoOpLogger{}
	}
	if c.OnKeyExpired == nil {
		c.OnKeyExpired = func(string) {}
	}
	if c.OnHit == nil {
		c.OnHit = func() {}
	}
	if c.OnMiss == nil {
		c.OnMiss = func() {}
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	c := Config{}
	_ = c.Validate()
	return c
}
