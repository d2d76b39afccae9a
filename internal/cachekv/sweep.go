// sweep.go: periodic background expiry sweep
//
// Grounded on the teacher's cleanup-interval design (config.go
// CleanupInterval / hot-reload.go's documented runtime-reloadable
// fields): iterate a snapshot of keys so concurrent inserts after the
// snapshot are simply handled on the next tick (spec.md Design Notes
// "Background sweeper snapshot"), and take each key's own lock so the
// sweeper never races a writer mid-update.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import "time"

func (c *Cache) sweepLoop() {
	defer close(c.sweepStopped)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

// sweepOnce runs a single sweep cycle and logs totals, continuing past
// any single-key error (spec.md Sec. 4.C "proceeds on errors and logs
// totals per cycle").
func (c *Cache) sweepOnce() {
	keys := c.snapshotKeys()
	expired := 0

	for _, key := range keys {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("sweep: recovered panic", "key", key, "panic", r)
				}
			}()
			release := c.locks.Acquire(key, true)
			defer release()

			sh := c.shardFor(key)
			sh.mu.RLock()
			e, ok := sh.data[key]
			sh.mu.RUnlock()
			if !ok {
				return
			}
			if e.expired(c.now()) {
				c.removeExpiredLocked(sh, key)
				expired++
			}
		}()
	}

	c.logger.Debug("sweep cycle complete", "scanned", len(keys), "expired", expired)
}

// snapshotKeys returns every key currently stored, across all shards, as
// of the moment of the call.
func (c *Cache) snapshotKeys() []string {
	var keys []string
	for _, sh := range c.shards {
		sh.mu.RLock()
		for k := range sh.data {
			keys = append(keys, k)
		}
		sh.mu.RUnlock()
	}
	return keys
}
