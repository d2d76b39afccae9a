// snapshot.go: full-state export/import for follower resync
//
// Implements spec.md Sec. 4.I "Resync": the leader encodes, for each
// key, its shape tag, payload, and remaining TTL (absolute ms, 0
// preserved as infinite); the follower clears its cache and applies the
// snapshot entry by entry before signaling cluster-ready.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import "github.com/varelen/mimoria/internal/wire"

// SnapshotEntry is one key's state as carried over the Sync reply.
type SnapshotEntry struct {
	Key            string
	Shape          Shape
	RemainingTTLMs int64

	Str     *string
	Bytes   []byte
	List    []string
	Map     map[string]wire.TaggedValue
	Counter int64
}

// Snapshot returns every present, non-expired key's state as of now,
// with TTL expressed as remaining milliseconds (spec.md Sec. 4.I).
func (c *Cache) Snapshot() []SnapshotEntry {
	now := c.now()
	var out []SnapshotEntry

	for _, sh := range c.shards {
		sh.mu.RLock()
		for key, e := range sh.data {
			if e.expired(now) {
				continue
			}
			out = append(out, SnapshotEntry{
				Key:            key,
				Shape:          e.shape,
				RemainingTTLMs: e.remainingTTLMs(now),
				Str:            e.str,
				Bytes:          e.bytes,
				List:           append([]string(nil), e.list...),
				Map:            copyMap(e.m),
				Counter:        e.counter,
			})
		}
		sh.mu.RUnlock()
	}
	return out
}

func copyMap(m map[string]wire.TaggedValue) map[string]wire.TaggedValue {
	if m == nil {
		return nil
	}
	cp := make(map[string]wire.TaggedValue, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// ApplySnapshot clears the cache and installs entries, reinterpreting
// each RemainingTTLMs as a fresh ttl_ms against a fresh insert_time of
// now -- the follower's own countdown restarts from the remaining
// budget the leader reported, which is exactly spec.md Sec. 4.I's
// "remaining TTL ... encoded as absolute ms" semantics. Bypasses the
// keyed lock: called only during follower resync, before the follower
// accepts any client or replication traffic.
func (c *Cache) ApplySnapshot(entries []SnapshotEntry) {
	c.Clear()
	now := c.now()
	for _, se := range entries {
		sh := c.shardFor(se.Key)
		c.store(sh, se.Key, &entry{
			shape:      se.Shape,
			str:        se.Str,
			bytes:      se.Bytes,
			list:       append([]string(nil), se.List...),
			m:          copyMap(se.Map),
			counter:    se.Counter,
			insertTime: now,
			ttlMs:      se.RemainingTTLMs,
		})
	}
}
