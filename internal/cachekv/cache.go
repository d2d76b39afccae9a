// cache.go: the typed, TTL-aware cache engine
//
// Replaces the teacier's lock-free W-TinyLFU eviction algorithm (see
// DESIGN.md) with the model spec.md Sec. 4.C and Sec. 5 actually call
// for: a key-to-entry map striped across shards (each guarded by its own
// RWMutex, for low-contention concurrent storage access) plus a keyed
// async lock (internal/keylock) that every logical operation acquires
// first, so multi-step read-modify-write sequences stay atomic without a
// cache-wide lock.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/varelen/mimoria/internal/clock"
	"github.com/varelen/mimoria/internal/keylock"
	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/wire"
)

type shard struct {
	mu   sync.RWMutex
	data map[string]*entry
}

// Cache is Mimoria's typed, TTL-aware, concurrent key-value store.
type Cache struct {
	shards []*shard
	locks  *keylock.Table

	clock        clock.Provider
	logger       logging.Logger
	onKeyExpired func(key string)
	onHit        func()
	onMiss       func()
	maxKeyLength int

	stats Stats

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepStopped  chan struct{}
}

// NewCache builds a Cache from cfg, applying defaults via Config.Validate.
// When cfg.ExpireCheckInterval is nonzero, a background sweeper starts
// immediately; call Close to stop it.
func NewCache(cfg Config) *Cache {
	_ = cfg.Validate()

	c := &Cache{
		shards:        make([]*shard, cfg.ShardCount),
		locks:         keylock.New(),
		clock:         cfg.Clock,
		logger:        cfg.Logger,
		onKeyExpired:  cfg.OnKeyExpired,
		onHit:         cfg.OnHit,
		onMiss:        cfg.OnMiss,
		maxKeyLength:  cfg.MaxKeyLength,
		sweepInterval: cfg.ExpireCheckInterval,
	}
	for i := range c.shards {
		c.shards[i] = &shard{data: make(map[string]*entry)}
	}

	if c.sweepInterval > 0 {
		c.stopSweep = make(chan struct{})
		c.sweepStopped = make(chan struct{})
		go c.sweepLoop()
	}

	return c
}

// Close stops the background sweeper, if running. Safe to call on a
// cache built without a sweeper.
func (c *Cache) Close() error {
	if c.stopSweep != nil {
		close(c.stopSweep)
		<-c.sweepStopped
	}
	return nil
}

// validateKey rejects empty or over-length keys (spec.md Sec. 3: keys are
// non-empty, at least 65,535 bytes must be accepted). Checked before the
// keyed lock is acquired so a rejected request never touches the lock
// table or a shard.
func (c *Cache) validateKey(operation, key string) error {
	if key == "" {
		return NewErrEmptyKey(operation)
	}
	if len(key) > c.maxKeyLength {
		return NewErrKeyTooLong(key, c.maxKeyLength)
	}
	return nil
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Cache) now() int64 { return c.clock.Now() }

func (c *Cache) hit()  { c.stats.recordHit(); c.onHit() }
func (c *Cache) miss() { c.stats.recordMiss(); c.onMiss() }

// lookupLocked returns the entry for key if present, handling lazy
// expiry: an expired entry is removed, counted, and reported via
// onKeyExpired before lookupLocked reports it absent. Must be called
// with the owning key lock held; takes the shard lock itself.
func (c *Cache) lookupLocked(sh *shard, key string) (*entry, bool) {
	sh.mu.RLock()
	e, ok := sh.data[key]
	sh.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		c.removeExpiredLocked(sh, key)
		return nil, false
	}
	return e, true
}

// removeExpiredLocked deletes key from sh, increments expired_keys, and
// publishes the expiration event exactly once. Must be called with the
// owning key lock held.
func (c *Cache) removeExpiredLocked(sh *shard, key string) {
	sh.mu.Lock()
	if _, ok := sh.data[key]; ok {
		delete(sh.data, key)
	}
	sh.mu.Unlock()
	c.stats.recordExpired()
	c.onKeyExpired(key)
}

func (c *Cache) store(sh *shard, key string, e *entry) {
	sh.mu.Lock()
	sh.data[key] = e
	sh.mu.Unlock()
}

func (c *Cache) remove(sh *shard, key string) bool {
	sh.mu.Lock()
	_, existed := sh.data[key]
	delete(sh.data, key)
	sh.mu.Unlock()
	return existed
}

// --- string ---

// GetString returns the stored string, or (nil, false) if absent,
// expired, or the value itself is a null string under a present key
// (distinguished from "missing" only by the bool return combined with a
// nil *string).
func (c *Cache) GetString(key string, take bool) (*string, bool, error) {
	if err := c.validateKey("get_string", key); err != nil {
		return nil, false, err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		return nil, false, nil
	}
	if e.shape != ShapeString {
		return nil, false, NewErrShapeMismatch(key, ShapeString, e.shape)
	}
	c.hit()
	return e.str, true, nil
}

// SetString creates or replaces key's value as a string, always
// refreshing insert_time.
func (c *Cache) SetString(key string, value *string, ttlMs int64, take bool) error {
	if err := c.validateKey("set_string", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	c.store(sh, key, &entry{
		shape:      ShapeString,
		str:        value,
		insertTime: c.now(),
		ttlMs:      ttlMs,
	})
	return nil
}

// --- bytes ---

func (c *Cache) GetBytes(key string, take bool) ([]byte, bool, error) {
	if err := c.validateKey("get_bytes", key); err != nil {
		return nil, false, err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		return nil, false, nil
	}
	if e.shape != ShapeBytes {
		return nil, false, NewErrShapeMismatch(key, ShapeBytes, e.shape)
	}
	c.hit()
	return e.bytes, true, nil
}

func (c *Cache) SetBytes(key string, value []byte, ttlMs int64, take bool) error {
	if err := c.validateKey("set_bytes", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	c.store(sh, key, &entry{
		shape:      ShapeBytes,
		bytes:      value,
		insertTime: c.now(),
		ttlMs:      ttlMs,
	})
	return nil
}

// --- list ---

// GetList returns a copy of the stored list, or an empty slice if absent
// or expired.
func (c *Cache) GetList(key string, take bool) ([]string, error) {
	if err := c.validateKey("get_list", key); err != nil {
		return nil, err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		return nil, nil
	}
	if e.shape != ShapeList {
		return nil, NewErrShapeMismatch(key, ShapeList, e.shape)
	}
	c.hit()
	out := make([]string, len(e.list))
	copy(out, e.list)
	return out, nil
}

// AddList appends value to key's list, creating the list if missing.
// Appending to an existing list does not refresh its TTL (spec.md Sec. 3
// invariants).
func (c *Cache) AddList(key, value string, ttlMs int64, take bool) error {
	if err := c.validateKey("add_list", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.store(sh, key, &entry{
			shape:      ShapeList,
			list:       []string{value},
			insertTime: c.now(),
			ttlMs:      ttlMs,
		})
		return nil
	}
	if e.shape != ShapeList {
		return NewErrShapeMismatch(key, ShapeList, e.shape)
	}
	e.list = append(e.list, value)
	return nil
}

// RemoveList removes the first occurrence of value from key's list. If
// the list becomes empty, the key is deleted (spec.md Sec. 3 invariants).
// A missing key or absent value is a no-op.
func (c *Cache) RemoveList(key, value string, take bool) error {
	if err := c.validateKey("remove_list", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		return nil
	}
	if e.shape != ShapeList {
		return NewErrShapeMismatch(key, ShapeList, e.shape)
	}
	idx := -1
	for i, v := range e.list {
		if v == value {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	e.list = append(e.list[:idx], e.list[idx+1:]...)
	if len(e.list) == 0 {
		c.remove(sh, key)
	}
	return nil
}

// ContainsList reports whether value is present in key's list.
func (c *Cache) ContainsList(key, value string, take bool) (bool, error) {
	if err := c.validateKey("contains_list", key); err != nil {
		return false, err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		return false, nil
	}
	if e.shape != ShapeList {
		return false, NewErrShapeMismatch(key, ShapeList, e.shape)
	}
	c.hit()
	for _, v := range e.list {
		if v == value {
			return true, nil
		}
	}
	return false, nil
}

// --- counter ---

// SetCounter replaces key's value with a counter holding n, with
// infinite TTL, replacing any existing shape.
func (c *Cache) SetCounter(key string, n int64, take bool) error {
	if err := c.validateKey("set_counter", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	c.store(sh, key, &entry{
		shape:      ShapeCounter,
		counter:    n,
		insertTime: c.now(),
		ttlMs:      0,
	})
	return nil
}

// IncrementCounter adds delta to key's counter, creating it with value
// delta if missing, and returns the resulting value.
func (c *Cache) IncrementCounter(key string, delta int64, take bool) (int64, error) {
	if err := c.validateKey("increment_counter", key); err != nil {
		return 0, err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		c.store(sh, key, &entry{
			shape:      ShapeCounter,
			counter:    delta,
			insertTime: c.now(),
			ttlMs:      0,
		})
		return delta, nil
	}
	if e.shape != ShapeCounter {
		return 0, NewErrShapeMismatch(key, ShapeCounter, e.shape)
	}
	c.hit()
	e.counter += delta
	return e.counter, nil
}

// --- map ---

// GetMapValue returns the tagged value stored under sub within key's
// map, or a null TaggedValue if key or sub is absent.
func (c *Cache) GetMapValue(key, sub string, take bool) (wire.TaggedValue, error) {
	if err := c.validateKey("get_map_value", key); err != nil {
		return wire.NullValue(), err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		return wire.NullValue(), nil
	}
	if e.shape != ShapeMap {
		return wire.NullValue(), NewErrShapeMismatch(key, ShapeMap, e.shape)
	}
	c.hit()
	if v, ok := e.m[sub]; ok {
		return v, nil
	}
	return wire.NullValue(), nil
}

// SetMapValue sets sub within key's map to v, creating the map (with
// infinite TTL) if key is missing. The ttlMs argument is accepted for
// wire-protocol symmetry with SetMap but ignored: only whole-map set
// operations affect the container's TTL (spec.md Sec. 4.C, Design Notes
// "TTL argument on map sub-key writes").
func (c *Cache) SetMapValue(key, sub string, v wire.TaggedValue, ttlMs int64, take bool) error {
	if err := c.validateKey("set_map_value", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.store(sh, key, &entry{
			shape:      ShapeMap,
			m:          map[string]wire.TaggedValue{sub: v},
			insertTime: c.now(),
			ttlMs:      0,
		})
		return nil
	}
	if e.shape != ShapeMap {
		return NewErrShapeMismatch(key, ShapeMap, e.shape)
	}
	e.m[sub] = v
	return nil
}

// GetMap returns a copy of key's full map, or an empty map if absent.
func (c *Cache) GetMap(key string, take bool) (map[string]wire.TaggedValue, error) {
	if err := c.validateKey("get_map", key); err != nil {
		return nil, err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	e, ok := c.lookupLocked(sh, key)
	if !ok {
		c.miss()
		return map[string]wire.TaggedValue{}, nil
	}
	if e.shape != ShapeMap {
		return nil, NewErrShapeMismatch(key, ShapeMap, e.shape)
	}
	c.hit()
	out := make(map[string]wire.TaggedValue, len(e.m))
	for k, v := range e.m {
		out[k] = v
	}
	return out, nil
}

// SetMap replaces key's value with m entirely, replacing any existing
// shape.
func (c *Cache) SetMap(key string, m map[string]wire.TaggedValue, ttlMs int64, take bool) error {
	if err := c.validateKey("set_map", key); err != nil {
		return err
	}

	release := c.locks.Acquire(key, take)
	defer release()

	cp := make(map[string]wire.TaggedValue, len(m))
	for k, v := range m {
		cp[k] = v
	}

	sh := c.shardFor(key)
	c.store(sh, key, &entry{
		shape:      ShapeMap,
		m:          cp,
		insertTime: c.now(),
		ttlMs:      ttlMs,
	})
	return nil
}

// --- presence ---

// Exists reports whether key currently holds a non-expired value.
func (c *Cache) Exists(key string, take bool) bool {
	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	_, ok := c.lookupLocked(sh, key)
	return ok
}

// Delete removes key unconditionally. A missing key is a no-op.
func (c *Cache) Delete(key string, take bool) bool {
	release := c.locks.Acquire(key, take)
	defer release()

	sh := c.shardFor(key)
	return c.remove(sh, key)
}

// --- stats / size ---

// Stats returns a snapshot of the cache's operation counters.
func (c *Cache) Stats() Snapshot { return c.stats.Snapshot() }

// Size returns the number of present keys, counting expired-but-not-yet-
// reaped entries as present (spec.md Sec. 3 "size").
func (c *Cache) Size() int {
	total := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		total += len(sh.data)
		sh.mu.RUnlock()
	}
	return total
}

// Clear removes every key, used by the follower resync path before a
// snapshot is applied (spec.md Sec. 4.I "Resync").
func (c *Cache) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.data = make(map[string]*entry)
		sh.mu.Unlock()
	}
}
