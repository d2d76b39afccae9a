// cache_test.go: unit tests for the cache engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cachekv

import (
	"sync"
	"testing"
	"time"

	"github.com/varelen/mimoria/internal/wire"
)

func strp(s string) *string { return &s }

// TestScenario_S1 -- set_string("key","Mimoria",0); get_string("key") -> "Mimoria".
func TestScenario_S1(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	if err := c.SetString("key", strp("Mimoria"), 0, true); err != nil {
		t.Fatal(err)
	}
	v, found, err := c.GetString("key", true)
	if err != nil || !found || *v != "Mimoria" {
		t.Fatalf("got %v found=%v err=%v", v, found, err)
	}
}

// TestScenario_S2 -- TTL expiry: after more than ttl elapses, the key is
// absent and expired_keys increments.
func TestScenario_S2(t *testing.T) {
	stub := &stubClock{}
	var expiredKeys []string
	c := NewCache(Config{
		Clock:        stub,
		OnKeyExpired: func(k string) { expiredKeys = append(expiredKeys, k) },
	})
	defer c.Close()

	if err := c.SetString("key", strp("Mimoria"), 100, true); err != nil {
		t.Fatal(err)
	}
	v, found, _ := c.GetString("key", true)
	if !found || *v != "Mimoria" {
		t.Fatalf("expected present before ttl, got found=%v", found)
	}

	stub.advance(500 * time.Millisecond)
	_, found, _ = c.GetString("key", true)
	if found {
		t.Fatal("expected absent after ttl elapsed")
	}
	if c.Stats().ExpiredKeys < 1 {
		t.Fatal("expected expired_keys >= 1")
	}
	if len(expiredKeys) != 1 || expiredKeys[0] != "key" {
		t.Fatalf("expected exactly one expiration event for key, got %v", expiredKeys)
	}
}

// TestScenario_S3 -- set_bytes/get_bytes round trip.
func TestScenario_S3(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	if err := c.SetBytes("key", []byte{1, 2, 3, 4}, 0, true); err != nil {
		t.Fatal(err)
	}
	v, found, err := c.GetBytes("key", true)
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if len(v) != 4 || v[0] != 1 || v[3] != 4 {
		t.Fatalf("unexpected bytes: %v", v)
	}
}

// TestInvariant_ShapeMismatchLeavesStateUnchanged covers invariant 2.
func TestInvariant_ShapeMismatchLeavesStateUnchanged(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	if err := c.SetString("key", strp("v"), 0, true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetList("key", true); err == nil {
		t.Fatal("expected shape mismatch error")
	} else if !IsShapeMismatch(err) {
		t.Fatalf("expected shape mismatch code, got %v", err)
	}

	v, found, err := c.GetString("key", true)
	if err != nil || !found || *v != "v" {
		t.Fatalf("state should be unchanged: %v %v %v", v, found, err)
	}
}

// TestInvariant_SetDeleteGetConcurrency covers invariant 3.
func TestInvariant_SetDeleteGetConcurrency(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	const goroutines = 8
	const iterations = 200
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				_ = c.SetString("shared", strp("v"), 0, true)
				c.Delete("shared", true)
				_, _, _ = c.GetString("shared", true)
			}
		}()
	}
	wg.Wait()

	snap := c.Stats()
	if snap.Hits+snap.Misses != uint64(goroutines*iterations) {
		t.Fatalf("expected hits+misses == %d, got %d", goroutines*iterations, snap.Hits+snap.Misses)
	}
	if c.Size() != 0 {
		t.Fatalf("expected final size 0, got %d", c.Size())
	}
}

// TestInvariant_CounterConcurrency covers invariant 4 / scenario S5.
func TestInvariant_CounterConcurrency(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	const goroutines = 10
	const iterations = 1000
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				_, _ = c.IncrementCounter("key", 1, true)
			}
		}()
	}
	wg.Wait()

	final, err := c.IncrementCounter("key", 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if final != goroutines*iterations {
		t.Fatalf("expected %d, got %d", goroutines*iterations, final)
	}
	if c.Size() != 1 {
		t.Fatalf("expected size 1, got %d", c.Size())
	}
}

// TestInvariant_ListEmptying covers invariant 5 / scenario S6.
func TestInvariant_ListEmptying(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	const goroutines = 10
	const iterations = 500
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				_ = c.AddList("key", "v", 0, true)
				_ = c.RemoveList("key", "v", true)
			}
		}()
	}
	wg.Wait()

	if c.Exists("key", true) {
		t.Fatal("expected key to not exist after equal adds/removes")
	}
	if c.Size() != 0 {
		t.Fatalf("expected size 0, got %d", c.Size())
	}
}

// TestInvariant_HitRatio covers invariant 6.
func TestInvariant_HitRatio(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	if c.Stats().HitRatio() != 0 {
		t.Fatal("expected 0 hit ratio with no operations")
	}

	_ = c.SetString("key", strp("v"), 0, true)
	for i := 0; i < 3; i++ {
		_, _, _ = c.GetString("key", true)
	}
	for i := 0; i < 1; i++ {
		_, _, _ = c.GetString("missing", true)
	}

	snap := c.Stats()
	want := float64(3) / float64(4)
	if snap.HitRatio() != want {
		t.Fatalf("expected hit ratio %v, got %v", want, snap.HitRatio())
	}
}

func TestList_EmptyStringIsAValidElement(t *testing.T) {
	// The cache engine itself stores strings only for list elements; the
	// null-rejection described in spec.md Design Notes is enforced at the
	// wire-protocol layer, where a missing/absent text field is detected
	// before it ever reaches AddList/RemoveList. This test documents the
	// cache-layer contract those callers rely on: an empty string is a
	// valid element distinct from "no value provided".
	c := NewCache(DefaultConfig())
	defer c.Close()

	if err := c.AddList("key", "", 0, true); err != nil {
		t.Fatal(err)
	}
	ok, err := c.ContainsList("key", "", true)
	if err != nil || !ok {
		t.Fatalf("expected empty string element to be stored: ok=%v err=%v", ok, err)
	}
}

func TestValidateKey_RejectsEmptyAndOverLongKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxKeyLength = 4
	c := NewCache(cfg)
	defer c.Close()

	if _, _, err := c.GetString("", true); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
	if err := c.SetString("toolong", strp("v"), 0, true); err == nil {
		t.Fatal("expected over-length key to be rejected")
	}
	if err := c.SetString("ok", strp("v"), 0, true); err != nil {
		t.Fatalf("expected a key within the limit to be accepted, got %v", err)
	}
}

// TestScenario_S4 -- set_map with mixed tagged values; get_map equals it
// value-by-value.
func TestScenario_S4(t *testing.T) {
	c := NewCache(DefaultConfig())
	defer c.Close()

	// SetMapValue one key at a time, mirroring a client issuing several
	// SetMapValue requests before one GetMap.
	if err := c.SetMapValue("key", "one", wire.Float32Value(2.4), 0, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMapValue("key", "two", wire.Float64Value(2.4), 0, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMapValue("key", "three", wire.StringValue("value"), 0, true); err != nil {
		t.Fatal(err)
	}
	if err := c.SetMapValue("key", "four", wire.BoolValue(true), 0, true); err != nil {
		t.Fatal(err)
	}

	m, err := c.GetMap("key", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(m))
	}
	if !m["one"].Equal(wire.Float32Value(2.4)) {
		t.Errorf("one: %+v", m["one"])
	}
	if !m["two"].Equal(wire.Float64Value(2.4)) {
		t.Errorf("two: %+v", m["two"])
	}
	if !m["three"].Equal(wire.StringValue("value")) {
		t.Errorf("three: %+v", m["three"])
	}
	if !m["four"].Equal(wire.BoolValue(true)) {
		t.Errorf("four: %+v", m["four"])
	}
}

func TestMap_SubKeyWriteDoesNotAffectContainerTTL(t *testing.T) {
	stub := &stubClock{}
	c := NewCache(Config{Clock: stub})
	defer c.Close()

	if err := c.SetMap("key", map[string]wire.TaggedValue{"a": wire.Int64Value(1)}, 100, true); err != nil {
		t.Fatal(err)
	}
	stub.advance(50 * time.Millisecond)
	// Sub-key writes ignore their ttlMs argument entirely; the container
	// TTL set by SetMap is untouched.
	if err := c.SetMapValue("key", "b", wire.Int64Value(2), 999, true); err != nil {
		t.Fatal(err)
	}
	stub.advance(80 * time.Millisecond)
	if c.Exists("key", true) {
		t.Fatal("expected container TTL (set by SetMap) to still govern expiry")
	}
}

func TestSweep_RemovesExpiredEntriesInBackground(t *testing.T) {
	stub := &stubClock{}
	var expired []string
	var mu sync.Mutex
	c := NewCache(Config{
		Clock:               stub,
		ExpireCheckInterval: 10 * time.Millisecond,
		OnKeyExpired: func(k string) {
			mu.Lock()
			expired = append(expired, k)
			mu.Unlock()
		},
	})
	defer c.Close()

	_ = c.SetString("key", strp("v"), 50, true)
	stub.advance(200 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(expired)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 {
		t.Fatalf("expected sweeper to expire key exactly once, got %v", expired)
	}
}

func TestSnapshot_ApplyRestoresState(t *testing.T) {
	c1 := NewCache(DefaultConfig())
	defer c1.Close()
	_ = c1.SetString("s", strp("v"), 0, true)
	_ = c1.SetCounter("c", 42, true)
	_ = c1.AddList("l", "a", 0, true)
	_ = c1.AddList("l", "b", 0, true)

	snap := c1.Snapshot()

	c2 := NewCache(DefaultConfig())
	defer c2.Close()
	c2.ApplySnapshot(snap)

	if v, found, _ := c2.GetString("s", true); !found || *v != "v" {
		t.Fatalf("string not restored: %v %v", v, found)
	}
	if n, err := c2.IncrementCounter("c", 0, true); err != nil || n != 42 {
		t.Fatalf("counter not restored: %v %v", n, err)
	}
	l, err := c2.GetList("l", true)
	if err != nil || len(l) != 2 {
		t.Fatalf("list not restored: %v %v", l, err)
	}
}

// --- test helpers ---

type stubClock struct {
	mu  sync.Mutex
	now int64
}

func (s *stubClock) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *stubClock) advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += int64(d)
}

