// table_test.go: unit tests for the keyed async lock table
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestTable_MutualExclusionSameKey(t *testing.T) {
	table := New()
	var counter int64
	var wg sync.WaitGroup

	const goroutines = 50
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				release := table.Acquire("key", true)
				counter++ // not atomic: relies on exclusion to stay race-free
				release()
			}
		}()
	}
	wg.Wait()

	if counter != goroutines*iterations {
		t.Fatalf("expected %d, got %d", goroutines*iterations, counter)
	}
	if table.Len() != 0 {
		t.Errorf("expected table to auto-empty, got %d residual slots", table.Len())
	}
}

func TestTable_DifferentKeysIndependent(t *testing.T) {
	table := New()
	var wg sync.WaitGroup
	var a, b int64

	wg.Add(2)
	go func() {
		defer wg.Done()
		release := table.Acquire("a", true)
		defer release()
		atomic.AddInt64(&a, 1)
	}()
	go func() {
		defer wg.Done()
		release := table.Acquire("b", true)
		defer release()
		atomic.AddInt64(&b, 1)
	}()
	wg.Wait()

	if a != 1 || b != 1 {
		t.Fatalf("expected independent progress, got a=%d b=%d", a, b)
	}
}

func TestTable_TakeFalseIsNoop(t *testing.T) {
	table := New()
	release := table.Acquire("key", false)
	release()
	if table.Len() != 0 {
		t.Errorf("take=false must not create a table entry, got %d", table.Len())
	}
}

func TestTable_ReleaserIdempotent(t *testing.T) {
	table := New()
	release := table.Acquire("key", true)
	release()
	release() // must not panic or double-unlock
	if table.Len() != 0 {
		t.Errorf("expected empty table after release, got %d", table.Len())
	}
}

func TestTable_AutoRemovesAfterContention(t *testing.T) {
	table := New()
	var wg sync.WaitGroup
	const goroutines = 20

	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release := table.Acquire("hot", true)
			release()
		}()
	}
	close(start)
	wg.Wait()

	if got := table.Len(); got != 0 {
		t.Errorf("expected table to drain to 0 entries, got %d", got)
	}
}
