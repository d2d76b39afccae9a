// election_test.go: bully state machine tests against a fake peer sender
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package election

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/varelen/mimoria/internal/cluster"
)

type sentMessage struct {
	to        int32 // 0 for broadcast
	op        cluster.Operation
	requestID uint32
	payload   []byte
}

type fakeMesh struct {
	mu        sync.Mutex
	connected []int32
	sent      []sentMessage
}

func (f *fakeMesh) Send(peerID int32, op cluster.Operation, requestID uint32, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: peerID, op: op, requestID: requestID, payload: payload})
	return nil
}

func (f *fakeMesh) Broadcast(op cluster.Operation, requestID uint32, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{to: 0, op: op, requestID: requestID, payload: payload})
}

func (f *fakeMesh) ConnectedPeerIDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int32, len(f.connected))
	copy(out, f.connected)
	return out
}

func (f *fakeMesh) sentOps() []cluster.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]cluster.Operation, len(f.sent))
	for i, m := range f.sent {
		ops[i] = m.op
	}
	return ops
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(d)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func testConfig(mesh *fakeMesh, selfID int32) Config {
	return Config{
		SelfID:               selfID,
		Mesh:                 mesh,
		ElectionTimeout:      60 * time.Millisecond,
		HeartbeatInterval:    20 * time.Millisecond,
		MissingLeaderTimeout: 80 * time.Millisecond,
	}
}

func TestBully_NoHigherPeersBecomesLeaderImmediately(t *testing.T) {
	mesh := &fakeMesh{connected: []int32{1, 2}} // both lower than self (3)
	b := New(testConfig(mesh, 3))

	b.Start(context.Background())

	select {
	case <-b.ClusterReady():
	case <-time.After(time.Second):
		t.Fatal("expected immediate cluster-ready for an uncontested leader")
	}
	if !b.IsLeader() {
		t.Fatal("expected self to be leader")
	}

	found := false
	for _, op := range mesh.sentOps() {
		if op == cluster.OpVictory {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a Victory broadcast")
	}
}

func TestBully_HigherPeerAckThenVictorySetsLeader(t *testing.T) {
	mesh := &fakeMesh{connected: []int32{5}}
	b := New(testConfig(mesh, 1))

	b.Start(context.Background())

	waitFor(t, time.Second, func() bool {
		for _, op := range mesh.sentOps() {
			if op == cluster.OpElection {
				return true
			}
		}
		return false
	})

	// Peer 5 acks our Election by echoing it back.
	b.HandleMessage(5, cluster.OpElection, 0, nil)
	// Peer 5 later wins and announces Victory.
	b.HandleMessage(5, cluster.OpVictory, 0, encodeNodeID(5))

	select {
	case <-b.ClusterReady():
	case <-time.After(time.Second):
		t.Fatal("expected cluster-ready after learning the leader")
	}
	id, known := b.LeaderID()
	if !known || id != 5 {
		t.Fatalf("expected leader 5, got %d (known=%v)", id, known)
	}
	if b.IsLeader() {
		t.Fatal("did not expect self to be leader")
	}
}

func TestBully_ElectionFromLowerPeerAcksAndStartsOwnElection(t *testing.T) {
	mesh := &fakeMesh{connected: []int32{1, 9}}
	b := New(testConfig(mesh, 5))

	b.Start(context.Background())
	// self(5) has a higher peer (9), so it should be mid-election, not leader.
	select {
	case <-b.ClusterReady():
		t.Fatal("should not be ready while a higher peer exists")
	case <-time.After(30 * time.Millisecond):
	}

	b.HandleMessage(1, cluster.OpElection, 7, nil)

	waitFor(t, time.Second, func() bool {
		for _, m := range mesh.sent {
			if m.to == 1 && m.op == cluster.OpElection {
				return true
			}
		}
		return false
	})
}

func TestBully_NoResponseBecomesLeaderAfterTimeout(t *testing.T) {
	mesh := &fakeMesh{connected: []int32{9}}
	b := New(testConfig(mesh, 1))

	b.Start(context.Background())

	select {
	case <-b.ClusterReady():
	case <-time.After(time.Second):
		t.Fatal("expected self-promotion after the higher peer never acked")
	}
	if !b.IsLeader() {
		t.Fatal("expected self to be leader once the election timed out unanswered")
	}
}

func TestBully_MissingLeaderTriggersReElection(t *testing.T) {
	mesh := &fakeMesh{connected: []int32{2}}
	b := New(testConfig(mesh, 1))

	b.Start(context.Background())
	b.HandleMessage(2, cluster.OpVictory, 0, encodeNodeID(2))
	<-b.ClusterReady()

	electionsToPeer2 := func() int {
		mesh.mu.Lock()
		defer mesh.mu.Unlock()
		n := 0
		for _, m := range mesh.sent {
			if m.to == 2 && m.op == cluster.OpElection {
				n++
			}
		}
		return n
	}
	before := electionsToPeer2()

	// No further Alive arrives, so the missing-leader timeout should
	// fire and restart the election against peer 2.
	waitFor(t, time.Second, func() bool { return electionsToPeer2() > before })
}
