// Package election implements bully leader election over the cluster
// peer mesh (spec.md Sec. 4.H).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package election

import (
	"context"
	"sync"
	"time"

	"github.com/varelen/mimoria/internal/cluster"
	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/wire"
)

// Sender is the subset of cluster.Mesh election needs to speak to peers.
type Sender interface {
	Send(peerID int32, op cluster.Operation, requestID uint32, payload []byte) error
	Broadcast(op cluster.Operation, requestID uint32, payload []byte)
	ConnectedPeerIDs() []int32
}

// Config configures a Bully state machine.
type Config struct {
	SelfID int32
	Mesh   Sender
	Logger logging.Logger

	ElectionTimeout      time.Duration
	HeartbeatInterval    time.Duration
	MissingLeaderTimeout time.Duration

	// OnBecomeFollower is invoked once per election result where another
	// node wins, to run the Sync resync round-trip (spec.md Sec. 4.I
	// "Resync") before cluster-ready fires. A non-nil error is logged;
	// the node does not retry automatically.
	OnBecomeFollower func(ctx context.Context, leaderID int32) error

	// OnElectionStarted is invoked each time this node begins a new
	// election term, letting a caller mirror the event into an external
	// metrics recorder (internal/telemetry). Optional.
	OnElectionStarted func()
}

// Bully implements the leader election state machine described in
// spec.md Sec. 4.H. It satisfies cluster.Handler so it can be wired
// directly as a Mesh's message sink.
type Bully struct {
	cfg Config

	ctx context.Context

	mu          sync.Mutex
	hasLeader   bool
	leaderID    int32
	inElection  bool
	ackReceived bool
	lastAliveAt time.Time

	electionTimer *time.Timer
	missingTimer  *time.Timer
	heartbeat     *time.Ticker
	stopHeartbeat chan struct{}

	clusterReadyOnce sync.Once
	clusterReadyCh   chan struct{}
}

// New builds a Bully that has not yet started.
func New(cfg Config) *Bully {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.OnElectionStarted == nil {
		cfg.OnElectionStarted = func() {}
	}
	return &Bully{
		cfg:            cfg,
		ctx:            context.Background(),
		clusterReadyCh: make(chan struct{}),
	}
}

// ClusterReady returns a channel closed once this node has either
// become leader or completed a follower resync (spec.md Sec. 4.H
// "Cluster-ready").
func (b *Bully) ClusterReady() <-chan struct{} { return b.clusterReadyCh }

// LeaderID reports the current leader, if any.
func (b *Bully) LeaderID() (id int32, known bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.leaderID, b.hasLeader
}

// IsLeader reports whether this node is the current leader.
func (b *Bully) IsLeader() bool {
	id, known := b.LeaderID()
	return known && id == b.cfg.SelfID
}

// Start begins the node's first election, per spec.md Sec. 4.H rule 1
// ("On node-ready, each node starts an election"). ctx is retained for
// the lifetime of the state machine, driving heartbeats and resync.
func (b *Bully) Start(ctx context.Context) {
	b.ctx = ctx
	b.startElection()
}

// HandleMessage implements cluster.Handler, processing one decoded
// election-relevant cluster message.
func (b *Bully) HandleMessage(peerID int32, op cluster.Operation, requestID uint32, payload []byte) {
	switch op {
	case cluster.OpElection:
		if peerID < b.cfg.SelfID {
			// A genuinely new election from a lower id (spec.md Sec.
			// 4.H rule 3): acknowledge by echoing Election back, then
			// contest any still-higher peers ourselves.
			_ = b.cfg.Mesh.Send(peerID, cluster.OpElection, requestID, nil)
			b.startElection()
			return
		}
		// peerID > self: this is the higher peer's echo acknowledging
		// the Election we sent it (spec.md Sec. 4.H rule 2).
		b.mu.Lock()
		b.ackReceived = true
		b.mu.Unlock()

	case cluster.OpVictory:
		leaderID, err := decodeNodeID(payload)
		if err != nil {
			b.cfg.Logger.Warn("election: malformed Victory payload", "from", peerID, "error", err)
			return
		}
		b.setLeader(leaderID)

	case cluster.OpAlive:
		b.mu.Lock()
		b.lastAliveAt = time.Now()
		b.mu.Unlock()
		b.resetMissingLeaderTimer()
	}
}

// PeerLost implements cluster.Handler. A lost leader is handled by the
// missing-leader timeout rather than eagerly here, since a transient
// reconnect should not force an unnecessary election.
func (b *Bully) PeerLost(peerID int32) {
	b.cfg.Logger.Warn("election: peer connection lost", "peer", peerID)
}

func (b *Bully) startElection() {
	b.mu.Lock()
	if b.inElection {
		b.mu.Unlock()
		return
	}
	b.inElection = true
	b.ackReceived = false
	b.mu.Unlock()
	b.cfg.OnElectionStarted()

	higher := b.higherPeers()
	if len(higher) == 0 {
		b.becomeLeader()
		return
	}

	b.cfg.Logger.Info("election: starting", "self", b.cfg.SelfID, "contacting", higher)
	for _, id := range higher {
		_ = b.cfg.Mesh.Send(id, cluster.OpElection, 0, nil)
	}
	b.armElectionTimer()
}

func (b *Bully) armElectionTimer() {
	b.mu.Lock()
	if b.electionTimer != nil {
		b.electionTimer.Stop()
	}
	b.electionTimer = time.AfterFunc(b.cfg.ElectionTimeout, b.onElectionTimeout)
	b.mu.Unlock()
}

func (b *Bully) onElectionTimeout() {
	b.mu.Lock()
	if b.hasLeader {
		b.mu.Unlock()
		return
	}
	gotAck := b.ackReceived
	b.mu.Unlock()

	if gotAck {
		// A higher peer acknowledged but never sent Victory: restart
		// (spec.md Sec. 4.H rule 2, "if none arrives within the
		// timeout, restart election").
		b.mu.Lock()
		b.inElection = false
		b.mu.Unlock()
		b.startElection()
		return
	}

	// No higher peer responded at all: declare self leader.
	b.becomeLeader()
}

func (b *Bully) becomeLeader() {
	b.mu.Lock()
	if b.electionTimer != nil {
		b.electionTimer.Stop()
	}
	b.hasLeader = true
	b.leaderID = b.cfg.SelfID
	b.inElection = false
	b.mu.Unlock()

	b.cfg.Logger.Info("election: became leader", "self", b.cfg.SelfID)
	b.cfg.Mesh.Broadcast(cluster.OpVictory, 0, encodeNodeID(b.cfg.SelfID))
	b.startHeartbeat()
	b.signalClusterReady()
}

func (b *Bully) setLeader(leaderID int32) {
	b.mu.Lock()
	alreadyKnew := b.hasLeader && b.leaderID == leaderID
	b.hasLeader = true
	b.leaderID = leaderID
	b.inElection = false
	b.mu.Unlock()

	b.resetMissingLeaderTimer()

	if leaderID == b.cfg.SelfID {
		b.signalClusterReady()
		return
	}
	if alreadyKnew {
		return
	}

	b.cfg.Logger.Info("election: following leader", "self", b.cfg.SelfID, "leader", leaderID)
	if b.cfg.OnBecomeFollower == nil {
		b.signalClusterReady()
		return
	}
	go func() {
		if err := b.cfg.OnBecomeFollower(b.ctx, leaderID); err != nil {
			b.cfg.Logger.Error("election: resync against leader failed", "leader", leaderID, "error", err)
			return
		}
		b.signalClusterReady()
	}()
}

func (b *Bully) resetMissingLeaderTimer() {
	b.mu.Lock()
	if b.missingTimer != nil {
		b.missingTimer.Stop()
	}
	b.missingTimer = time.AfterFunc(b.cfg.MissingLeaderTimeout, b.onMissingLeader)
	b.mu.Unlock()
}

func (b *Bully) onMissingLeader() {
	b.mu.Lock()
	isFollower := b.hasLeader && b.leaderID != b.cfg.SelfID
	if isFollower {
		b.hasLeader = false
	}
	b.mu.Unlock()

	if isFollower {
		b.cfg.Logger.Warn("election: leader missing, starting new election", "self", b.cfg.SelfID)
		b.startElection()
	}
}

func (b *Bully) startHeartbeat() {
	b.mu.Lock()
	if b.heartbeat != nil {
		b.mu.Unlock()
		return
	}
	b.heartbeat = time.NewTicker(b.cfg.HeartbeatInterval)
	b.stopHeartbeat = make(chan struct{})
	ticker := b.heartbeat
	stop := b.stopHeartbeat
	ctx := b.ctx
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				b.cfg.Mesh.Broadcast(cluster.OpAlive, 0, encodeNodeID(b.cfg.SelfID))
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (b *Bully) higherPeers() []int32 {
	var out []int32
	for _, id := range b.cfg.Mesh.ConnectedPeerIDs() {
		if id > b.cfg.SelfID {
			out = append(out, id)
		}
	}
	return out
}

func (b *Bully) signalClusterReady() {
	b.clusterReadyOnce.Do(func() { close(b.clusterReadyCh) })
}

func encodeNodeID(id int32) []byte {
	buf := wire.NewBuffer(4)
	buf.WriteInt32(id)
	return buf.Bytes()
}

func decodeNodeID(payload []byte) (int32, error) {
	buf := wire.NewBuffer(len(payload))
	buf.SetForRead(payload)
	return buf.ReadInt32()
}
