// coordinator.go: sync/async replication and follower resync over the
// cluster peer mesh (spec.md Sec. 4.I)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/varelen/mimoria/internal/cachekv"
	"github.com/varelen/mimoria/internal/cluster"
	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/protocol"
)

// Sender is the subset of cluster.Mesh replication needs.
type Sender interface {
	Send(peerID int32, op cluster.Operation, requestID uint32, payload []byte) error
	Broadcast(op cluster.Operation, requestID uint32, payload []byte)
	ConnectedPeerIDs() []int32
}

// Config configures a Coordinator.
type Config struct {
	SelfID int32
	Mesh   Sender
	Cache  *cachekv.Cache
	Logger logging.Logger

	// Sync selects the replication strategy: true blocks Replicate
	// until every connected follower acks (or disconnects) before
	// returning; false enqueues and flushes on a timer (spec.md Sec.
	// 4.I "Sync vs async replication").
	Sync bool

	// AsyncFlushInterval is the batched drain period when Sync is
	// false. Defaults to 50ms.
	AsyncFlushInterval time.Duration

	// AckTimeout bounds how long the sync strategy waits for a still-
	// connected follower to ack before giving up and logging a warning
	// (spec.md does not specify a bound; an unbounded wait would let one
	// unresponsive follower hang every client write indefinitely).
	// Defaults to 5s.
	AckTimeout time.Duration

	// OnReplicate is invoked once per mutating operation forwarded to
	// followers, letting a caller mirror the event into an external
	// metrics recorder (internal/telemetry). Optional.
	OnReplicate func()
}

type pendingAck struct {
	mu   sync.Mutex
	want map[int32]bool
	done chan struct{}
}

func (p *pendingAck) ack(peerID int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.want[peerID]; !ok {
		return
	}
	delete(p.want, peerID)
	if len(p.want) == 0 {
		close(p.done)
	}
}

type queuedReplicate struct {
	correlationID uint32
	op            protocol.Operation
	requestID     uint32
	payload       []byte
}

// Coordinator implements protocol.Replicator (for the node currently
// leading) and cluster.Handler (on every node, leading or following) for
// the Sync/SyncReply/Replicate cluster messages.
type Coordinator struct {
	cfg Config

	mu            sync.Mutex
	nextCorrelate uint32
	pending       map[uint32]*pendingAck

	asyncMu    sync.Mutex
	asyncQueue []queuedReplicate
	stopAsync  chan struct{}

	resyncMu  sync.Mutex
	resyncing *resyncWait
}

type resyncWait struct {
	leaderID int32
	done     chan error
}

// New builds a Coordinator. The background async flusher, if
// configured, starts immediately and runs until the process exits --
// there is no Stop, mirroring the cache's own background sweeper
// lifecycle.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.AsyncFlushInterval <= 0 {
		cfg.AsyncFlushInterval = 50 * time.Millisecond
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.OnReplicate == nil {
		cfg.OnReplicate = func() {}
	}
	c := &Coordinator{
		cfg:       cfg,
		pending:   make(map[uint32]*pendingAck),
		stopAsync: make(chan struct{}),
	}
	if !cfg.Sync {
		go c.asyncFlushLoop()
	}
	return c
}

// Replicate implements protocol.Replicator, called by the dispatcher
// once per successful mutating operation on the leader.
func (c *Coordinator) Replicate(ctx context.Context, op protocol.Operation, requestID uint32, payload []byte) error {
	c.cfg.OnReplicate()
	if c.cfg.Sync {
		return c.replicateSync(ctx, op, requestID, payload)
	}
	c.enqueueAsync(op, requestID, payload)
	return nil
}

func (c *Coordinator) replicateSync(ctx context.Context, op protocol.Operation, requestID uint32, payload []byte) error {
	followers := c.cfg.Mesh.ConnectedPeerIDs()
	if len(followers) == 0 {
		return nil
	}

	correlationID := c.newCorrelationID()
	ack := &pendingAck{want: make(map[int32]bool, len(followers)), done: make(chan struct{})}
	for _, id := range followers {
		ack.want[id] = true
	}
	c.mu.Lock()
	c.pending[correlationID] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	msg := encodeReplicateData(correlationID, op, requestID, payload)
	c.cfg.Mesh.Broadcast(cluster.OpReplicate, 0, msg)

	select {
	case <-ack.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.AckTimeout):
		c.cfg.Logger.Warn("replication: sync ack timed out", "op", op, "correlation_id", correlationID)
		return nil
	}
}

func (c *Coordinator) enqueueAsync(op protocol.Operation, requestID uint32, payload []byte) {
	correlationID := c.newCorrelationID()
	c.asyncMu.Lock()
	c.asyncQueue = append(c.asyncQueue, queuedReplicate{
		correlationID: correlationID,
		op:            op,
		requestID:     requestID,
		payload:       payload,
	})
	c.asyncMu.Unlock()
}

func (c *Coordinator) asyncFlushLoop() {
	ticker := time.NewTicker(c.cfg.AsyncFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flushAsync()
		case <-c.stopAsync:
			return
		}
	}
}

// flushAsync drains the queue in enqueue order, preserving per-key
// ordering across the batch (spec.md Sec. 4.I "async replication
// preserves per-key order").
func (c *Coordinator) flushAsync() {
	c.asyncMu.Lock()
	batch := c.asyncQueue
	c.asyncQueue = nil
	c.asyncMu.Unlock()

	for _, item := range batch {
		msg := encodeReplicateData(item.correlationID, item.op, item.requestID, item.payload)
		c.cfg.Mesh.Broadcast(cluster.OpReplicate, 0, msg)
	}
}

func (c *Coordinator) newCorrelationID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCorrelate++
	return c.nextCorrelate
}

// HandleMessage implements cluster.Handler for the replication-relevant
// subset of cluster operations (OpSync, OpSyncReply, OpReplicate).
func (c *Coordinator) HandleMessage(peerID int32, op cluster.Operation, requestID uint32, payload []byte) {
	switch op {
	case cluster.OpSync:
		c.serveSync(peerID)

	case cluster.OpSyncReply:
		c.handleSyncReply(payload)

	case cluster.OpReplicate:
		c.handleReplicate(peerID, payload)
	}
}

// PeerLost implements cluster.Handler. A follower that disconnects
// mid-wait counts as acknowledged (spec.md Sec. 4.I "Sync replicator"
// design note: a disconnect cannot be retried against, so it cannot
// block the write any further than it already has).
func (c *Coordinator) PeerLost(peerID int32) {
	c.mu.Lock()
	pending := make([]*pendingAck, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, p)
	}
	c.mu.Unlock()
	for _, p := range pending {
		p.ack(peerID)
	}
}

func (c *Coordinator) handleReplicate(peerID int32, payload []byte) {
	msg, err := decodeReplicateMessage(payload)
	if err != nil {
		c.cfg.Logger.Warn("replication: malformed Replicate message", "from", peerID, "error", err)
		return
	}

	if msg.kind == kindAck {
		c.mu.Lock()
		ack, ok := c.pending[msg.correlationID]
		c.mu.Unlock()
		if ok {
			ack.ack(peerID)
		}
		return
	}

	if err := Apply(c.cfg.Cache, msg.op, msg.payload); err != nil {
		c.cfg.Logger.Warn("replication: failed to apply replicated operation", "op", msg.op, "error", err)
	}
	_ = c.cfg.Mesh.Send(peerID, cluster.OpReplicate, 0, encodeReplicateAck(msg.correlationID))
}

func (c *Coordinator) serveSync(peerID int32) {
	snapshot := encodeSnapshot(c.cfg.Cache.Snapshot())
	if err := c.cfg.Mesh.Send(peerID, cluster.OpSyncReply, 0, snapshot); err != nil {
		c.cfg.Logger.Warn("replication: failed to send Sync reply", "peer", peerID, "error", err)
	}
}

func (c *Coordinator) handleSyncReply(payload []byte) {
	c.resyncMu.Lock()
	waiter := c.resyncing
	c.resyncMu.Unlock()
	if waiter == nil {
		return
	}

	entries, err := decodeSnapshot(payload)
	if err != nil {
		waiter.done <- fmt.Errorf("replication: decode snapshot reply: %w", err)
		return
	}
	c.cfg.Cache.Clear()
	c.cfg.Cache.ApplySnapshot(entries)
	waiter.done <- nil
}

// RequestResync sends Sync to leaderID and blocks until the reply has
// been applied, suitable as election.Config.OnBecomeFollower (spec.md
// Sec. 4.I "Resync").
func (c *Coordinator) RequestResync(ctx context.Context, leaderID int32) error {
	waiter := &resyncWait{leaderID: leaderID, done: make(chan error, 1)}
	c.resyncMu.Lock()
	c.resyncing = waiter
	c.resyncMu.Unlock()
	defer func() {
		c.resyncMu.Lock()
		if c.resyncing == waiter {
			c.resyncing = nil
		}
		c.resyncMu.Unlock()
	}()

	if err := c.cfg.Mesh.Send(leaderID, cluster.OpSync, 0, nil); err != nil {
		return fmt.Errorf("replication: send Sync to leader %d: %w", leaderID, err)
	}

	select {
	case err := <-waiter.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
