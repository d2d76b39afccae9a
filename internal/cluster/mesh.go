// mesh.go: peer mesh topology, mutual handshake, and node-ready signaling
//
// Grounded on the teacher's accept-loop idiom (balios has none of its
// own networking, so this follows the pack's distributed-cache example
// for dial fan-out via golang.org/x/sync/errgroup) and spec.md Sec. 4.G.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cluster

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/wire"
)

// NodeInfo is one static peer entry (spec.md Sec. 4.G "Topology").
type NodeInfo struct {
	ID   int32
	Host string
	Port int
}

// Handler receives decoded messages from any established peer
// connection, inbound or outbound, and is notified when a peer's
// connections are both gone.
type Handler interface {
	HandleMessage(peerID int32, op Operation, requestID uint32, payload []byte)
	PeerLost(peerID int32)
}

// Config configures a Mesh.
type Config struct {
	SelfID     int32
	ListenAddr string
	Peers      []NodeInfo
	Password   string
	Handler    Handler
	Logger     logging.Logger
}

// Mesh manages the peer connection topology: listening for inbound
// peers, dialing every configured peer, and signaling node-ready once
// both directions are fully established (spec.md Sec. 4.G).
type Mesh struct {
	cfg Config

	mu       sync.Mutex
	outbound map[int32]*Peer
	inbound  map[int32]bool

	readyOnce sync.Once
	readyCh   chan struct{}

	listener net.Listener
}

// New builds a Mesh that has not yet started listening or dialing.
func New(cfg Config) *Mesh {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Mesh{
		cfg:      cfg,
		outbound: make(map[int32]*Peer),
		inbound:  make(map[int32]bool),
		readyCh:  make(chan struct{}),
	}
}

// SetHandler assigns the message handler. Mesh construction and the
// handler's own construction are mutually dependent (the handler needs
// a Sender view of this Mesh); callers build the Mesh first, construct
// the handler against it, then call SetHandler before Start.
func (m *Mesh) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Handler = h
}

// Ready returns a channel closed once the mesh is fully established:
// every configured peer has both an accepted inbound connection and a
// completed outbound dial (spec.md Sec. 4.G "node-ready").
func (m *Mesh) Ready() <-chan struct{} { return m.readyCh }

// Start listens on ListenAddr and dials every configured peer
// concurrently. It returns nil once the listener is bound and every
// outbound dial has completed its handshake, or the first dial or
// handshake error, in which case the remaining dials are cancelled; no
// dial is retried. node-ready fires asynchronously as the remaining
// inbound handshakes land.
func (m *Mesh) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", m.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("cluster: listen %s: %w", m.cfg.ListenAddr, err)
	}
	m.listener = ln

	go m.acceptLoop(ctx)

	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range m.cfg.Peers {
		peer := peer
		g.Go(func() error {
			return m.dialPeer(gctx, peer)
		})
	}
	return g.Wait()
}

func (m *Mesh) acceptLoop(ctx context.Context) {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				m.cfg.Logger.Warn("cluster: accept failed", "error", err)
				return
			}
		}
		go m.handleInbound(conn)
	}
}

func (m *Mesh) handleInbound(conn net.Conn) {
	peerID, err := receiveHandshake(conn, m.cfg.Password)
	if err != nil {
		m.cfg.Logger.Warn("cluster: inbound handshake failed", "error", err)
		_ = conn.Close()
		return
	}
	if err := sendHandshake(conn, m.cfg.SelfID, m.cfg.Password); err != nil {
		m.cfg.Logger.Warn("cluster: inbound handshake reply failed", "peer", peerID, "error", err)
		_ = conn.Close()
		return
	}

	peer := newPeer(peerID, conn)
	m.mu.Lock()
	m.inbound[peerID] = true
	m.mu.Unlock()
	m.checkReady()

	peer.readLoop(func(op Operation, requestID uint32, payload []byte) {
		m.cfg.Handler.HandleMessage(peerID, op, requestID, payload)
	}, func() {
		m.mu.Lock()
		delete(m.inbound, peerID)
		_, stillOutbound := m.outbound[peerID]
		m.mu.Unlock()
		if !stillOutbound {
			m.cfg.Handler.PeerLost(peerID)
		}
	})
}

func (m *Mesh) dialPeer(ctx context.Context, peer NodeInfo) error {
	addr := fmt.Sprintf("%s:%d", peer.Host, peer.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("cluster: dial peer %d at %s: %w", peer.ID, addr, err)
	}

	if err := sendHandshake(conn, m.cfg.SelfID, m.cfg.Password); err != nil {
		_ = conn.Close()
		return fmt.Errorf("cluster: handshake to peer %d: %w", peer.ID, err)
	}
	gotID, err := receiveHandshake(conn, m.cfg.Password)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("cluster: handshake reply from peer %d: %w", peer.ID, err)
	}
	if gotID != peer.ID {
		_ = conn.Close()
		return fmt.Errorf("cluster: peer at %s identified as %d, expected %d", addr, gotID, peer.ID)
	}

	p := newPeer(peer.ID, conn)
	m.mu.Lock()
	m.outbound[peer.ID] = p
	m.mu.Unlock()
	m.checkReady()

	go p.readLoop(func(op Operation, requestID uint32, payload []byte) {
		m.cfg.Handler.HandleMessage(peer.ID, op, requestID, payload)
	}, func() {
		m.mu.Lock()
		delete(m.outbound, peer.ID)
		_, stillInbound := m.inbound[peer.ID]
		m.mu.Unlock()
		if !stillInbound {
			m.cfg.Handler.PeerLost(peer.ID)
		}
	})

	return nil
}

func (m *Mesh) checkReady() {
	m.mu.Lock()
	ready := len(m.outbound) >= len(m.cfg.Peers) && len(m.inbound) >= len(m.cfg.Peers)
	m.mu.Unlock()
	if ready {
		m.readyOnce.Do(func() { close(m.readyCh) })
	}
}

// Send delivers a message to one peer by id, over its outbound
// connection. Returns an error if the peer is not currently connected.
func (m *Mesh) Send(peerID int32, op Operation, requestID uint32, payload []byte) error {
	m.mu.Lock()
	p, ok := m.outbound[peerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("cluster: no outbound connection to peer %d", peerID)
	}
	return p.Send(op, requestID, payload)
}

// Broadcast delivers a message to every currently connected peer,
// skipping (but not failing for) peers that are not reachable -- a
// disconnected follower resyncs on reconnect (spec.md Sec. 4.I).
func (m *Mesh) Broadcast(op Operation, requestID uint32, payload []byte) {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.outbound))
	for _, p := range m.outbound {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		if err := p.Send(op, requestID, payload); err != nil {
			m.cfg.Logger.Warn("cluster: broadcast to peer failed", "peer", p.ID, "error", err)
		}
	}
}

// ConnectedPeerIDs returns the ids of peers currently reachable over an
// outbound connection, used by the sync replicator to know which
// followers it must await acknowledgements from.
func (m *Mesh) ConnectedPeerIDs() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int32, 0, len(m.outbound))
	for id := range m.outbound {
		ids = append(ids, id)
	}
	return ids
}

func sendHandshake(conn net.Conn, selfID int32, password string) error {
	b := wire.NewBuffer(16)
	b.WriteInt32(selfID)
	b.WriteString(password)
	framed := wire.EncodeFrame(prependOpAndRequestID(OpHandshake, 0, b.Bytes()))
	_, err := conn.Write(framed)
	return err
}

func prependOpAndRequestID(op Operation, requestID uint32, body []byte) []byte {
	b := wire.NewBuffer(5 + len(body))
	b.WriteByte(byte(op))
	b.WriteUint32(requestID)
	b.WriteRaw(body)
	return b.Bytes()
}

func receiveHandshake(conn net.Conn, password string) (int32, error) {
	var header [wire.HeaderSize]byte
	if _, err := readFull(conn, header[:]); err != nil {
		return 0, err
	}
	n := wire.Uint32(header[:])
	if err := wire.ValidatePayloadLength(n); err != nil {
		return 0, err
	}
	payload := make([]byte, n)
	if _, err := readFull(conn, payload); err != nil {
		return 0, err
	}

	b := wire.NewBuffer(len(payload))
	b.SetForRead(payload)
	opByte, err := b.ReadByte()
	if err != nil {
		return 0, err
	}
	if Operation(opByte) != OpHandshake {
		return 0, fmt.Errorf("cluster: expected Handshake, got operation %d", opByte)
	}
	if _, err := b.ReadUint32(); err != nil { // request id, unused for Handshake
		return 0, err
	}
	peerID, err := b.ReadInt32()
	if err != nil {
		return 0, err
	}
	got, err := b.ReadString()
	if err != nil {
		return 0, err
	}
	if got != password {
		return 0, fmt.Errorf("cluster: password mismatch")
	}
	return peerID, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
