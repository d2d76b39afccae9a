// peer.go: a single established, handshaken mesh connection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package cluster

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/varelen/mimoria/internal/wire"
)

// Peer is one mesh connection to another node, after its handshake has
// completed. Writes are serialized; reads happen on the single
// goroutine peer.readLoop owns.
type Peer struct {
	ID   int32
	conn net.Conn

	writeMu sync.Mutex
	closed  atomic.Bool

	nextRequestID uint32
}

func newPeer(id int32, conn net.Conn) *Peer {
	return &Peer{ID: id, conn: conn}
}

// Send writes one framed cluster message to the peer.
func (p *Peer) Send(op Operation, requestID uint32, payload []byte) error {
	b := wire.NewBuffer(5 + len(payload))
	b.WriteByte(byte(op))
	b.WriteUint32(requestID)
	b.WriteRaw(payload)

	framed := wire.EncodeFrame(b.Bytes())
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.conn.Write(framed)
	return err
}

// NextRequestID returns a fresh request id for this peer's request/reply
// correlation, unique per Peer instance.
func (p *Peer) NextRequestID() uint32 {
	return atomic.AddUint32(&p.nextRequestID, 1)
}

// Close closes the underlying connection, idempotently.
func (p *Peer) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		return p.conn.Close()
	}
	return nil
}

// readLoop decodes framed cluster messages until the connection ends,
// invoking onMessage for each and onClose exactly once at the end.
func (p *Peer) readLoop(onMessage func(op Operation, requestID uint32, payload []byte), onClose func()) {
	defer onClose()

	var header [wire.HeaderSize]byte
	for {
		if _, err := io.ReadFull(p.conn, header[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:])
		if err := wire.ValidatePayloadLength(n); err != nil {
			return
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(p.conn, payload); err != nil {
			return
		}

		b := wire.NewBuffer(len(payload))
		b.SetForRead(payload)
		opByte, err := b.ReadByte()
		if err != nil {
			return
		}
		requestID, err := b.ReadUint32()
		if err != nil {
			return
		}
		onMessage(Operation(opByte), requestID, b.PeekRemaining())
	}
}
