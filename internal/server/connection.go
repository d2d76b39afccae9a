// connection.go: a single client connection's receive loop, framing,
// and serialized response writes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package server

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/protocol"
	"github.com/varelen/mimoria/internal/pubsub"
	"github.com/varelen/mimoria/internal/wire"
)

// Dispatcher is the subset of protocol.Dispatcher a connection needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess protocol.Session, payload []byte) ([]byte, func())
}

// Session is an alias of protocol.Session: the dispatcher's view of a
// connection. *Connection implements it.
type Session = protocol.Session

var nextConnID uint64

// Connection owns one accepted socket: its framed receive loop and a
// serialized writer so concurrent handler responses never interleave
// mid-packet (spec.md Sec. 4.E "Write ordering").
type Connection struct {
	id      uint64
	traceID string
	conn    net.Conn
	hub     *pubsub.Hub
	log     logging.Logger
	pool    *wire.Pool

	authenticated atomic.Bool

	writeMu sync.Mutex
}

// newConnection wraps conn, assigning it the next monotonically
// increasing connection id, a uuid trace id for log correlation across
// this connection's lifetime, and enabling TCP_NODELAY when possible.
func newConnection(conn net.Conn, hub *pubsub.Hub, log logging.Logger, pool *wire.Pool) *Connection {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if pool == nil {
		pool = wire.NewPool()
	}
	c := &Connection{
		id:      atomic.AddUint64(&nextConnID, 1),
		traceID: uuid.NewString(),
		conn:    conn,
		hub:     hub,
		log:     log,
		pool:    pool,
	}
	c.log.Info("server: connection accepted", "connection", c.id, "trace_id", c.traceID, "remote", conn.RemoteAddr())
	return c
}

func (c *Connection) ID() uint64             { return c.id }
func (c *Connection) TraceID() string        { return c.traceID }
func (c *Connection) Authenticated() bool     { return c.authenticated.Load() }
func (c *Connection) SetAuthenticated(v bool) { c.authenticated.Store(v) }

// Notify writes a Publish response packet carrying a pub/sub delivery
// (spec.md Sec. 4.D): op Publish, request id 0, status Ok, then the
// channel and payload. Serialized against other concurrent writers on
// this connection.
func (c *Connection) Notify(channel string, payload []byte) error {
	body := c.pool.Get()
	defer c.pool.Put(body)
	body.WriteByte(byte(protocol.OpPublish))
	body.WriteUint32(0)
	body.WriteByte(byte(protocol.StatusOk))
	body.WriteString(channel)
	body.WriteBytes(payload)
	return c.writeFramed(body.Bytes())
}

func (c *Connection) writeFramed(payload []byte) error {
	framed := wire.EncodeFrame(payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(framed)
	return err
}

// serve runs the per-connection receive loop until the connection ends,
// then unsubscribes it from every pub/sub channel before returning
// (spec.md Sec. 4.E).
func (c *Connection) serve(ctx context.Context, dispatcher Dispatcher) {
	var inFlight sync.WaitGroup
	defer func() {
		_ = c.conn.Close()
		inFlight.Wait()
		c.hub.UnsubscribeAll(c)
	}()

	var header [wire.HeaderSize]byte
	for {
		if _, err := io.ReadFull(c.conn, header[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(header[:])
		if err := wire.ValidatePayloadLength(n); err != nil {
			c.log.Debug("server: malformed frame, closing connection", "connection", c.id, "trace_id", c.traceID, "error", err)
			return
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}

		// Handlers run concurrently per connection; writeFramed serializes
		// the interleaved responses at packet granularity (spec.md Sec.
		// 4.E "Write ordering"). release returns the response's pooled
		// buffer only once writeFramed has copied it into the frame.
		inFlight.Add(1)
		go func(payload []byte) {
			defer inFlight.Done()
			resp, release := dispatcher.Dispatch(ctx, c, payload)
			defer release()
			if err := c.writeFramed(resp); err != nil {
				c.log.Debug("server: write failed", "connection", c.id, "trace_id", c.traceID, "error", err)
			}
		}(payload)
	}
}
