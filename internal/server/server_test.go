// server_test.go: unit tests for the accept loop and per-connection framing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package server

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/varelen/mimoria/internal/pubsub"
)

// echoDispatcher returns the payload it was given, verbatim, so tests
// can assert on framing without depending on internal/protocol.
type echoDispatcher struct{}

func (echoDispatcher) Dispatch(_ context.Context, _ Session, payload []byte) ([]byte, func()) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, func() {}
}

func startTestServer(t *testing.T) (addr string, srv *Server) {
	t.Helper()
	hub := pubsub.New(nil)
	srv = New(Config{
		Address:    "127.0.0.1:0",
		Hub:        hub,
		Dispatcher: echoDispatcher{},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv.listener = ln
	addr = ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			c := newConnection(conn, hub, nil, nil)
			srv.connCount.Add(1)
			srv.wg.Add(1)
			go func() {
				defer srv.wg.Done()
				c.serve(ctx, srv.cfg.Dispatcher)
			}()
		}
	}()

	return addr, srv
}

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := conn.Write(header[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(payload); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var header [4]byte
	if _, err := readFull(conn, header[:]); err != nil {
		t.Fatal(err)
	}
	n := binary.BigEndian.Uint32(header[:])
	body := make([]byte, n)
	if _, err := readFull(conn, body); err != nil {
		t.Fatal(err)
	}
	return body
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

func TestServer_EchoesFramedPayload(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	payload := []byte{0xAB, 0xCD, 0xEF}
	writeFrame(t, conn, payload)
	got := readFrame(t, conn)
	if len(got) != len(payload) || got[0] != payload[0] {
		t.Fatalf("expected echo of %v, got %v", payload, got)
	}
}

func TestServer_MalformedFrameClosesConnection(t *testing.T) {
	addr, _ := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 1) // below MinPacketSize
	if _, err := conn.Write(header[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte{0x00}); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 1)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	if err == nil {
		t.Fatal("expected connection to be closed after a malformed frame")
	}
}

func TestServer_ConnectionIDsAreMonotonic(t *testing.T) {
	hub := pubsub.New(nil)
	a := newConnection(&fakeConn{}, hub, nil, nil)
	b := newConnection(&fakeConn{}, hub, nil, nil)
	if b.ID() <= a.ID() {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a.ID(), b.ID())
	}
}

// fakeConn is a minimal net.Conn for identity-only tests that never
// perform I/O.
type fakeConn struct{}

func (fakeConn) Read([]byte) (int, error)         { return 0, net.ErrClosed }
func (fakeConn) Write(b []byte) (int, error)      { return len(b), nil }
func (fakeConn) Close() error                     { return nil }
func (fakeConn) LocalAddr() net.Addr              { return nil }
func (fakeConn) RemoteAddr() net.Addr             { return nil }
func (fakeConn) SetDeadline(time.Time) error      { return nil }
func (fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (fakeConn) SetWriteDeadline(time.Time) error { return nil }
