// session.go: per-connection state the dispatcher needs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package protocol

// Session is the dispatcher's view of a connection: enough to gate
// authentication and to act as a pub/sub subscriber. internal/server's
// connection type implements this.
type Session interface {
	// ID uniquely identifies the connection (spec.md Sec. 4.E,
	// "monotonically increasing 64-bit connection id").
	ID() uint64

	// Notify delivers a published payload to this connection as a
	// Publish response packet (spec.md Sec. 4.D).
	Notify(channel string, payload []byte) error

	Authenticated() bool
	SetAuthenticated(bool)
}
