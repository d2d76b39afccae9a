// frame.go: length-prefix framing helpers shared by client and cluster wire formats
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package wire

import "github.com/agilira/go-errors"

const ErrCodeMalformedFrame errors.ErrorCode = "MIMORIA_MALFORMED_FRAME"

// NewErrMalformedFrame reports a frame whose declared length violates the
// protocol minimum, or any other receive-path framing violation.
func NewErrMalformedFrame(reason string) error {
	return errors.NewWithField(ErrCodeMalformedFrame, "malformed frame", "reason", reason)
}

// EncodeFrame prepends the big-endian payload length to a packet body and
// returns the full bytes ready to write to a connection.
func EncodeFrame(payload []byte) []byte {
	framed := make([]byte, HeaderSize+len(payload))
	PutUint32(framed, uint32(len(payload)))
	copy(framed[HeaderSize:], payload)
	return framed
}

// PutUint32 writes v as big-endian into the first 4 bytes of dst.
func PutUint32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}

// Uint32 reads a big-endian uint32 from the first 4 bytes of src.
func Uint32(src []byte) uint32 {
	return uint32(src[0])<<24 | uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
}

// ValidatePayloadLength checks a decoded length prefix against the
// protocol minimum (operation byte + request id, at least), returning a
// MalformedFrame error when violated.
func ValidatePayloadLength(n uint32) error {
	if n < MinPacketSize {
		return NewErrMalformedFrame("payload shorter than minimum packet size")
	}
	return nil
}
