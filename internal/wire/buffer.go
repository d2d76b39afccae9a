// buffer.go: length-prefixed packet encode/decode for the Mimoria wire protocol
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package wire

import (
	"encoding/binary"
	"math"

	"github.com/agilira/go-errors"
)

// HeaderSize is the length of the big-endian payload-length prefix that
// precedes every packet on the wire.
const HeaderSize = 4

// MinPacketSize is the smallest packet the protocol accepts: the 1-byte
// operation code plus the 4-byte request id, not counting the length
// header itself.
const MinPacketSize = 5

// Error codes for malformed-frame conditions raised while decoding.
const (
	ErrCodeBufferUnderrun errors.ErrorCode = "MIMORIA_BUFFER_UNDERRUN"
	ErrCodeVarUintTooLong errors.ErrorCode = "MIMORIA_VARUINT_TOO_LONG"
)

// NewErrBufferUnderrun reports that a read asked for more bytes than remain.
func NewErrBufferUnderrun(want, have int) error {
	return errors.NewWithContext(ErrCodeBufferUnderrun, "buffer underrun", map[string]interface{}{
		"requested": want,
		"available": have,
	})
}

// NewErrVarUintTooLong reports a LEB128 varint that never terminated.
func NewErrVarUintTooLong() error {
	return errors.New(ErrCodeVarUintTooLong, "variable-length integer exceeds 10 bytes")
}

// Buffer is a growable byte buffer with cursor-based reads and appending
// writes, used to encode requests/responses and decode received packets.
// It is not safe for concurrent use; callers serialize access per packet.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns an empty Buffer with capacity pre-reserved.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Reset clears the buffer for reuse, keeping its backing array.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}

// Bytes returns the buffer's current contents.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written (or, after SetForRead, remaining
// to be written once more via Reset).
func (b *Buffer) Len() int { return len(b.data) }

// Remaining returns how many unread bytes are left when used as a reader.
func (b *Buffer) Remaining() int { return len(b.data) - b.pos }

// PeekRemaining returns the unread tail of the buffer without advancing
// the read cursor. The returned slice aliases the buffer's storage;
// callers that retain it beyond the current read must copy it.
func (b *Buffer) PeekRemaining() []byte { return b.data[b.pos:] }

// SetForRead loads raw bytes into the buffer and rewinds the read cursor,
// turning an encode buffer into a decode buffer without copying.
func (b *Buffer) SetForRead(data []byte) {
	b.data = data
	b.pos = 0
}

// --- fixed-width writes ---

func (b *Buffer) WriteByte(v byte) { b.data = append(b.data, v) }

func (b *Buffer) WriteBool(v bool) {
	if v {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
}

func (b *Buffer) WriteInt32(v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) WriteUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }

func (b *Buffer) WriteUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.data = append(b.data, tmp[:]...)
}

func (b *Buffer) WriteFloat32(v float32) {
	b.WriteUint32(math.Float32bits(v))
}

func (b *Buffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

// --- variable-length unsigned integers (LEB128-style, 7 data bits + continuation) ---

func (b *Buffer) WriteVarUint(v uint64) {
	for v >= 0x80 {
		b.data = append(b.data, byte(v)|0x80)
		v >>= 7
	}
	b.data = append(b.data, byte(v))
}

// --- text / bytes with a var-uint length prefix ---

func (b *Buffer) WriteBytes(v []byte) {
	b.WriteVarUint(uint64(len(v)))
	b.data = append(b.data, v...)
}

func (b *Buffer) WriteString(v string) {
	b.WriteBytes([]byte(v))
}

// WriteRaw appends v verbatim, with no length prefix. Used to splice an
// already-encoded sub-buffer (e.g. a handler's response body) into an
// outer packet buffer.
func (b *Buffer) WriteRaw(v []byte) {
	b.data = append(b.data, v...)
}

// --- reads ---

func (b *Buffer) need(n int) error {
	if b.Remaining() < n {
		return NewErrBufferUnderrun(n, b.Remaining())
	}
	return nil
}

func (b *Buffer) ReadByte() (byte, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadByte()
	return v != 0, err
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b.data[b.pos : b.pos+4])
	b.pos += 4
	return v, nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadUint64() (uint64, error) {
	if err := b.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(b.data[b.pos : b.pos+8])
	b.pos += 8
	return v, nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

func (b *Buffer) ReadVarUint() (uint64, error) {
	var result uint64
	var shift uint
	for i := 0; i < 10; i++ {
		by, err := b.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= uint64(by&0x7f) << shift
		if by&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, NewErrVarUintTooLong()
}

func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadVarUint()
	if err != nil {
		return nil, err
	}
	if err := b.need(int(n)); err != nil {
		return nil, err
	}
	v := make([]byte, n)
	copy(v, b.data[b.pos:b.pos+int(n)])
	b.pos += int(n)
	return v, nil
}

func (b *Buffer) ReadString() (string, error) {
	v, err := b.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(v), nil
}
