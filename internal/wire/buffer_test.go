// buffer_test.go: unit tests for framed buffer encode/decode
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package wire

import "testing"

func TestBuffer_FixedWidthRoundTrip(t *testing.T) {
	b := NewBuffer(64)
	b.WriteByte(0x7f)
	b.WriteBool(true)
	b.WriteInt32(-12345)
	b.WriteUint32(987654321)
	b.WriteInt64(-1)
	b.WriteUint64(18446744073709551615)
	b.WriteFloat32(2.5)
	b.WriteFloat64(3.14159)

	b.SetForRead(b.Bytes())

	if v, err := b.ReadByte(); err != nil || v != 0x7f {
		t.Fatalf("ReadByte: %v %v", v, err)
	}
	if v, err := b.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool: %v %v", v, err)
	}
	if v, err := b.ReadInt32(); err != nil || v != -12345 {
		t.Fatalf("ReadInt32: %v %v", v, err)
	}
	if v, err := b.ReadUint32(); err != nil || v != 987654321 {
		t.Fatalf("ReadUint32: %v %v", v, err)
	}
	if v, err := b.ReadInt64(); err != nil || v != -1 {
		t.Fatalf("ReadInt64: %v %v", v, err)
	}
	if v, err := b.ReadUint64(); err != nil || v != 18446744073709551615 {
		t.Fatalf("ReadUint64: %v %v", v, err)
	}
	if v, err := b.ReadFloat32(); err != nil || v != 2.5 {
		t.Fatalf("ReadFloat32: %v %v", v, err)
	}
	if v, err := b.ReadFloat64(); err != nil || v != 3.14159 {
		t.Fatalf("ReadFloat64: %v %v", v, err)
	}
}

func TestBuffer_VarUintRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40, 18446744073709551615}
	for _, c := range cases {
		b := NewBuffer(16)
		b.WriteVarUint(c)
		b.SetForRead(b.Bytes())
		got, err := b.ReadVarUint()
		if err != nil {
			t.Fatalf("ReadVarUint(%d): %v", c, err)
		}
		if got != c {
			t.Errorf("varuint round trip: want %d got %d", c, got)
		}
	}
}

func TestBuffer_StringAndBytes(t *testing.T) {
	b := NewBuffer(64)
	b.WriteString("Mimoria")
	b.WriteBytes([]byte{1, 2, 3, 4})
	b.SetForRead(b.Bytes())

	s, err := b.ReadString()
	if err != nil || s != "Mimoria" {
		t.Fatalf("ReadString: %q %v", s, err)
	}
	data, err := b.ReadBytes()
	if err != nil || len(data) != 4 {
		t.Fatalf("ReadBytes: %v %v", data, err)
	}
}

func TestBuffer_UnderrunError(t *testing.T) {
	b := NewBuffer(4)
	b.WriteByte(1)
	b.SetForRead(b.Bytes())
	_, _ = b.ReadByte()
	if _, err := b.ReadByte(); err == nil {
		t.Fatal("expected buffer underrun error")
	}
}

func TestBuffer_TaggedValueRoundTrip(t *testing.T) {
	values := []TaggedValue{
		NullValue(),
		Int64Value(-42),
		Float32Value(2.4),
		Float64Value(2.4),
		BoolValue(true),
		StringValue("value"),
		BytesValue([]byte{1, 2, 3, 4}),
	}

	b := NewBuffer(128)
	for _, v := range values {
		b.WriteTaggedValue(v)
	}
	b.SetForRead(b.Bytes())

	for i, want := range values {
		got, err := b.ReadTaggedValue()
		if err != nil {
			t.Fatalf("value %d: %v", i, err)
		}
		if !got.Equal(want) {
			t.Errorf("value %d: want %+v got %+v", i, want, got)
		}
	}
}

func TestPool_GetPutResets(t *testing.T) {
	p := NewPool()
	buf := p.Get()
	buf.WriteString("leftover")
	p.Put(buf)

	buf2 := p.Get()
	if buf2.Len() != 0 {
		t.Errorf("expected reset buffer, got len %d", buf2.Len())
	}
}

func TestEncodeFrame(t *testing.T) {
	payload := []byte{1, 2, 3}
	framed := EncodeFrame(payload)
	if len(framed) != HeaderSize+len(payload) {
		t.Fatalf("unexpected frame length: %d", len(framed))
	}
	if Uint32(framed) != uint32(len(payload)) {
		t.Fatalf("unexpected length prefix: %d", Uint32(framed))
	}
}

func TestValidatePayloadLength(t *testing.T) {
	if err := ValidatePayloadLength(MinPacketSize); err != nil {
		t.Errorf("minimum size should be valid: %v", err)
	}
	if err := ValidatePayloadLength(MinPacketSize - 1); err == nil {
		t.Error("expected malformed frame error below minimum size")
	}
}
