// tagged.go: wire encoding for TaggedValue (map sub-key values)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package wire

import "github.com/agilira/go-errors"

// Tag identifies the variant carried by a TaggedValue on the wire.
type Tag byte

const (
	TagNull    Tag = 0
	TagInt64   Tag = 1
	TagFloat32 Tag = 2
	TagFloat64 Tag = 3
	TagBool    Tag = 4
	TagString  Tag = 5
	TagBytes   Tag = 6
)

// ErrCodeUnknownTag is raised when a tag byte doesn't match a known variant.
const ErrCodeUnknownTag errors.ErrorCode = "MIMORIA_UNKNOWN_TAG"

func NewErrUnknownTag(tag byte) error {
	return errors.NewWithField(ErrCodeUnknownTag, "unknown tagged-value tag", "tag", tag)
}

// TaggedValue is the sum type a Map entry's sub-key resolves to.
type TaggedValue struct {
	Tag     Tag
	Int64   int64
	Float32 float32
	Float64 float64
	Bool    bool
	String  string
	Bytes   []byte
}

func NullValue() TaggedValue              { return TaggedValue{Tag: TagNull} }
func Int64Value(v int64) TaggedValue      { return TaggedValue{Tag: TagInt64, Int64: v} }
func Float32Value(v float32) TaggedValue  { return TaggedValue{Tag: TagFloat32, Float32: v} }
func Float64Value(v float64) TaggedValue  { return TaggedValue{Tag: TagFloat64, Float64: v} }
func BoolValue(v bool) TaggedValue        { return TaggedValue{Tag: TagBool, Bool: v} }
func StringValue(v string) TaggedValue    { return TaggedValue{Tag: TagString, String: v} }
func BytesValue(v []byte) TaggedValue     { return TaggedValue{Tag: TagBytes, Bytes: v} }

// Equal compares two tagged values by tag and payload, used by tests that
// verify round-trip map encoding.
func (t TaggedValue) Equal(o TaggedValue) bool {
	if t.Tag != o.Tag {
		return false
	}
	switch t.Tag {
	case TagNull:
		return true
	case TagInt64:
		return t.Int64 == o.Int64
	case TagFloat32:
		return t.Float32 == o.Float32
	case TagFloat64:
		return t.Float64 == o.Float64
	case TagBool:
		return t.Bool == o.Bool
	case TagString:
		return t.String == o.String
	case TagBytes:
		if len(t.Bytes) != len(o.Bytes) {
			return false
		}
		for i := range t.Bytes {
			if t.Bytes[i] != o.Bytes[i] {
				return false
			}
		}
		return true
	}
	return false
}

// WriteTaggedValue appends the 1-byte tag followed by the natural encoding.
func (b *Buffer) WriteTaggedValue(v TaggedValue) {
	b.WriteByte(byte(v.Tag))
	switch v.Tag {
	case TagNull:
	case TagInt64:
		b.WriteInt64(v.Int64)
	case TagFloat32:
		b.WriteFloat32(v.Float32)
	case TagFloat64:
		b.WriteFloat64(v.Float64)
	case TagBool:
		b.WriteBool(v.Bool)
	case TagString:
		b.WriteString(v.String)
	case TagBytes:
		b.WriteBytes(v.Bytes)
	}
}

// ReadTaggedValue reads a tag byte and its natural encoding.
func (b *Buffer) ReadTaggedValue() (TaggedValue, error) {
	tagByte, err := b.ReadByte()
	if err != nil {
		return TaggedValue{}, err
	}
	tag := Tag(tagByte)
	switch tag {
	case TagNull:
		return NullValue(), nil
	case TagInt64:
		v, err := b.ReadInt64()
		return Int64Value(v), err
	case TagFloat32:
		v, err := b.ReadFloat32()
		return Float32Value(v), err
	case TagFloat64:
		v, err := b.ReadFloat64()
		return Float64Value(v), err
	case TagBool:
		v, err := b.ReadBool()
		return BoolValue(v), err
	case TagString:
		v, err := b.ReadString()
		return StringValue(v), err
	case TagBytes:
		v, err := b.ReadBytes()
		return BytesValue(v), err
	default:
		return TaggedValue{}, NewErrUnknownTag(tagByte)
	}
}
