// wire.go: cluster-mesh encodings for replicated mutations and
// full-state resync (spec.md Sec. 4.I)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package replication

import (
	"fmt"

	"github.com/varelen/mimoria/internal/cachekv"
	"github.com/varelen/mimoria/internal/protocol"
	"github.com/varelen/mimoria/internal/wire"
)

const (
	kindData byte = iota
	kindAck
)

// encodeReplicateData builds an OpReplicate payload carrying a mutating
// client operation to be applied on every follower, correlated by id for
// the sync strategy's ack bookkeeping.
func encodeReplicateData(correlationID uint32, op protocol.Operation, clientRequestID uint32, payload []byte) []byte {
	b := wire.NewBuffer(10 + len(payload))
	b.WriteByte(kindData)
	b.WriteUint32(correlationID)
	b.WriteByte(byte(op))
	b.WriteUint32(clientRequestID)
	b.WriteBytes(payload)
	return b.Bytes()
}

// encodeReplicateAck builds the follower's acknowledgement that it
// applied correlationID.
func encodeReplicateAck(correlationID uint32) []byte {
	b := wire.NewBuffer(5)
	b.WriteByte(kindAck)
	b.WriteUint32(correlationID)
	return b.Bytes()
}

type replicateMessage struct {
	kind            byte
	correlationID   uint32
	op              protocol.Operation
	clientRequestID uint32
	payload         []byte
}

func decodeReplicateMessage(raw []byte) (replicateMessage, error) {
	b := wire.NewBuffer(len(raw))
	b.SetForRead(raw)

	kind, err := b.ReadByte()
	if err != nil {
		return replicateMessage{}, err
	}
	correlationID, err := b.ReadUint32()
	if err != nil {
		return replicateMessage{}, err
	}
	msg := replicateMessage{kind: kind, correlationID: correlationID}
	if kind == kindAck {
		return msg, nil
	}

	opByte, err := b.ReadByte()
	if err != nil {
		return replicateMessage{}, err
	}
	msg.op = protocol.Operation(opByte)
	msg.clientRequestID, err = b.ReadUint32()
	if err != nil {
		return replicateMessage{}, err
	}
	msg.payload, err = b.ReadBytes()
	if err != nil {
		return replicateMessage{}, err
	}
	return msg, nil
}

// encodeSnapshot serializes a leader's full cache state for a follower's
// Sync reply (spec.md Sec. 4.I "Resync").
func encodeSnapshot(entries []cachekv.SnapshotEntry) []byte {
	b := wire.NewBuffer(64 * (len(entries) + 1))
	b.WriteVarUint(uint64(len(entries)))
	for _, e := range entries {
		b.WriteString(e.Key)
		b.WriteByte(byte(e.Shape))
		b.WriteInt64(e.RemainingTTLMs)
		switch e.Shape {
		case cachekv.ShapeString:
			writeOptionalString(b, e.Str)
		case cachekv.ShapeBytes:
			b.WriteBytes(e.Bytes)
		case cachekv.ShapeList:
			b.WriteVarUint(uint64(len(e.List)))
			for _, item := range e.List {
				b.WriteString(item)
			}
		case cachekv.ShapeMap:
			b.WriteVarUint(uint64(len(e.Map)))
			for sub, v := range e.Map {
				b.WriteString(sub)
				b.WriteTaggedValue(v)
			}
		case cachekv.ShapeCounter:
			b.WriteInt64(e.Counter)
		}
	}
	return b.Bytes()
}

func decodeSnapshot(raw []byte) ([]cachekv.SnapshotEntry, error) {
	b := wire.NewBuffer(len(raw))
	b.SetForRead(raw)

	count, err := b.ReadVarUint()
	if err != nil {
		return nil, err
	}
	entries := make([]cachekv.SnapshotEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		key, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		shapeByte, err := b.ReadByte()
		if err != nil {
			return nil, err
		}
		shape := cachekv.Shape(shapeByte)
		ttl, err := b.ReadInt64()
		if err != nil {
			return nil, err
		}
		e := cachekv.SnapshotEntry{Key: key, Shape: shape, RemainingTTLMs: ttl}
		switch shape {
		case cachekv.ShapeString:
			e.Str, err = readOptionalString(b)
		case cachekv.ShapeBytes:
			e.Bytes, err = b.ReadBytes()
		case cachekv.ShapeList:
			var n uint64
			n, err = b.ReadVarUint()
			if err == nil {
				e.List = make([]string, n)
				for j := uint64(0); j < n; j++ {
					e.List[j], err = b.ReadString()
					if err != nil {
						break
					}
				}
			}
		case cachekv.ShapeMap:
			var n uint64
			n, err = b.ReadVarUint()
			if err == nil {
				e.Map = make(map[string]wire.TaggedValue, n)
				for j := uint64(0); j < n; j++ {
					var sub string
					sub, err = b.ReadString()
					if err != nil {
						break
					}
					var v wire.TaggedValue
					v, err = b.ReadTaggedValue()
					if err != nil {
						break
					}
					e.Map[sub] = v
				}
			}
		case cachekv.ShapeCounter:
			e.Counter, err = b.ReadInt64()
		default:
			err = fmt.Errorf("replication: unknown snapshot shape %d", shapeByte)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func writeOptionalString(b *wire.Buffer, v *string) {
	if v == nil {
		b.WriteBool(false)
		return
	}
	b.WriteBool(true)
	b.WriteString(*v)
}

func readOptionalString(b *wire.Buffer) (*string, error) {
	present, err := b.ReadBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	s, err := b.ReadString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}
