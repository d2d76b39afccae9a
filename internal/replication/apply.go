// apply.go: replays a replicated mutating operation against the local
// cache, bypassing the keyed lock the leader already serialized under
// (spec.md Sec. 4.I "Follower application").
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

// Apply decodes a mutating operation's original client payload and
// commits it to cache exactly as the leader did, with take=false so no
// second round of key-locking happens.
func Apply(cache *cachekv.Cache, op protocol.Operation, payload []byte) error {
	req := wire.NewBuffer(len(payload))
	req.SetForRead(payload)

	switch op {
	case protocol.OpSetString:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		value, err := readOptionalString(req)
		if err != nil {
			return err
		}
		ttl, err := req.ReadUint64()
		if err != nil {
			return err
		}
		return cache.SetString(key, value, int64(ttl), false)

	case protocol.OpSetBytes, protocol.OpSetObjectBinary:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		value, err := req.ReadBytes()
		if err != nil {
			return err
		}
		ttl, err := req.ReadUint64()
		if err != nil {
			return err
		}
		return cache.SetBytes(key, value, int64(ttl), false)

	case protocol.OpAddList:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		value, err := req.ReadString()
		if err != nil {
			return err
		}
		ttl, err := req.ReadUint64()
		if err != nil {
			return err
		}
		return cache.AddList(key, value, int64(ttl), false)

	case protocol.OpRemoveList:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		value, err := req.ReadString()
		if err != nil {
			return err
		}
		return cache.RemoveList(key, value, false)

	case protocol.OpDelete:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		cache.Delete(key, false)
		return nil

	case protocol.OpSetCounter:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		n, err := req.ReadInt64()
		if err != nil {
			return err
		}
		return cache.SetCounter(key, n, false)

	case protocol.OpIncrementCounter:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		delta, err := req.ReadInt64()
		if err != nil {
			return err
		}
		_, err = cache.IncrementCounter(key, delta, false)
		return err

	case protocol.OpSetMapValue:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		sub, err := req.ReadString()
		if err != nil {
			return err
		}
		v, err := req.ReadTaggedValue()
		if err != nil {
			return err
		}
		ttl, err := req.ReadUint64()
		if err != nil {
			return err
		}
		return cache.SetMapValue(key, sub, v, int64(ttl), false)

	case protocol.OpSetMap:
		key, err := req.ReadString()
		if err != nil {
			return err
		}
		count, err := req.ReadVarUint()
		if err != nil {
			return err
		}
		m := make(map[string]wire.TaggedValue, count)
		for i := uint64(0); i < count; i++ {
			sub, err := req.ReadString()
			if err != nil {
				return err
			}
			v, err := req.ReadTaggedValue()
			if err != nil {
				return err
			}
			m[sub] = v
		}
		ttl, err := req.ReadUint64()
		if err != nil {
			return err
		}
		return cache.SetMap(key, m, int64(ttl), false)

	default:
		return fmt.Errorf("replication: operation %d is not replicable", byte(op))
	}
}
