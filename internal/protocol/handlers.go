// handlers.go: per-operation request decoding, cache invocation, and
// response encoding
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package protocol

import (
	"context"

	"github.com/varelen/mimoria/internal/cachekv"
	"github.com/varelen/mimoria/internal/wire"
)

// snapshotPayload copies the unread tail of req so it can be handed to
// the replicator after the handler has finished decoding from req.
func snapshotPayload(req *wire.Buffer) []byte {
	tail := req.PeekRemaining()
	cp := make([]byte, len(tail))
	copy(cp, tail)
	return cp
}

func handleLogin(_ context.Context, d *Dispatcher, sess Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	version, err := req.ReadUint32()
	if err != nil {
		return nil, err
	}
	password, err := req.ReadString()
	if err != nil {
		return nil, err
	}

	if version != ProtocolVersion {
		sess.SetAuthenticated(false)
		return nil, NewErrProtocolVersionMismatch(ProtocolVersion, version)
	}
	if password != d.password {
		sess.SetAuthenticated(false)
		return nil, NewErrInvalidCredentials()
	}

	sess.SetAuthenticated(true)
	body := d.pool.Get()
	body.WriteBool(true)
	body.WriteInt32(d.cluster.ClusterID())
	body.WriteBool(d.cluster.IsLeader())
	return d.okResponse(OpLogin, requestID, body), nil
}

func handleGetString(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	v, found, err := d.cache.GetString(key, true)
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteBool(found)
	if found {
		writeOptionalString(body, v)
	}
	return d.okResponse(OpGetString, requestID, body), nil
}

func handleSetString(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	value, err := readOptionalString(req)
	if err != nil {
		return nil, err
	}
	ttl, err := req.ReadUint64()
	if err != nil {
		return nil, err
	}

	if err := d.cache.SetString(key, value, int64(ttl), true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpSetString, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpSetString, requestID, d.pool.Get()), nil
}

func handleGetBytes(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	v, found, err := d.cache.GetBytes(key, true)
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteBool(found)
	if found {
		body.WriteBytes(v)
	}
	return d.okResponse(OpGetBytes, requestID, body), nil
}

func handleSetBytes(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	value, err := req.ReadBytes()
	if err != nil {
		return nil, err
	}
	ttl, err := req.ReadUint64()
	if err != nil {
		return nil, err
	}

	if err := d.cache.SetBytes(key, value, int64(ttl), true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpSetBytes, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpSetBytes, requestID, d.pool.Get()), nil
}

func handleGetList(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	items, err := d.cache.GetList(key, true)
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteVarUint(uint64(len(items)))
	for _, item := range items {
		body.WriteString(item)
	}
	return d.okResponse(OpGetList, requestID, body), nil
}

func handleAddList(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	value, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	ttl, err := req.ReadUint64()
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, cachekv.NewErrNullListElement("add_list")
	}

	if err := d.cache.AddList(key, value, int64(ttl), true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpAddList, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpAddList, requestID, d.pool.Get()), nil
}

func handleRemoveList(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	value, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, cachekv.NewErrNullListElement("remove_list")
	}

	if err := d.cache.RemoveList(key, value, true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpRemoveList, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpRemoveList, requestID, d.pool.Get()), nil
}

func handleContainsList(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	value, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	ok, err := d.cache.ContainsList(key, value, true)
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteBool(ok)
	return d.okResponse(OpContainsList, requestID, body), nil
}

func handleExists(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteBool(d.cache.Exists(key, true))
	return d.okResponse(OpExists, requestID, body), nil
}

func handleDelete(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	d.cache.Delete(key, true)
	if err := d.replicateIfMutating(ctx, OpDelete, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpDelete, requestID, d.pool.Get()), nil
}

func handleSetCounter(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	n, err := req.ReadInt64()
	if err != nil {
		return nil, err
	}
	if err := d.cache.SetCounter(key, n, true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpSetCounter, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpSetCounter, requestID, d.pool.Get()), nil
}

func handleIncrementCounter(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	delta, err := req.ReadInt64()
	if err != nil {
		return nil, err
	}
	result, err := d.cache.IncrementCounter(key, delta, true)
	if err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpIncrementCounter, requestID, payload); err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteInt64(result)
	return d.okResponse(OpIncrementCounter, requestID, body), nil
}

func handleGetMapValue(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	sub, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	v, err := d.cache.GetMapValue(key, sub, true)
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteTaggedValue(v)
	return d.okResponse(OpGetMapValue, requestID, body), nil
}

func handleSetMapValue(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	sub, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	v, err := req.ReadTaggedValue()
	if err != nil {
		return nil, err
	}
	ttl, err := req.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := d.cache.SetMapValue(key, sub, v, int64(ttl), true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpSetMapValue, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpSetMapValue, requestID, d.pool.Get()), nil
}

func handleGetMap(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	m, err := d.cache.GetMap(key, true)
	if err != nil {
		return nil, err
	}
	body := d.pool.Get()
	body.WriteVarUint(uint64(len(m)))
	for sub, v := range m {
		body.WriteString(sub)
		body.WriteTaggedValue(v)
	}
	return d.okResponse(OpGetMap, requestID, body), nil
}

func handleSetMap(ctx context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	payload := snapshotPayload(req)

	key, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	count, err := req.ReadVarUint()
	if err != nil {
		return nil, err
	}
	m := make(map[string]wire.TaggedValue, count)
	for i := uint64(0); i < count; i++ {
		sub, err := req.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := req.ReadTaggedValue()
		if err != nil {
			return nil, err
		}
		m[sub] = v
	}
	ttl, err := req.ReadUint64()
	if err != nil {
		return nil, err
	}
	if err := d.cache.SetMap(key, m, int64(ttl), true); err != nil {
		return nil, err
	}
	if err := d.replicateIfMutating(ctx, OpSetMap, requestID, payload); err != nil {
		return nil, err
	}
	return d.okResponse(OpSetMap, requestID, d.pool.Get()), nil
}

func handleSubscribe(_ context.Context, d *Dispatcher, sess Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	channel, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	d.hub.Subscribe(channel, sess)
	return d.okResponse(OpSubscribe, requestID, d.pool.Get()), nil
}

func handleUnsubscribe(_ context.Context, d *Dispatcher, sess Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	channel, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	d.hub.Unsubscribe(channel, sess)
	return d.okResponse(OpUnsubscribe, requestID, d.pool.Get()), nil
}

func handlePublish(_ context.Context, d *Dispatcher, _ Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	channel, err := req.ReadString()
	if err != nil {
		return nil, err
	}
	payload, err := req.ReadBytes()
	if err != nil {
		return nil, err
	}
	d.hub.Publish(channel, payload)
	return d.okResponse(OpPublish, requestID, d.pool.Get()), nil
}

// handleBulk executes a sequence of sub-operations inlined in the
// request body, restricted to bulkAllowedOps (spec.md Design Notes
// "Bulk operation partial implementation"). Each sub-operation's result
// (or rejection) is reported independently; one sub-operation failing
// does not abort the remaining ones.
func handleBulk(ctx context.Context, d *Dispatcher, sess Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error) {
	count, err := req.ReadVarUint()
	if err != nil {
		return nil, err
	}

	body := d.pool.Get()
	body.WriteVarUint(count)

	for i := uint64(0); i < count; i++ {
		opByte, err := req.ReadByte()
		if err != nil {
			d.pool.Put(body)
			return nil, err
		}
		op := Operation(opByte)

		if !IsBulkAllowed(op) {
			rejErr := NewErrBulkOperationRejected(op)
			body.WriteByte(byte(op))
			body.WriteByte(byte(StatusError))
			body.WriteString(rejErr.Error())
			continue
		}

		handler := handlers[op]
		sub, err := handler(ctx, d, sess, requestID, req)
		if err != nil {
			body.WriteByte(byte(op))
			body.WriteByte(byte(StatusError))
			body.WriteString(err.Error())
			continue
		}

		// sub is a fully encoded packet (op, request id, status, body) in a
		// freshly built, never-read buffer, so its cursor already sits at
		// position 0; only the status and body belong inside the bulk
		// envelope.
		if _, err := sub.ReadByte(); err != nil { // discard echoed op
			d.pool.Put(sub)
			d.pool.Put(body)
			return nil, err
		}
		if _, err := sub.ReadUint32(); err != nil { // discard echoed request id
			d.pool.Put(sub)
			d.pool.Put(body)
			return nil, err
		}
		status, err := sub.ReadByte()
		if err != nil {
			d.pool.Put(sub)
			d.pool.Put(body)
			return nil, err
		}
		body.WriteByte(byte(op))
		body.WriteByte(status)
		body.WriteRaw(sub.PeekRemaining())
		d.pool.Put(sub)
	}

	return d.okResponse(OpBulk, requestID, body), nil
}

func handleGetStats(_ context.Context, d *Dispatcher, _ Session, requestID uint32, _ *wire.Buffer) (*wire.Buffer, error) {
	uptimeSec := (d.clock.Now() - d.startTime) / int64(1e9)
	snap := d.cache.Stats()

	body := d.pool.Get()
	body.WriteVarUint(uint64(uptimeSec))
	body.WriteUint64(d.connCount())
	body.WriteUint64(uint64(d.cache.Size()))
	body.WriteUint64(snap.Hits)
	body.WriteUint64(snap.Misses)
	body.WriteFloat32(float32(snap.HitRatio()))
	return d.okResponse(OpGetStats, requestID, body), nil
}

// --- optional-string helpers (String(optional text) value shape) ---

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
