// dispatcher.go: operation code -> handler multiplexing, authentication
// gating, and response writing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package protocol

import (
	"context"

	"github.com/varelen/mimoria/internal/cachekv"
	"github.com/varelen/mimoria/internal/clock"
	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/pubsub"
	"github.com/varelen/mimoria/internal/wire"
)

// Config configures a Dispatcher.
type Config struct {
	Cache      *cachekv.Cache
	Hub        *pubsub.Hub
	Password   string
	Clock      clock.Provider
	Logger     logging.Logger
	Cluster    ClusterInfo
	Replicator Replicator // nil on a standalone node

	// ConnectionCount reports the server's current connection count for
	// GetStats (spec.md Sec. 6).
	ConnectionCount func() uint64
}

// Dispatcher selects a handler by operation, authenticates, performs the
// work, and produces a response packet (spec.md Sec. 4.F).
type Dispatcher struct {
	cache      *cachekv.Cache
	hub        *pubsub.Hub
	password   string
	clock      clock.Provider
	logger     logging.Logger
	cluster    ClusterInfo
	replicator Replicator
	connCount  func() uint64
	startTime  int64
	pool       *wire.Pool
}

// New builds a Dispatcher. Missing Cluster/ConnectionCount/Logger/Clock
// are defaulted.
func New(cfg Config) *Dispatcher {
	if cfg.Cluster == nil {
		cfg.Cluster = StandaloneCluster{}
	}
	if cfg.ConnectionCount == nil {
		cfg.ConnectionCount = func() uint64 { return 0 }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	return &Dispatcher{
		cache:      cfg.Cache,
		hub:        cfg.Hub,
		password:   cfg.Password,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		cluster:    cfg.Cluster,
		replicator: cfg.Replicator,
		connCount:  cfg.ConnectionCount,
		startTime:  cfg.Clock.Now(),
		pool:       wire.NewPool(),
	}
}

// Dispatch decodes one packet's operation and request id, invokes the
// matching handler, and returns the encoded response packet payload
// (without the outer length prefix -- internal/server adds that) along
// with a release function the caller must invoke once it is done with
// the returned bytes -- including after they have been written to the
// socket (spec.md Sec. 4.A/Sec. 5: buffers are pooled and release is
// mandatory on every exit path, not just the happy one).
//
// Errors internal to a handler are converted to an Error response for
// this request only; they never propagate to other in-flight requests
// on the same or other connections (spec.md Sec. 7 "Propagation
// policy").
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, payload []byte) ([]byte, func()) {
	req := d.pool.Get()
	defer d.pool.Put(req)
	req.SetForRead(payload)

	opByte, err := req.ReadByte()
	if err != nil {
		return d.finish(d.errorResponse(Operation(0), 0, err))
	}
	op := Operation(opByte)

	requestID, err := req.ReadUint32()
	if err != nil {
		return d.finish(d.errorResponse(op, 0, err))
	}

	if op != OpLogin && !sess.Authenticated() {
		return d.finish(d.errorResponse(op, requestID, NewErrUnauthenticated(op)))
	}

	handler, ok := handlers[op]
	if !ok {
		return d.finish(d.errorResponse(op, requestID, NewErrUnknownOperation(opByte)))
	}

	resp, err := handler(ctx, d, sess, requestID, req)
	if err != nil {
		return d.finish(d.errorResponse(op, requestID, err))
	}
	return d.finish(resp)
}

// finish pairs a response buffer's bytes with the closure that returns it
// to the pool, so callers can defer release past the point the bytes are
// actually written.
func (d *Dispatcher) finish(buf *wire.Buffer) ([]byte, func()) {
	return buf.Bytes(), func() { d.pool.Put(buf) }
}

// handlerFunc performs one operation's work and returns the full encoded
// response packet (operation, request id, status, body) as a
// still-pool-owned buffer; the caller (Dispatch) is responsible for its
// eventual release.
type handlerFunc func(ctx context.Context, d *Dispatcher, sess Session, requestID uint32, req *wire.Buffer) (*wire.Buffer, error)

var handlers map[Operation]handlerFunc

func init() {
	handlers = map[Operation]handlerFunc{
		OpLogin:            handleLogin,
		OpGetString:        handleGetString,
		OpSetString:        handleSetString,
		OpGetList:          handleGetList,
		OpAddList:          handleAddList,
		OpRemoveList:       handleRemoveList,
		OpContainsList:     handleContainsList,
		OpExists:           handleExists,
		OpDelete:           handleDelete,
		OpGetObjectBinary:  handleGetBytes,
		OpSetObjectBinary:  handleSetBytes,
		OpGetStats:         handleGetStats,
		OpGetBytes:         handleGetBytes,
		OpSetBytes:         handleSetBytes,
		OpSetCounter:       handleSetCounter,
		OpIncrementCounter: handleIncrementCounter,
		OpBulk:             handleBulk,
		OpGetMapValue:      handleGetMapValue,
		OpSetMapValue:      handleSetMapValue,
		OpGetMap:           handleGetMap,
		OpSetMap:           handleSetMap,
		OpSubscribe:        handleSubscribe,
		OpUnsubscribe:      handleUnsubscribe,
		OpPublish:          handlePublish,
	}
}

// okResponse builds a Status=Ok response packet from a pool-owned body
// buffer, which it consumes and releases back to the pool immediately --
// callers must not use body after this call.
func (d *Dispatcher) okResponse(op Operation, requestID uint32, body *wire.Buffer) *wire.Buffer {
	out := d.pool.Get()
	out.WriteByte(byte(op))
	out.WriteUint32(requestID)
	out.WriteByte(byte(StatusOk))
	out.WriteRaw(body.Bytes())
	d.pool.Put(body)
	return out
}

func (d *Dispatcher) errorResponse(op Operation, requestID uint32, err error) *wire.Buffer {
	out := d.pool.Get()
	out.WriteByte(byte(op))
	out.WriteUint32(requestID)
	out.WriteByte(byte(StatusError))
	out.WriteString(err.Error())
	return out
}

// replicateIfMutating forwards a successfully committed mutating
// operation to the configured Replicator, when one is configured
// (standalone nodes have none). originalPayload is everything after the
// request id in the original request packet.
func (d *Dispatcher) replicateIfMutating(ctx context.Context, op Operation, requestID uint32, originalPayload []byte) error {
	if d.replicator == nil || !IsMutating(op) {
		return nil
	}
	return d.replicator.Replicate(ctx, op, requestID, originalPayload)
}
