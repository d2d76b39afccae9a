// replication.go: the interface the dispatcher uses to fan mutations out
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package protocol

import "context"

// Replicator is implemented by internal/replication's sync and async
// strategies. The dispatcher calls Replicate once per successful
// mutating operation, after the local commit, passing the operation code
// and its original request payload (everything after the request id) so
// the replicator can re-encode it as a cluster Replicate message.
//
// The sync strategy blocks until every currently connected follower has
// acknowledged (spec.md Sec. 4.I); the async strategy enqueues and
// returns immediately. Either way, a non-nil error means the client
// response must report failure even though the local commit already
// happened -- this mirrors the source coupling replication into the
// write response path (spec.md Design Notes "Sync replicator").
type Replicator interface {
	Replicate(ctx context.Context, op Operation, requestID uint32, payload []byte) error
}

// ClusterInfo supplies the Login response's cluster id and leadership
// flag (spec.md Sec. 6). A standalone (non-clustered) dispatcher uses
// the zero-value StandaloneCluster.
type ClusterInfo interface {
	ClusterID() int32
	IsLeader() bool
}

// StandaloneCluster is the ClusterInfo for a node with no cluster block
// configured: cluster id 0, never a leader.
type StandaloneCluster struct{}

func (StandaloneCluster) ClusterID() int32 { return 0 }
func (StandaloneCluster) IsLeader() bool   { return false }
