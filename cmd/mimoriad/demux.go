// demux.go: fans cluster messages out to the election and replication
// state machines, and adapts the election result into protocol.ClusterInfo
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package main

import (
	"github.com/varelen/mimoria/internal/cluster"
	"github.com/varelen/mimoria/internal/election"
	"github.com/varelen/mimoria/internal/replication"
)

// clusterDemux implements cluster.Handler by routing each operation to
// whichever of election/replication owns it, since a cluster.Mesh takes
// exactly one Handler (spec.md Sec. 4.G/4.H/4.I share one wire).
type clusterDemux struct {
	bully       *election.Bully
	coordinator *replication.Coordinator
}

func (d *clusterDemux) HandleMessage(peerID int32, op cluster.Operation, requestID uint32, payload []byte) {
	switch op {
	case cluster.OpElection, cluster.OpVictory, cluster.OpAlive:
		d.bully.HandleMessage(peerID, op, requestID, payload)
	case cluster.OpSync, cluster.OpSyncReply, cluster.OpReplicate:
		d.coordinator.HandleMessage(peerID, op, requestID, payload)
	}
}

func (d *clusterDemux) PeerLost(peerID int32) {
	d.bully.PeerLost(peerID)
	d.coordinator.PeerLost(peerID)
}

// clusterInfoAdapter implements protocol.ClusterInfo over the bully
// election result (spec.md Sec. 6 Login response fields).
type clusterInfoAdapter struct {
	selfID int32
	bully  *election.Bully
}

func (a *clusterInfoAdapter) ClusterID() int32 { return a.selfID }
func (a *clusterInfoAdapter) IsLeader() bool    { return a.bully.IsLeader() }
