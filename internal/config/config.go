// config.go: node configuration, with defaulting and hot-reload of the
// fields safe to change without a restart
//
// Mirrors the teacher's Config/Validate()/HotConfig pattern
// (hot-reload.go): normalize rather than reject, and only a narrow set
// of fields are reloadable at runtime.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package config

import (
	"fmt"
	"time"

	"github.com/varelen/mimoria/internal/cachekv"
)

// ClusterNode is one static peer entry in the cluster topology
// (spec.md Sec. 4.G "Topology").
type ClusterNode struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ClusterConfig configures active-active clustering. A zero-value
// ClusterConfig (Enabled == false) runs the node standalone.
type ClusterConfig struct {
	Enabled  bool          `json:"enabled"`
	ID       int32         `json:"id"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	Nodes    []ClusterNode `json:"nodes"`

	// Sync selects the replication strategy for mutating operations:
	// true waits for every follower's ack before the client response
	// (spec.md Sec. 4.I "Sync replicator"), false enqueues and drains
	// asynchronously in batches.
	Sync bool `json:"sync"`

	// ElectionTimeout bounds how long a candidate waits after sending
	// Election: with no answer from a higher peer it declares itself
	// leader; with an answer but no Victory it restarts the election
	// (spec.md Sec. 4.H).
	ElectionTimeout time.Duration `json:"election_timeout"`

	// HeartbeatInterval is how often the leader sends Alive to followers.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`

	// MissingLeaderTimeout is how long a follower waits without an Alive
	// before starting an election.
	MissingLeaderTimeout time.Duration `json:"missing_leader_timeout"`
}

// Config is a node's full configuration (spec.md Sec. 6).
type Config struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Backlog int    `json:"backlog"`

	Password string `json:"password"`

	// ExpireCheckInterval configures the cache engine's periodic sweep
	// (spec.md Sec. 4.C). HotConfig picks up a changed value on disk; the
	// running cache keeps the interval it was built with.
	ExpireCheckInterval time.Duration `json:"expire_check_interval"`

	LogLevel string `json:"log_level"`

	// MetricsAddr, if set, binds an HTTP server exposing Prometheus-
	// formatted OpenTelemetry metrics at /metrics (spec.md's ambient
	// Observability concern). Empty disables telemetry entirely.
	MetricsAddr string `json:"metrics_addr"`

	Cluster ClusterConfig `json:"cluster"`
}

const (
	// DefaultPort is the client-facing TCP port when unset.
	DefaultPort = 6379
	// DefaultBacklog is the accept-queue hint when unset.
	DefaultBacklog = 128
	// DefaultExpireCheckInterval is the node's sweep cadence when unset.
	// It differs from the cache engine's own default
	// (internal/cachekv.DefaultConfig disables the sweeper); a running
	// node wants a non-zero sweep so TTLs are reclaimed proactively.
	DefaultExpireCheckInterval = time.Second
	// DefaultElectionTimeout bounds a candidate's wait for a higher
	// peer's answer or Victory (spec.md Sec. 4.H).
	DefaultElectionTimeout = 2 * time.Second
	// DefaultHeartbeatInterval is the leader's Alive cadence.
	DefaultHeartbeatInterval = 500 * time.Millisecond
	// DefaultMissingLeaderTimeout is how long a follower tolerates
	// silence from the leader before calling an election.
	DefaultMissingLeaderTimeout = 3 * time.Second
)

// Validate normalizes zero-valued fields to their defaults and rejects
// configurations that are not just incomplete but contradictory (an
// enabled cluster block with no port or with no peer nodes). It never mutates Cluster.Nodes'
// ordering; internal/cluster relies on configuration order for nothing,
// correlating peers strictly by ID.
func (c *Config) Validate() error {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.ExpireCheckInterval <= 0 {
		c.ExpireCheckInterval = DefaultExpireCheckInterval
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Cluster.Enabled {
		if c.Cluster.Port <= 0 {
			return fmt.Errorf("cluster.port is required when cluster.enabled is true")
		}
		if len(c.Cluster.Nodes) == 0 {
			return fmt.Errorf("cluster.nodes must list at least one peer when cluster.enabled is true")
		}
		if c.Cluster.ElectionTimeout <= 0 {
			c.Cluster.ElectionTimeout = DefaultElectionTimeout
		}
		if c.Cluster.HeartbeatInterval <= 0 {
			c.Cluster.HeartbeatInterval = DefaultHeartbeatInterval
		}
		if c.Cluster.MissingLeaderTimeout <= 0 {
			c.Cluster.MissingLeaderTimeout = DefaultMissingLeaderTimeout
		}
	}

	return nil
}

// DefaultConfig returns a Config with defaults applied and clustering
// disabled.
func DefaultConfig() Config {
	c := Config{}
	_ = c.Validate()
	return c
}

// CacheConfig projects the cache-engine-relevant fields of Config into a
// cachekv.Config, leaving Clock/Logger/OnKeyExpired for the caller to
// fill in (they are composition-root concerns, not file config).
func (c Config) CacheConfig() cachekv.Config {
	return cachekv.Config{
		ExpireCheckInterval: c.ExpireCheckInterval,
	}
}
