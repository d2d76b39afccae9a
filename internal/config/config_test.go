// config_test.go: unit tests for node configuration defaulting
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package config

import "testing"

func TestConfig_ValidateAppliesDefaults(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, c.Port)
	}
	if c.Backlog != DefaultBacklog {
		t.Errorf("expected backlog %d, got %d", DefaultBacklog, c.Backlog)
	}
	if c.ExpireCheckInterval != DefaultExpireCheckInterval {
		t.Errorf("expected default expire check interval, got %v", c.ExpireCheckInterval)
	}
	if c.LogLevel != "info" {
		t.Errorf("expected log level info, got %q", c.LogLevel)
	}
}

func TestConfig_ValidatePreservesExplicitValues(t *testing.T) {
	c := Config{Port: 7000, Backlog: 64}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Port != 7000 || c.Backlog != 64 {
		t.Fatalf("expected explicit values preserved, got port=%d backlog=%d", c.Port, c.Backlog)
	}
}

func TestConfig_ClusterRequiresPortAndNodes(t *testing.T) {
	c := Config{Cluster: ClusterConfig{Enabled: true}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a cluster block with no port or nodes")
	}

	c = Config{Cluster: ClusterConfig{Enabled: true, Port: 7001}}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a cluster block with no nodes")
	}
}

func TestConfig_ClusterDefaultsTimers(t *testing.T) {
	c := Config{Cluster: ClusterConfig{
		Enabled: true,
		Port:    7001,
		Nodes:   []ClusterNode{{ID: 2, Host: "10.0.0.2", Port: 7001}},
	}}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
	if c.Cluster.ElectionTimeout != DefaultElectionTimeout {
		t.Errorf("expected default election timeout, got %v", c.Cluster.ElectionTimeout)
	}
	if c.Cluster.HeartbeatInterval != DefaultHeartbeatInterval {
		t.Errorf("expected default heartbeat interval, got %v", c.Cluster.HeartbeatInterval)
	}
}

func TestConfig_CacheConfigProjection(t *testing.T) {
	c := DefaultConfig()
	cc := c.CacheConfig()
	if cc.ExpireCheckInterval != c.ExpireCheckInterval {
		t.Fatalf("expected projected cache config to carry expire_check_interval")
	}
}
