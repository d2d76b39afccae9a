// Command mimoriad runs a Mimoria cache node: the TCP server, the typed
// cache engine, pub/sub, and -- when configured -- active-active
// clustering (bully election, sync/async replication, follower resync).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/varelen/mimoria/internal/cachekv"
	"github.com/varelen/mimoria/internal/cluster"
	"github.com/varelen/mimoria/internal/config"
	"github.com/varelen/mimoria/internal/election"
	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/protocol"
	"github.com/varelen/mimoria/internal/pubsub"
	"github.com/varelen/mimoria/internal/replication"
	"github.com/varelen/mimoria/internal/server"
	"github.com/varelen/mimoria/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to the node's JSON configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mimoriad:", err)
		os.Exit(1)
	}

	logger := logging.NewZerologAdapter(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := pubsub.New(logger)

	var (
		srv   *server.Server
		cache *cachekv.Cache
	)
	collector, shutdownMetrics := setupTelemetry(cfg, logger,
		func() int64 {
			if cache == nil {
				return 0
			}
			return int64(cache.Size())
		},
		func() int64 {
			if srv == nil {
				return 0
			}
			return int64(srv.ConnectionCount())
		},
	)
	defer shutdownMetrics()

	cacheCfg := cfg.CacheConfig()
	cacheCfg.Logger = logger
	cacheCfg.OnKeyExpired = func(key string) {
		hub.PublishExpiration(key)
		collector.RecordExpiredKey(context.Background())
	}
	cacheCfg.OnHit = func() { collector.RecordHit(context.Background()) }
	cacheCfg.OnMiss = func() { collector.RecordMiss(context.Background()) }
	cache = cachekv.NewCache(cacheCfg)
	defer cache.Close()

	var (
		clusterInfo protocol.ClusterInfo
		replicator  protocol.Replicator
	)

	if cfg.Cluster.Enabled {
		mesh, bully, coordinator := setupCluster(ctx, cfg, cache, logger, collector)
		clusterInfo = &clusterInfoAdapter{selfID: cfg.Cluster.ID, bully: bully}
		replicator = coordinator

		if err := mesh.Start(ctx); err != nil {
			logger.Error("mimoriad: cluster mesh failed to start", "error", err)
			os.Exit(1)
		}
		go func() {
			<-mesh.Ready()
			logger.Info("mimoriad: cluster mesh ready, starting election", "self", cfg.Cluster.ID)
			bully.Start(ctx)
		}()
	}

	dispatcher := protocol.New(protocol.Config{
		Cache:      cache,
		Hub:        hub,
		Password:   cfg.Password,
		Cluster:    clusterInfo,
		Replicator: replicator,
		Logger:     logger,
		ConnectionCount: func() uint64 {
			if srv == nil {
				return 0
			}
			return srv.ConnectionCount()
		},
	})

	srv = server.New(server.Config{
		Address:    fmt.Sprintf("%s:%d", cfg.IP, cfg.Port),
		Backlog:    cfg.Backlog,
		Hub:        hub,
		Dispatcher: dispatcher,
		Logger:     logger,
	})

	setupHotReload(*configPath, cfg, logger)

	logger.Info("mimoriad: listening", "address", fmt.Sprintf("%s:%d", cfg.IP, cfg.Port))
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("mimoriad: server stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the node's configuration. A missing
// -config flag runs with an all-defaults standalone configuration.
func loadConfig(path string) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// setupCluster wires the peer mesh, bully election, and replication
// coordinator together. The mesh's Handler is assigned only after the
// election/replication state machines exist, since they each need a
// Sender view of the already-constructed Mesh (spec.md Sec. 4.G/4.H/4.I).
func setupCluster(ctx context.Context, cfg config.Config, cache *cachekv.Cache, logger logging.Logger, collector *telemetry.Collector) (*cluster.Mesh, *election.Bully, *replication.Coordinator) {
	peers := make([]cluster.NodeInfo, 0, len(cfg.Cluster.Nodes))
	for _, n := range cfg.Cluster.Nodes {
		peers = append(peers, cluster.NodeInfo{ID: n.ID, Host: n.Host, Port: n.Port})
	}

	mesh := cluster.New(cluster.Config{
		SelfID:     cfg.Cluster.ID,
		ListenAddr: fmt.Sprintf(":%d", cfg.Cluster.Port),
		Peers:      peers,
		Password:   cfg.Cluster.Password,
		Logger:     logger,
	})

	coordinator := replication.New(replication.Config{
		SelfID: cfg.Cluster.ID,
		Mesh:   mesh,
		Cache:  cache,
		Logger: logger,
		Sync:   cfg.Cluster.Sync,
		OnReplicate: func() {
			collector.RecordReplication(context.Background())
		},
	})

	bully := election.New(election.Config{
		SelfID:               cfg.Cluster.ID,
		Mesh:                 mesh,
		Logger:               logger,
		ElectionTimeout:      cfg.Cluster.ElectionTimeout,
		HeartbeatInterval:    cfg.Cluster.HeartbeatInterval,
		MissingLeaderTimeout: cfg.Cluster.MissingLeaderTimeout,
		OnBecomeFollower:     coordinator.RequestResync,
		OnElectionStarted: func() {
			collector.RecordElectionStarted(context.Background())
		},
	})

	mesh.SetHandler(&clusterDemux{bully: bully, coordinator: coordinator})

	return mesh, bully, coordinator
}

// setupTelemetry optionally starts a Prometheus-backed OpenTelemetry
// meter provider and its /metrics HTTP endpoint, grounded on the
// teacher's own examples/otel-prometheus/main.go pattern. A nil
// *telemetry.Collector records nothing, so callers never need a nil
// check.
func setupTelemetry(cfg config.Config, logger logging.Logger, sizeFn, connectionsFn func() int64) (*telemetry.Collector, func()) {
	if cfg.MetricsAddr == "" {
		return nil, func() {}
	}

	exporter, err := otelprom.New()
	if err != nil {
		logger.Error("mimoriad: failed to build prometheus exporter", "error", err)
		return nil, func() {}
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))

	collector, err := telemetry.New(provider, telemetry.Options{
		SizeFn:        sizeFn,
		ConnectionsFn: connectionsFn,
	})
	if err != nil {
		logger.Error("mimoriad: failed to build telemetry collector", "error", err)
		return nil, func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("mimoriad: metrics server stopped", "error", err)
		}
	}()

	shutdown := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = provider.Shutdown(shutdownCtx)
	}
	return collector, shutdown
}

// setupHotReload watches configPath for changes to reloadable fields
// (spec.md's ambient Configuration concern). A missing configPath
// disables hot reload entirely -- there is nothing to watch.
func setupHotReload(configPath string, cfg config.Config, logger logging.Logger) {
	if configPath == "" {
		return
	}

	if _, err := config.NewHotConfig(cfg, config.HotConfigOptions{
		ConfigPath: configPath,
		Logger:     logger,
		OnReload: func(old, next config.Config) {
			if next.LogLevel != old.LogLevel {
				logger.Info("mimoriad: log_level reload acknowledged; restart to change verbosity", "new", next.LogLevel)
			}
		},
	}); err != nil {
		logger.Warn("mimoriad: hot reload disabled", "error", err)
	}
}
