// Package telemetry provides OpenTelemetry metrics for the cache engine,
// dispatcher, and cluster control plane.
//
// It mirrors the teacher's otel/collector.go: a thin adapter that turns
// domain events into OTEL instruments, optional and separate from the
// hot path it instruments (a nil *Collector records nothing).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/metric"
)

// Collector records Mimoria metrics to OpenTelemetry instruments.
//
// Thread-safety: safe for concurrent use; the underlying OTEL
// instruments are themselves safe for concurrent use.
type Collector struct {
	hits          metric.Int64Counter
	misses        metric.Int64Counter
	expiredKeys   metric.Int64Counter
	cacheSize     metric.Int64ObservableGauge
	connections   metric.Int64ObservableGauge
	replications  metric.Int64Counter
	electionTerms metric.Int64Counter

	sizeFn  func() int64
	connsFn func() int64
}

// Options configures a Collector.
type Options struct {
	// MeterName is the OpenTelemetry meter name. Default: "mimoria".
	MeterName string

	// SizeFn reports the current cache size, sampled when an exporter
	// collects the cache_size gauge. Required.
	SizeFn func() int64

	// ConnectionsFn reports the current open connection count, sampled
	// when an exporter collects the connections gauge. Required.
	ConnectionsFn func() int64
}

// ErrNilMeterProvider is returned when New is called with a nil provider.
var ErrNilMeterProvider = errors.New("meter provider cannot be nil")

// New builds a Collector from an OpenTelemetry MeterProvider, e.g. one
// backed by go.opentelemetry.io/otel/sdk/metric with a Prometheus or
// OTLP reader (spec.md's Observability ambient concern; see
// SPEC_FULL.md "Observability").
func New(provider metric.MeterProvider, opts Options) (*Collector, error) {
	if provider == nil {
		return nil, ErrNilMeterProvider
	}
	if opts.MeterName == "" {
		opts.MeterName = "mimoria"
	}
	if opts.SizeFn == nil || opts.ConnectionsFn == nil {
		return nil, errors.New("telemetry: SizeFn and ConnectionsFn are required")
	}

	meter := provider.Meter(opts.MeterName)
	c := &Collector{sizeFn: opts.SizeFn, connsFn: opts.ConnectionsFn}

	var err error
	c.hits, err = meter.Int64Counter("mimoria_cache_hits_total", metric.WithDescription("Total cache hits"))
	if err != nil {
		return nil, err
	}
	c.misses, err = meter.Int64Counter("mimoria_cache_misses_total", metric.WithDescription("Total cache misses"))
	if err != nil {
		return nil, err
	}
	c.expiredKeys, err = meter.Int64Counter("mimoria_cache_expired_keys_total", metric.WithDescription("Total keys reclaimed by TTL expiry"))
	if err != nil {
		return nil, err
	}
	c.replications, err = meter.Int64Counter("mimoria_replications_total", metric.WithDescription("Total mutating operations forwarded to followers"))
	if err != nil {
		return nil, err
	}
	c.electionTerms, err = meter.Int64Counter("mimoria_election_terms_total", metric.WithDescription("Total bully elections started"))
	if err != nil {
		return nil, err
	}

	c.cacheSize, err = meter.Int64ObservableGauge("mimoria_cache_size", metric.WithDescription("Current number of keys in the cache"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(c.sizeFn())
			return nil
		}))
	if err != nil {
		return nil, err
	}
	c.connections, err = meter.Int64ObservableGauge("mimoria_connections", metric.WithDescription("Current number of open client connections"),
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(c.connsFn())
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return c, nil
}

// RecordHit increments the cache hit counter. Safe to call on a nil
// *Collector (records nothing) so call sites never need a nil check.
func (c *Collector) RecordHit(ctx context.Context) {
	if c == nil {
		return
	}
	c.hits.Add(ctx, 1)
}

// RecordMiss increments the cache miss counter.
func (c *Collector) RecordMiss(ctx context.Context) {
	if c == nil {
		return
	}
	c.misses.Add(ctx, 1)
}

// RecordExpiredKey increments the TTL-expiry counter.
func (c *Collector) RecordExpiredKey(ctx context.Context) {
	if c == nil {
		return
	}
	c.expiredKeys.Add(ctx, 1)
}

// RecordReplication increments the replication counter.
func (c *Collector) RecordReplication(ctx context.Context) {
	if c == nil {
		return
	}
	c.replications.Add(ctx, 1)
}

// RecordElectionStarted increments the election counter.
func (c *Collector) RecordElectionStarted(ctx context.Context) {
	if c == nil {
		return
	}
	c.electionTerms.Add(ctx, 1)
}
