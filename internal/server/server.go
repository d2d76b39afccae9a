// server.go: TCP accept loop and connection bookkeeping
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/varelen/mimoria/internal/logging"
	"github.com/varelen/mimoria/internal/pubsub"
	"github.com/varelen/mimoria/internal/wire"
)

// Config configures a Server.
type Config struct {
	// Address is the TCP bind address, e.g. ":6379" or "0.0.0.0:6379".
	Address string

	// Backlog is the listen backlog hint (spec.md Sec. 4.E "Accept
	// loop"). ListenAndServe does not pass it to the listener, which uses
	// the platform's default backlog.
	Backlog int

	Hub        *pubsub.Hub
	Dispatcher Dispatcher
	Logger     logging.Logger
}

// Server accepts client connections and hands each one its own
// receive loop (spec.md Sec. 4.E).
type Server struct {
	cfg      Config
	listener net.Listener
	pool     *wire.Pool

	connCount atomic.Uint64

	wg sync.WaitGroup
}

// New constructs a Server that has not yet started listening.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Server{cfg: cfg, pool: wire.NewPool()}
}

// ListenAndServe binds the configured address and runs the accept loop
// until ctx is canceled or the listener errors. It blocks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}

		c := newConnection(conn, s.cfg.Hub, s.cfg.Logger, s.pool)
		s.connCount.Add(1)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.connCount.Add(^uint64(0)) // decrement
			c.serve(ctx, s.cfg.Dispatcher)
		}()
	}
}

// ConnectionCount reports the number of currently open connections, for
// wiring into the dispatcher's GetStats response (spec.md Sec. 6).
func (s *Server) ConnectionCount() uint64 { return s.connCount.Load() }
