// pool.go: pooled Buffer reuse for packet encode/decode
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package wire

import "sync"

// defaultBufferCapacity is the initial backing-array size for a pooled
// Buffer; large enough to hold most requests/responses without growing.
const defaultBufferCapacity = 256

// Pool recycles Buffers across requests to avoid a per-packet allocation.
// Get/Put is safe for concurrent use from any number of
// connections and handlers.
type Pool struct {
	pool sync.Pool
}

// NewPool returns a ready-to-use Buffer pool.
func NewPool() *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				return NewBuffer(defaultBufferCapacity)
			},
		},
	}
}

// Get returns an empty Buffer, either freshly allocated or recycled.
func (p *Pool) Get() *Buffer {
	buf := p.pool.Get().(*Buffer)
	buf.Reset()
	return buf
}

// Put returns a Buffer to the pool. Callers must not use buf after Put.
// Put is expected on every exit path of request handling, success or
// error, so the pool never starves under load.
func (p *Pool) Put(buf *Buffer) {
	if buf == nil {
		return
	}
	p.pool.Put(buf)
}
