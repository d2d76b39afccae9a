// pubsub.go: channel-to-subscriber fanout, including the internal
// key-expiration event stream
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/varelen/mimoria/internal/logging"
)

// ExpirationChannel is the reserved internal channel name carrying
// key-expiration events (spec.md Sec. 4.D); its payload is the expired
// key's text.
const ExpirationChannel = "__mimoria:key-expired__"

// Subscriber receives published payloads for channels it has subscribed
// to. The server's per-connection type implements this by writing a
// Publish response packet.
type Subscriber interface {
	// ID uniquely identifies the subscriber for idempotent
	// subscribe/unsubscribe and for per-subscriber failure logging.
	ID() uint64
	Notify(channel string, payload []byte) error
}

// Hub maps channel name to the current subscriber set. Subscriber sets
// are copy-on-write: Subscribe/Unsubscribe build a new set, so Publish
// can iterate a snapshot without taking a lock per delivery (spec.md
// Sec. 5 "Shared resources").
type Hub struct {
	mu     sync.Mutex
	topics map[string]*atomic.Pointer[[]Subscriber]
	logger logging.Logger
}

// New returns an empty Hub.
func New(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Hub{
		topics: make(map[string]*atomic.Pointer[[]Subscriber]),
		logger: logger,
	}
}

func (h *Hub) topicSlot(channel string) *atomic.Pointer[[]Subscriber] {
	h.mu.Lock()
	defer h.mu.Unlock()
	slot, ok := h.topics[channel]
	if !ok {
		slot = &atomic.Pointer[[]Subscriber]{}
		empty := []Subscriber{}
		slot.Store(&empty)
		h.topics[channel] = slot
	}
	return slot
}

// Subscribe adds sub to channel's subscriber set. Idempotent: subscribing
// twice has no additional effect.
func (h *Hub) Subscribe(channel string, sub Subscriber) {
	slot := h.topicSlot(channel)
	for {
		old := slot.Load()
		for _, s := range *old {
			if s.ID() == sub.ID() {
				return
			}
		}
		next := make([]Subscriber, len(*old), len(*old)+1)
		copy(next, *old)
		next = append(next, sub)
		if slot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Unsubscribe removes sub from channel's subscriber set. Idempotent.
func (h *Hub) Unsubscribe(channel string, sub Subscriber) {
	slot := h.topicSlot(channel)
	for {
		old := slot.Load()
		idx := -1
		for i, s := range *old {
			if s.ID() == sub.ID() {
				idx = i
				break
			}
		}
		if idx == -1 {
			return
		}
		next := make([]Subscriber, 0, len(*old)-1)
		next = append(next, (*old)[:idx]...)
		next = append(next, (*old)[idx+1:]...)
		if slot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// UnsubscribeAll removes sub from every channel, used when a connection
// closes (spec.md Sec. 4.E).
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	h.mu.Lock()
	channels := make([]string, 0, len(h.topics))
	for ch := range h.topics {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		h.Unsubscribe(ch, sub)
	}
}

// Publish delivers payload to every current subscriber of channel.
// Delivery is best-effort: a per-subscriber failure is logged, not
// surfaced to the publisher (spec.md Sec. 4.D).
func (h *Hub) Publish(channel string, payload []byte) {
	slot := h.topicSlot(channel)
	subs := *slot.Load()
	for _, sub := range subs {
		if err := sub.Notify(channel, payload); err != nil {
			h.logger.Warn("pubsub: delivery failed", "channel", channel, "subscriber", sub.ID(), "error", err)
		}
	}
}

// PublishExpiration is the convenience the cache engine's OnKeyExpired
// callback is wired to: it publishes key's text on ExpirationChannel.
func (h *Hub) PublishExpiration(key string) {
	h.Publish(ExpirationChannel, []byte(key))
}
