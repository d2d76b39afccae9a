// pubsub_test.go: unit tests for channel fanout
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package pubsub

import (
	"errors"
	"sync"
	"testing"
)

type fakeSubscriber struct {
	id       uint64
	mu       sync.Mutex
	received [][]byte
	fail     bool
}

func (f *fakeSubscriber) ID() uint64 { return f.id }

func (f *fakeSubscriber) Notify(channel string, payload []byte) error {
	if f.fail {
		return errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, payload)
	return nil
}

func TestHub_PublishDeliversToAllSubscribers(t *testing.T) {
	h := New(nil)
	a := &fakeSubscriber{id: 1}
	b := &fakeSubscriber{id: 2}
	h.Subscribe("chan", a)
	h.Subscribe("chan", b)

	h.Publish("chan", []byte("hello"))

	if len(a.received) != 1 || string(a.received[0]) != "hello" {
		t.Errorf("subscriber a: %v", a.received)
	}
	if len(b.received) != 1 || string(b.received[0]) != "hello" {
		t.Errorf("subscriber b: %v", b.received)
	}
}

func TestHub_SubscribeIdempotent(t *testing.T) {
	h := New(nil)
	a := &fakeSubscriber{id: 1}
	h.Subscribe("chan", a)
	h.Subscribe("chan", a)

	h.Publish("chan", []byte("x"))
	if len(a.received) != 1 {
		t.Errorf("expected single delivery, got %d", len(a.received))
	}
}

func TestHub_UnsubscribeRemoves(t *testing.T) {
	h := New(nil)
	a := &fakeSubscriber{id: 1}
	h.Subscribe("chan", a)
	h.Unsubscribe("chan", a)
	h.Unsubscribe("chan", a) // idempotent

	h.Publish("chan", []byte("x"))
	if len(a.received) != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", len(a.received))
	}
}

func TestHub_FailingSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New(nil)
	bad := &fakeSubscriber{id: 1, fail: true}
	good := &fakeSubscriber{id: 2}
	h.Subscribe("chan", bad)
	h.Subscribe("chan", good)

	h.Publish("chan", []byte("x"))
	if len(good.received) != 1 {
		t.Errorf("expected good subscriber to still receive, got %d", len(good.received))
	}
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h := New(nil)
	a := &fakeSubscriber{id: 1}
	h.Subscribe("chan1", a)
	h.Subscribe("chan2", a)
	h.UnsubscribeAll(a)

	h.Publish("chan1", []byte("x"))
	h.Publish("chan2", []byte("y"))
	if len(a.received) != 0 {
		t.Errorf("expected no deliveries after UnsubscribeAll, got %d", len(a.received))
	}
}

func TestHub_PublishExpiration(t *testing.T) {
	h := New(nil)
	a := &fakeSubscriber{id: 1}
	h.Subscribe(ExpirationChannel, a)

	h.PublishExpiration("my-key")
	if len(a.received) != 1 || string(a.received[0]) != "my-key" {
		t.Errorf("expected expiration event with key text, got %v", a.received)
	}
}
