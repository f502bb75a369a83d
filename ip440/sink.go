// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"fmt"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
)

// sink caches the last published value and fans events out to subscribers.
type sink struct {
	cur   atomic.Uint32
	valid atomic.Bool

	mu   sync.RWMutex
	subs []*Subscription
}

// publish updates the cached value and notifies subscribers.
// publish never blocks on a subscriber.
func (s *sink) publish(ev Event) {
	s.cur.Store(ev.Value)
	s.valid.Store(true)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		sub.deliver(ev)
	}
}

// current returns the last published value.
func (s *sink) current(mask uint32) (uint32, bool) {
	return s.cur.Load() & mask, s.valid.Load()
}

func (s *sink) subscribe(cfg subConfig) (*Subscription, error) {
	switch cfg.edge {
	case gpio.RisingEdge, gpio.FallingEdge, gpio.BothEdges:
		// ok.
	default:
		return nil, fmt.Errorf("ip440: invalid subscription edge %v", cfg.edge)
	}
	if cfg.queue <= 0 {
		return nil, fmt.Errorf("ip440: invalid subscription queue size %d", cfg.queue)
	}
	switch cfg.ovf {
	case DropNewest, DropOldest:
		// ok.
	default:
		return nil, fmt.Errorf("ip440: invalid overflow policy %v", cfg.ovf)
	}

	sub := &Subscription{
		sink: s,
		name: cfg.name,
		mask: cfg.mask,
		edge: cfg.edge,
		ovf:  cfg.ovf,
		ch:   make(chan Event, cfg.queue),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s *sink) unsubscribe(sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range s.subs {
		if v != sub {
			continue
		}
		s.subs = append(s.subs[:i], s.subs[i+1:]...)
		return true
	}
	return false
}

func (s *sink) subscriptions() []*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Subscription(nil), s.subs...)
}

// Subscription is a bounded queue of events for one consumer.
type Subscription struct {
	sink *sink
	name string
	mask uint32
	edge gpio.Edge
	ovf  Overflow

	mu     sync.Mutex
	ch     chan Event
	closed bool

	drops atomic.Uint64
}

// C returns the channel events are delivered on.
// The channel is closed when the subscription is closed.
func (sub *Subscription) C() <-chan Event { return sub.ch }

// Name returns the name of the subscription.
func (sub *Subscription) Name() string { return sub.name }

// Dropped returns the number of events dropped because the queue was full.
func (sub *Subscription) Dropped() uint64 { return sub.drops.Load() }

// Close unregisters the subscription and closes its channel.
func (sub *Subscription) Close() error {
	sub.sink.unsubscribe(sub)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return nil
	}
	sub.closed = true
	close(sub.ch)
	return nil
}

// match returns the lines of ev the subscription is interested in.
// The initial event changes all lines: edge-restricted subscriptions only
// receive it for the watched lines already in their triggering state.
func (sub *Subscription) match(ev Event) uint32 {
	changed := ev.Changed & sub.mask
	switch sub.edge {
	case gpio.RisingEdge:
		changed &= ev.Value
	case gpio.FallingEdge:
		changed &^= ev.Value
	}
	return changed
}

func (sub *Subscription) deliver(ev Event) {
	changed := sub.match(ev)
	if changed == 0 {
		return
	}
	ev.Changed = changed

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}

	select {
	case sub.ch <- ev:
		return
	default:
	}

	switch sub.ovf {
	case DropOldest:
		select {
		case <-sub.ch:
			sub.drops.Add(1)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
			sub.drops.Add(1)
		}
	default:
		sub.drops.Add(1)
	}
}
