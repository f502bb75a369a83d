// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"context"
	"time"
)

// Start runs the poller on its own goroutine, for the lifetime of the process.
func (dev *Driver) Start() error {
	if !dev.initialized {
		return ErrNotInitialized
	}
	if !dev.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	go dev.loop(context.Background())
	return nil
}

// Run runs the poller on the calling goroutine, until ctx is done.
//
// Each cycle waits for the poll interval, samples the input ports and
// publishes the new value when it differs from the previous one.
// The first sample is always published.
func (dev *Driver) Run(ctx context.Context) error {
	if !dev.initialized {
		return ErrNotInitialized
	}
	if !dev.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	dev.loop(ctx)
	return nil
}

func (dev *Driver) loop(ctx context.Context) {
	defer dev.running.Store(false)

	timer := time.NewTimer(dev.freq)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		dev.pollOnce()
		timer.Reset(dev.freq)
	}
}

// pollOnce performs exactly one poll cycle, without waiting.
func (dev *Driver) pollOnce() (Event, bool) {
	cur := dev.regs.sample(AllBits)
	now := time.Now().UTC()

	dev.state.mu.Lock()
	prev, first := dev.state.prev, dev.state.first
	if dev.cfg.trace {
		dev.msg.Printf("%s:%s: bits=%x, prev=%x", driverName, dev.name, cur, prev)
	}
	changed, publish := detect(cur, prev, first)
	if !publish {
		dev.state.mu.Unlock()
		return Event{}, false
	}
	dev.state.prev = cur
	dev.state.first = false
	dev.state.mu.Unlock()

	ev := Event{
		Value:   cur,
		Changed: changed,
		Initial: first,
		Time:    now,
	}
	dev.sink.publish(ev)
	return ev, true
}
