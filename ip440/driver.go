// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-lpc/dio/ipac"
	"periph.io/x/conn/v3/gpio"
)

// Driver is an IP440 module sitting in an IP carrier slot.
//
// A Driver that failed its hardware identification is still returned by New,
// but is not initialized: all its operations fail with ErrNotInitialized.
type Driver struct {
	name string
	msg  *log.Logger
	cfg  config

	err         error // configuration error, if any
	initialized bool
	base        int64
	freq        time.Duration

	regs ports
	sink sink

	state struct {
		mu    sync.Mutex
		prev  uint32
		first bool
	}
	running atomic.Bool
}

// New creates the driver for the IP440 module in the given carrier slot,
// polled every freq.
//
// Configuration errors (bad slot, unexpected module, invalid poll
// interval) are logged once and recorded: the returned driver is then not
// initialized. New never retries.
func New(bus ipac.Resolver, name string, carrier, slot int, freq time.Duration, opts ...Option) *Driver {
	dev := &Driver{
		name: name,
		cfg:  newConfig(),
		freq: freq,
	}
	for _, opt := range opts {
		opt(&dev.cfg)
	}
	dev.msg = dev.cfg.msg
	dev.state.first = true

	err := dev.init(bus, carrier, slot)
	if err != nil {
		dev.err = fmt.Errorf("ip440: could not initialize %q (carrier=%d, slot=%d): %w", name, carrier, slot, err)
		dev.msg.Printf("could not initialize %q (carrier=%d, slot=%d): %+v", name, carrier, slot, err)
		return dev
	}
	dev.initialized = true
	return dev
}

func (dev *Driver) init(bus ipac.Resolver, carrier, slot int) error {
	if dev.freq <= 0 {
		return fmt.Errorf("invalid poll interval %v", dev.freq)
	}
	if bus == nil {
		return fmt.Errorf("%w: no carrier bus", ipac.ErrBadSlot)
	}

	s, err := bus.Slot(carrier, slot)
	if err != nil {
		return err
	}
	dev.base = s.Base

	id, err := ipac.ReadID(s)
	if err != nil {
		return err
	}
	err = id.Check(AcromagID, ModelID)
	if err != nil {
		return err
	}

	dev.regs, err = newPorts(s.IO)
	if err != nil {
		return err
	}
	return nil
}

// Name returns the port name of the driver.
func (dev *Driver) Name() string { return dev.name }

// Initialized reports whether the driver passed its hardware identification.
func (dev *Driver) Initialized() bool { return dev.initialized }

// Err returns the configuration error recorded at construction, if any.
func (dev *Driver) Err() error { return dev.err }

// PollInterval returns the time between two poll cycles.
func (dev *Driver) PollInterval() time.Duration { return dev.freq }

// Read samples the input ports and returns their value, masked with mask.
// Read always reads the hardware, never the cached value.
func (dev *Driver) Read(mask uint32) (uint32, error) {
	if !dev.initialized {
		return 0, ErrNotInitialized
	}
	v := dev.regs.sample(mask)
	if dev.cfg.trace {
		dev.msg.Printf("%s:%s: *value=%x", driverName, dev.name, v)
	}
	return v, nil
}

// Value returns the last published value, masked with mask.
func (dev *Driver) Value(mask uint32) (uint32, error) {
	if !dev.initialized {
		return 0, ErrNotInitialized
	}
	v, ok := dev.sink.current(mask)
	if !ok {
		return 0, ErrNoValue
	}
	return v, nil
}

// Subscribe registers a new consumer of change events.
//
// By default a subscription watches all lines, on both edges, with the
// queue size and overflow policy of the driver.
func (dev *Driver) Subscribe(opts ...SubOption) (*Subscription, error) {
	if !dev.initialized {
		return nil, ErrNotInitialized
	}
	cfg := subConfig{
		mask:  AllBits,
		edge:  gpio.BothEdges,
		queue: dev.cfg.queue,
		ovf:   dev.cfg.ovf,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return dev.sink.subscribe(cfg)
}

// Report writes a diagnostic report of the driver to w.
func (dev *Driver) Report(w io.Writer, details int) {
	if !dev.initialized {
		fmt.Fprintf(w, "%s %s: not initialized!\n", driverName, dev.name)
		if details >= 1 && dev.err != nil {
			fmt.Fprintf(w, "  error=%v\n", dev.err)
		}
		return
	}
	fmt.Fprintf(w, "%s %s: connected at base address 0x%x\n", driverName, dev.name, dev.base)
	if details < 1 {
		return
	}

	if v, ok := dev.sink.current(AllBits); ok {
		fmt.Fprintf(w, "  current value=%x\n", v)
	} else {
		fmt.Fprintf(w, "  current value=<none>\n")
	}
	if details < 2 {
		return
	}

	subs := dev.sink.subscriptions()
	fmt.Fprintf(w, "  poll interval=%v, running=%v\n", dev.freq, dev.running.Load())
	fmt.Fprintf(w, "  subscribers=%d\n", len(subs))
	for i, sub := range subs {
		fmt.Fprintf(w, "    [%d] name=%q mask=0x%08x edge=%v overflow=%v queued=%d/%d dropped=%d\n",
			i, sub.name, sub.mask, sub.edge, sub.ovf, len(sub.ch), cap(sub.ch), sub.Dropped(),
		)
	}
}
