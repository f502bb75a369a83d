// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ipac resolves Industry-Pack carrier slots into the address spaces
// of the module plugged in them.
package ipac // import "github.com/go-lpc/dio/ipac"

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	ErrBadSlot = errors.New("ipac: bad carrier or slot")
)

// Slot describes the address spaces of an IP module.
type Slot struct {
	Name string
	Base int64       // physical address of the I/O space
	ID   io.ReaderAt // ID PROM space
	IO   io.ReaderAt // I/O space
}

// Resolver resolves a (carrier, slot) pair into the address spaces of the
// module sitting in that slot.
type Resolver interface {
	Slot(carrier, slot int) (Slot, error)
}

// Carrier is a board holding IP modules.
type Carrier interface {
	Name() string
	NumSlots() int
	Slot(i int) (Slot, error)
}

// Bus is a registry of carriers, indexed by registration order.
type Bus struct {
	mu       sync.RWMutex
	carriers []Carrier
}

// Add registers a carrier and returns its carrier number.
func (bus *Bus) Add(c Carrier) int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.carriers = append(bus.carriers, c)
	return len(bus.carriers) - 1
}

// Slot implements Resolver.
func (bus *Bus) Slot(carrier, slot int) (Slot, error) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	if carrier < 0 || carrier >= len(bus.carriers) {
		return Slot{}, fmt.Errorf("%w (carrier=%d)", ErrBadSlot, carrier)
	}
	c := bus.carriers[carrier]
	if slot < 0 || slot >= c.NumSlots() {
		return Slot{}, fmt.Errorf("%w (carrier=%d, slot=%d)", ErrBadSlot, carrier, slot)
	}
	return c.Slot(slot)
}

// Report writes the list of registered carriers to w.
func (bus *Bus) Report(w io.Writer) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for i, c := range bus.carriers {
		fmt.Fprintf(w, "carrier %d: %s (%d slots)\n", i, c.Name(), c.NumSlots())
	}
}

// Close closes all the carriers that hold resources.
func (bus *Bus) Close() error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	var err error
	for _, c := range bus.carriers {
		cc, ok := c.(io.Closer)
		if !ok {
			continue
		}
		if e := cc.Close(); e != nil && err == nil {
			err = fmt.Errorf("ipac: could not close carrier %q: %w", c.Name(), e)
		}
	}
	bus.carriers = nil
	return err
}

type carrier struct {
	name  string
	slots []Slot
}

// NewCarrier returns a carrier made of the provided slots.
func NewCarrier(name string, slots ...Slot) Carrier {
	return &carrier{name: name, slots: slots}
}

func (c *carrier) Name() string  { return c.name }
func (c *carrier) NumSlots() int { return len(c.slots) }

func (c *carrier) Slot(i int) (Slot, error) {
	if i < 0 || i >= len(c.slots) {
		return Slot{}, fmt.Errorf("%w (carrier=%q, slot=%d)", ErrBadSlot, c.name, i)
	}
	slot := c.slots[i]
	if slot.ID == nil || slot.IO == nil {
		return Slot{}, fmt.Errorf("%w (carrier=%q, slot=%d): empty slot", ErrBadSlot, c.name, i)
	}
	return slot, nil
}

var (
	_ Resolver = (*Bus)(nil)
	_ Carrier  = (*carrier)(nil)
)
