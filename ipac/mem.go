// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ipac

import (
	"fmt"

	"github.com/go-lpc/dio/internal/mmap"
)

const (
	IOSpan = 0x80
	IDSpan = 0x40
)

// Layout describes where the slots of a carrier live in physical memory.
type Layout struct {
	Base     int64 // physical address of slot 0
	Stride   int64 // distance between two consecutive slots
	IOOffset int64 // offset of the I/O space inside a slot
	IDOffset int64 // offset of the ID space inside a slot
	Slots    int
}

func (lay Layout) validate() error {
	switch {
	case lay.Slots <= 0:
		return fmt.Errorf("ipac: invalid number of slots %d", lay.Slots)
	case lay.Stride < IOSpan || lay.Stride < IDSpan:
		return fmt.Errorf("ipac: invalid slot stride 0x%x", lay.Stride)
	case lay.IOOffset < 0 || lay.IOOffset+IOSpan > lay.Stride:
		return fmt.Errorf("ipac: I/O space (off=0x%x) does not fit in slot", lay.IOOffset)
	case lay.IDOffset < 0 || lay.IDOffset+IDSpan > lay.Stride:
		return fmt.Errorf("ipac: ID space (off=0x%x) does not fit in slot", lay.IDOffset)
	}
	return nil
}

// MemCarrier is a carrier mapped from a memory device, such as /dev/mem.
type MemCarrier struct {
	name  string
	lay   Layout
	mem   *mmap.Handle
	slots []Slot
}

// OpenMem maps the slots of a carrier described by lay from devmem.
func OpenMem(name, devmem string, lay Layout) (*MemCarrier, error) {
	err := lay.validate()
	if err != nil {
		return nil, fmt.Errorf("ipac: invalid layout for carrier %q: %w", name, err)
	}

	mem, err := mmap.Open(devmem, lay.Base, int(lay.Stride)*lay.Slots)
	if err != nil {
		return nil, fmt.Errorf("ipac: could not map carrier %q: %w", name, err)
	}

	c := &MemCarrier{
		name:  name,
		lay:   lay,
		mem:   mem,
		slots: make([]Slot, lay.Slots),
	}
	for i := range c.slots {
		off := int64(i) * lay.Stride
		c.slots[i] = Slot{
			Name: fmt.Sprintf("%s[%d]", name, i),
			Base: lay.Base + off + lay.IOOffset,
			ID:   mem.Section(off+lay.IDOffset, IDSpan),
			IO:   mem.Section(off+lay.IOOffset, IOSpan),
		}
	}
	return c, nil
}

func (c *MemCarrier) Name() string  { return c.name }
func (c *MemCarrier) NumSlots() int { return len(c.slots) }

func (c *MemCarrier) Slot(i int) (Slot, error) {
	if i < 0 || i >= len(c.slots) {
		return Slot{}, fmt.Errorf("%w (carrier=%q, slot=%d)", ErrBadSlot, c.name, i)
	}
	return c.slots[i], nil
}

// Close unmaps the carrier memory.
func (c *MemCarrier) Close() error {
	if c.mem == nil {
		return nil
	}
	err := c.mem.Close()
	c.mem = nil
	if err != nil {
		return fmt.Errorf("ipac: could not unmap carrier %q: %w", c.name, err)
	}
	return nil
}

var (
	_ Carrier = (*MemCarrier)(nil)
)
