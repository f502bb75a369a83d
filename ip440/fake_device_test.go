// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"bytes"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/dio/ipac"
)

// fakePorts is the I/O space of a fake IP440 module.
type fakePorts struct {
	mu  sync.RWMutex
	mem [ipac.IOSpan]byte
}

func (p *fakePorts) ReadAt(b []byte, off int64) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if off < 0 || off >= int64(len(p.mem)) {
		return 0, io.EOF
	}
	n := copy(b, p.mem[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (p *fakePorts) set(v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setBytes(byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (p *fakePorts) setBytes(b0, b1, b2, b3 byte) {
	p.mem[0x1] = b0
	p.mem[0x3] = b1
	p.mem[0x5] = b2
	p.mem[0x7] = b3
}

// failingPorts fails every read past the first n ones.
type failingPorts struct {
	n int
}

func (p *failingPorts) ReadAt(b []byte, off int64) (int, error) {
	if p.n <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	p.n--
	return len(b), nil
}

func newFakeBus(id ipac.IDProm, rw io.ReaderAt) *ipac.Bus {
	var bus ipac.Bus
	bus.Add(ipac.NewCarrier("fake-carrier", ipac.Slot{
		Name: "fake-carrier[0]",
		Base: 0xfff58000,
		ID:   bytes.NewReader(ipac.EncodeID(id)),
		IO:   rw,
	}))
	return &bus
}

func newTestDriver(t *testing.T, v0 uint32, opts ...Option) (*Driver, *fakePorts) {
	t.Helper()

	var hw fakePorts
	hw.set(v0)

	bus := newFakeBus(ipac.IDProm{Manufacturer: AcromagID, Model: ModelID}, &hw)
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	dev := New(bus, "DIO1", 0, 0, 10*time.Millisecond, opts...)
	if err := dev.Err(); err != nil {
		t.Fatalf("could not create test driver: %+v", err)
	}
	return dev, &hw
}
