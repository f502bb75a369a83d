// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Event is a published change of the digital inputs.
type Event struct {
	Value   uint32    // state of the 32 input lines
	Changed uint32    // lines that changed since the previous event
	Initial bool      // first event after the driver started polling
	Time    time.Time // time of the sample
}

// Rising returns the changed lines that went high.
func (ev Event) Rising() uint32 { return ev.Changed & ev.Value }

// Falling returns the changed lines that went low.
func (ev Event) Falling() uint32 { return ev.Changed &^ ev.Value }

// Line returns the level of input line i.
func (ev Event) Line(i int) gpio.Level {
	return gpio.Level((ev.Value>>uint(i))&1 == 1)
}

// Edge returns the transition of input line i.
func (ev Event) Edge(i int) gpio.Edge {
	bit := uint32(1) << uint(i)
	switch {
	case ev.Changed&bit == 0:
		return gpio.NoEdge
	case ev.Value&bit != 0:
		return gpio.RisingEdge
	default:
		return gpio.FallingEdge
	}
}

func (ev Event) String() string {
	return fmt.Sprintf("value=0x%08x changed=0x%08x", ev.Value, ev.Changed)
}

const eventSize = 4 + 4 + 1 + 8

// MarshalBinary encodes the event as a fixed-size little-endian frame.
func (ev Event) MarshalBinary() ([]byte, error) {
	buf := make([]byte, eventSize)
	binary.LittleEndian.PutUint32(buf[0:4], ev.Value)
	binary.LittleEndian.PutUint32(buf[4:8], ev.Changed)
	if ev.Initial {
		buf[8] = 1
	}
	var ns int64
	if !ev.Time.IsZero() {
		ns = ev.Time.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[9:17], uint64(ns))
	return buf, nil
}

// UnmarshalBinary decodes an event frame.
func (ev *Event) UnmarshalBinary(p []byte) error {
	if len(p) != eventSize {
		return fmt.Errorf("ip440: invalid event frame size (got=%d, want=%d)", len(p), eventSize)
	}
	ev.Value = binary.LittleEndian.Uint32(p[0:4])
	ev.Changed = binary.LittleEndian.Uint32(p[4:8])
	ev.Initial = p[8] == 1
	ev.Time = time.Time{}
	if ns := int64(binary.LittleEndian.Uint64(p[9:17])); ns != 0 {
		ev.Time = time.Unix(0, ns).UTC()
	}
	return nil
}
