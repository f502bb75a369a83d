// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"fmt"
	"io"
)

// offsets of the input ports, in units of 8-bit bytes.
var portOffsets = [4]int64{0x1, 0x3, 0x5, 0x7}

type port8 struct {
	r func() uint8
}

func newPort8(r io.ReaderAt, offset int64) port8 {
	return port8{
		r: func() uint8 {
			var buf [1]byte
			_, err := r.ReadAt(buf[:], offset)
			if err != nil {
				panic(fmt.Errorf("ip440: could not read input port at 0x%x: %+v", offset, err))
			}
			return buf[0]
		},
	}
}

// ports gives read access to the four input ports of the module.
type ports struct {
	in [4]port8
}

func newPorts(r io.ReaderAt) (ports, error) {
	// check the whole register set is addressable once, so per-sample
	// reads do not need an error path.
	var buf [1]byte
	last := portOffsets[len(portOffsets)-1]
	_, err := r.ReadAt(buf[:], last)
	if err != nil {
		return ports{}, fmt.Errorf("ip440: input port 0x%x not addressable: %w", last, err)
	}

	var p ports
	for i, off := range portOffsets {
		p.in[i] = newPort8(r, off)
	}
	return p, nil
}

// sample reads the four ports and assembles them little-endian.
func (p *ports) sample(mask uint32) uint32 {
	v := uint32(p.in[0].r())
	v |= uint32(p.in[1].r()) << 8
	v |= uint32(p.in[2].r()) << 16
	v |= uint32(p.in[3].r()) << 24
	return v & mask
}
