// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides read-only views over memory-mapped device files.
package mmap // import "github.com/go-lpc/dio/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a read-only window over a memory-mapped region.
type Handle struct {
	raw  []byte // page-aligned mapping, nil when not owned
	data []byte // requested window inside raw
}

// HandleFrom wraps a byte slice the handle does not own.
func HandleFrom(data []byte) *Handle {
	return &Handle{data: data}
}

// Open maps span bytes of fname, starting at offset off, for reading.
//
// The offset does not need to be page-aligned: the mapping starts at the
// enclosing page boundary and the handle exposes only the requested window.
func Open(fname string, off int64, span int) (*Handle, error) {
	if off < 0 || span <= 0 {
		return nil, fmt.Errorf("mmap: invalid window (off=0x%x, span=%d)", off, span)
	}

	f, err := os.OpenFile(fname, os.O_RDONLY|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	// the mapping outlives the file descriptor.
	defer f.Close()

	var (
		page  = int64(unix.Getpagesize())
		base  = off &^ (page - 1)
		delta = int(off - base)
	)

	raw, err := unix.Mmap(int(f.Fd()), base, delta+span, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q (off=0x%x, span=%d): %w", fname, off, span, err)
	}
	if len(raw) != delta+span {
		_ = unix.Munmap(raw)
		return nil, fmt.Errorf("mmap: invalid mmap'd data: %d", len(raw))
	}

	h := &Handle{raw: raw, data: raw[delta : delta+span]}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// Close closes the mmap handle.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	raw := h.raw
	h.raw = nil
	h.data = nil
	runtime.SetFinalizer(h, nil)

	if raw == nil {
		return nil
	}
	return unix.Munmap(raw)
}

// Len returns the length of the memory-mapped window.
func (h *Handle) Len() int {
	return len(h.data)
}

// At returns the byte at index i.
func (h *Handle) At(i int) byte {
	return h.data[i]
}

// Section returns a reader over n bytes of the window, starting at off.
func (h *Handle) Section(off int64, n int64) *io.SectionReader {
	return io.NewSectionReader(h, off, n)
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h == nil {
		return 0, os.ErrInvalid
	}

	if h.data == nil {
		return 0, errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return 0, fmt.Errorf("mmap: invalid ReadAt offset %d", off)
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
