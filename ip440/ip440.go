// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ip440 drives the Acromag IP440 32-channel digital input module.
//
// A Driver polls the input ports of the module at a fixed interval,
// detects which lines changed since the previous sample and publishes the
// new value together with the mask of changed lines to its subscribers.
// The last published value is cached and can be read concurrently with
// the poller.
package ip440 // import "github.com/go-lpc/dio/ip440"

import (
	"errors"
)

// Identification of the IP440 in the ID PROM of its slot.
const (
	AcromagID = 0xa3 // manufacturer ID of Acromag modules
	ModelID   = 0x10 // model ID of the IP440
)

// AllBits is the mask selecting the 32 input lines of the module.
const AllBits uint32 = 0xffffffff

const driverName = "IP440"

var (
	// ErrNotInitialized is returned by the operations of a driver that
	// failed its configuration.
	ErrNotInitialized = errors.New("ip440: driver not initialized")

	// ErrNoValue is returned when reading the cached value before the
	// poller published its first sample.
	ErrNoValue = errors.New("ip440: no value published yet")

	// ErrRunning is returned when starting a poller that is already running.
	ErrRunning = errors.New("ip440: poller already running")
)
