// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"fmt"
	"log"
	"os"

	"periph.io/x/conn/v3/gpio"
)

// Overflow is the policy applied when a subscriber queue is full.
type Overflow int

const (
	DropNewest Overflow = iota // discard the event being published
	DropOldest                 // discard the oldest queued event
)

func (o Overflow) String() string {
	switch o {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("Overflow(%d)", int(o))
	}
}

// ParseOverflow parses the textual form of an overflow policy.
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop-newest":
		return DropNewest, nil
	case "drop-oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("ip440: invalid overflow policy %q", s)
	}
}

const defaultQueueSize = 1000

type config struct {
	msg   *log.Logger
	trace bool
	queue int
	ovf   Overflow
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "ip440: ", 0),
		queue: defaultQueueSize,
		ovf:   DropNewest,
	}
}

// Option configures a Driver.
type Option func(*config)

// WithLogger sets the logger used by the driver.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithTrace enables the tracing of every read and poll cycle.
func WithTrace(v bool) Option {
	return func(cfg *config) {
		cfg.trace = v
	}
}

// WithQueueSize sets the default capacity of subscriber queues.
func WithQueueSize(n int) Option {
	return func(cfg *config) {
		cfg.queue = n
	}
}

// WithOverflow sets the default overflow policy of subscriber queues.
func WithOverflow(o Overflow) Option {
	return func(cfg *config) {
		cfg.ovf = o
	}
}

type subConfig struct {
	name  string
	mask  uint32
	edge  gpio.Edge
	queue int
	ovf   Overflow
}

// SubOption configures a Subscription.
type SubOption func(*subConfig)

// WithName names the subscription, for reports.
func WithName(name string) SubOption {
	return func(cfg *subConfig) {
		cfg.name = name
	}
}

// WithMask restricts the subscription to the lines set in mask.
func WithMask(mask uint32) SubOption {
	return func(cfg *subConfig) {
		cfg.mask = mask
	}
}

// WithEdge selects the transitions the subscription is notified of.
// The default is gpio.BothEdges.
func WithEdge(edge gpio.Edge) SubOption {
	return func(cfg *subConfig) {
		cfg.edge = edge
	}
}

// WithQueue sets the capacity of the subscription queue.
func WithQueue(n int) SubOption {
	return func(cfg *subConfig) {
		cfg.queue = n
	}
}

// WithPolicy sets the overflow policy of the subscription queue.
func WithPolicy(o Overflow) SubOption {
	return func(cfg *subConfig) {
		cfg.ovf = o
	}
}
