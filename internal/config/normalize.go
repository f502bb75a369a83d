// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
)

const (
	DefaultDevMem = "/dev/mem"
	DefaultPollMs = 100
	DefaultQueue  = 1000
	DefaultSMTP   = 587
)

// Normalize fills in default values.
// Normalize must only be called on a valid configuration.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	for i := range cfg.Carriers {
		c := &cfg.Carriers[i]
		if c.DevMem == "" {
			c.DevMem = DefaultDevMem
		}
		if c.Stride == 0 {
			c.Stride = 2 * ipac.IOSpan
		}
		if c.IDOffset == 0 && c.IOOffset == 0 {
			c.IDOffset = ipac.IOSpan
		}
	}

	for i := range cfg.Ports {
		p := &cfg.Ports[i]
		if p.PollMs == 0 {
			p.PollMs = DefaultPollMs
		}
		if p.Queue == 0 {
			p.Queue = DefaultQueue
		}
		if p.Overflow == "" {
			p.Overflow = ip440.DropNewest.String()
		}
	}

	if a := cfg.Alert; a != nil {
		if a.Port == 0 {
			a.Port = DefaultSMTP
		}
		for i := range a.Watch {
			w := &a.Watch[i]
			if w.Mask == 0 {
				w.Mask = ip440.AllBits
			}
			if w.Edge == "" {
				w.Edge = "both"
			}
		}
	}
}
