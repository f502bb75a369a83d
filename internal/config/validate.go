// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/go-lpc/dio/histdb"
	"github.com/go-lpc/dio/ip440"
)

// Validate checks the configuration is consistent.
// Validate does not modify cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if len(cfg.Ports) == 0 {
		return fmt.Errorf("config: no port defined")
	}

	for i, c := range cfg.Carriers {
		if c.Name == "" {
			return fmt.Errorf("config: carrier %d has no name", i)
		}
		if c.Slots <= 0 {
			return fmt.Errorf("config: carrier %q: invalid number of slots %d", c.Name, c.Slots)
		}
	}

	ports := make(map[string]bool, len(cfg.Ports))
	slots := make(map[[2]int]string, len(cfg.Ports))
	for _, p := range cfg.Ports {
		if p.Name == "" {
			return fmt.Errorf("config: port with no name (carrier=%d, slot=%d)", p.Carrier, p.Slot)
		}
		if ports[p.Name] {
			return fmt.Errorf("config: duplicate port %q", p.Name)
		}
		ports[p.Name] = true

		if p.Carrier < 0 || p.Carrier >= len(cfg.Carriers) {
			return fmt.Errorf("config: port %q: unknown carrier %d", p.Name, p.Carrier)
		}
		if p.Slot < 0 || p.Slot >= cfg.Carriers[p.Carrier].Slots {
			return fmt.Errorf(
				"config: port %q: invalid slot %d for carrier %q",
				p.Name, p.Slot, cfg.Carriers[p.Carrier].Name,
			)
		}
		key := [2]int{p.Carrier, p.Slot}
		if prev, dup := slots[key]; dup {
			return fmt.Errorf(
				"config: ports %q and %q share carrier=%d slot=%d",
				prev, p.Name, p.Carrier, p.Slot,
			)
		}
		slots[key] = p.Name

		if p.PollMs < 0 {
			return fmt.Errorf("config: port %q: invalid poll interval %dms", p.Name, p.PollMs)
		}
		if p.Queue < 0 {
			return fmt.Errorf("config: port %q: invalid queue size %d", p.Name, p.Queue)
		}
		if _, err := ip440.ParseOverflow(p.Overflow); err != nil {
			return fmt.Errorf("config: port %q: %w", p.Name, err)
		}
	}

	if h := cfg.History; h != nil {
		if err := histdb.CheckDSN(h.DSN); err != nil {
			return fmt.Errorf("config: invalid history: %w", err)
		}
	}

	if a := cfg.Alert; a != nil {
		switch {
		case a.Server == "":
			return fmt.Errorf("config: alert: no SMTP server")
		case a.From == "":
			return fmt.Errorf("config: alert: no sender")
		case len(a.To) == 0:
			return fmt.Errorf("config: alert: no recipient")
		case len(a.Watch) == 0:
			return fmt.Errorf("config: alert: no watched port")
		}
		for _, w := range a.Watch {
			if !ports[w.Port] {
				return fmt.Errorf("config: alert: unknown port %q", w.Port)
			}
			if _, err := ParseEdge(w.Edge); err != nil {
				return fmt.Errorf("config: alert: port %q: %w", w.Port, err)
			}
		}
	}

	return nil
}
