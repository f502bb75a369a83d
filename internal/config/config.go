// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config describes the YAML configuration of the dio commands.
package config // import "github.com/go-lpc/dio/internal/config"

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/gpio"
)

// Config is the configuration of a dio service.
type Config struct {
	Carriers []Carrier `yaml:"carriers"`
	Ports    []Port    `yaml:"ports"`
	History  *History  `yaml:"history"`
	Alert    *Alert    `yaml:"alert"`
}

// Carrier describes an IP carrier mapped from a memory device.
type Carrier struct {
	Name     string `yaml:"name"`
	DevMem   string `yaml:"devmem"`
	Base     int64  `yaml:"base"`
	Stride   int64  `yaml:"stride"`
	IOOffset int64  `yaml:"io_offset"`
	IDOffset int64  `yaml:"id_offset"`
	Slots    int    `yaml:"slots"`
}

// Layout returns the memory layout of the carrier.
func (c Carrier) Layout() ipac.Layout {
	return ipac.Layout{
		Base:     c.Base,
		Stride:   c.Stride,
		IOOffset: c.IOOffset,
		IDOffset: c.IDOffset,
		Slots:    c.Slots,
	}
}

// Port describes an IP440 module.
type Port struct {
	Name     string `yaml:"name"`
	Carrier  int    `yaml:"carrier"`
	Slot     int    `yaml:"slot"`
	PollMs   int    `yaml:"poll_ms"`
	Queue    int    `yaml:"queue"`
	Overflow string `yaml:"overflow"`
	Trace    bool   `yaml:"trace"`
}

// Poll returns the poll interval of the port.
func (p Port) Poll() time.Duration {
	return time.Duration(p.PollMs) * time.Millisecond
}

// Options returns the driver options of the port.
func (p Port) Options() []ip440.Option {
	ovf, _ := ip440.ParseOverflow(p.Overflow)
	return []ip440.Option{
		ip440.WithTrace(p.Trace),
		ip440.WithQueueSize(p.Queue),
		ip440.WithOverflow(ovf),
	}
}

// History configures the recording of change events in a MySQL database.
type History struct {
	DSN string `yaml:"dsn"`
}

// Alert configures e-mail notifications of alarm lines.
type Alert struct {
	Server   string   `yaml:"server"`
	Port     int      `yaml:"port"`
	User     string   `yaml:"user"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	Watch    []Watch  `yaml:"watch"`
}

// Watch selects the lines of a port that trigger an alert.
type Watch struct {
	Port string `yaml:"port"`
	Mask uint32 `yaml:"mask"`
	Edge string `yaml:"edge"`
}

// Trigger returns the edge of the watched lines that triggers an alert.
func (w Watch) Trigger() gpio.Edge {
	edge, _ := ParseEdge(w.Edge)
	return edge
}

// ParseEdge parses the textual form of a trigger edge.
func ParseEdge(s string) (gpio.Edge, error) {
	switch s {
	case "", "both":
		return gpio.BothEdges, nil
	case "rising":
		return gpio.RisingEdge, nil
	case "falling":
		return gpio.FallingEdge, nil
	default:
		return gpio.NoEdge, fmt.Errorf("config: invalid edge %q", s)
	}
}

// Load reads, validates and normalizes the configuration file fname.
func Load(fname string) (*Config, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("config: could not read %q: %w", fname, err)
	}

	cfg, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("config: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode decodes, validates and normalizes a YAML configuration.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("config: could not decode: %w", err)
	}

	err = Validate(&cfg)
	if err != nil {
		return nil, err
	}
	Normalize(&cfg)

	return &cfg, nil
}
