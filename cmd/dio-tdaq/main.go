// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dio-tdaq starts a TDAQ server streaming the change events of an
// IP440 module on its "/dio" output.
//
// Example:
//
//	$> dio-tdaq -id dio-1 -lvl debug /etc/dio.yaml DIO1
package main // import "github.com/go-lpc/dio/cmd/dio-tdaq"

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/dio/internal/config"
	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) != 2 {
		log.Fatalf("usage: dio-tdaq [options] <config.yaml> <port>")
	}

	dev := node{
		fname: cmd.Args[0],
		port:  cmd.Args[1],
		msg:   log.New(os.Stdout, "ip440: ", 0),
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/dio", dev.events)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type node struct {
	fname string
	port  string
	msg   *log.Logger

	mu   sync.Mutex
	cfg  *config.Config
	bus  *ipac.Bus
	dev  *ip440.Driver
	sub  *ip440.Subscription
	stop context.CancelFunc // stops the running poller
	done chan struct{}      // closed when the running poller returned

	n atomic.Int64 // number of events sent during the current run
}

func (dev *node) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	return dev.configure()
}

func (dev *node) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	return dev.init()
}

func (dev *node) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := dev.reset()
	if err != nil {
		return err
	}
	return dev.init()
}

func (dev *node) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.dev == nil {
		return fmt.Errorf("dio-tdaq: port %q not initialized", dev.port)
	}
	dev.n.Store(0)
	return nil
}

func (dev *node) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := dev.n.Load()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	return nil
}

func (dev *node) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return dev.reset()
}

func (dev *node) events(ctx tdaq.Context, dst *tdaq.Frame) error {
	body, err := dev.next(ctx.Ctx)
	if err != nil {
		return err
	}
	dst.Body = body
	return nil
}

func (dev *node) run(ctx tdaq.Context) error {
	return dev.poll(ctx.Ctx)
}

func (dev *node) configure() error {
	cfg, err := config.Load(dev.fname)
	if err != nil {
		return fmt.Errorf("dio-tdaq: could not load configuration: %w", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	for _, p := range cfg.Ports {
		if p.Name == dev.port {
			dev.cfg = cfg
			return nil
		}
	}
	return fmt.Errorf("dio-tdaq: no port %q in %q", dev.port, dev.fname)
}

func (dev *node) init() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	if dev.cfg == nil {
		return fmt.Errorf("dio-tdaq: port %q not configured", dev.port)
	}
	err := dev.resetLocked()
	if err != nil {
		return err
	}

	bus := new(ipac.Bus)
	for _, c := range dev.cfg.Carriers {
		mc, err := ipac.OpenMem(c.Name, c.DevMem, c.Layout())
		if err != nil {
			_ = bus.Close()
			return fmt.Errorf("dio-tdaq: could not open carrier %q: %w", c.Name, err)
		}
		bus.Add(mc)
	}

	for _, p := range dev.cfg.Ports {
		if p.Name != dev.port {
			continue
		}
		drv := ip440.New(bus, p.Name, p.Carrier, p.Slot, p.Poll(), append(p.Options(), ip440.WithLogger(dev.msg))...)
		if err := drv.Err(); err != nil {
			_ = bus.Close()
			return err
		}
		sub, err := drv.Subscribe(ip440.WithName("tdaq"))
		if err != nil {
			_ = bus.Close()
			return fmt.Errorf("dio-tdaq: could not subscribe to %q: %w", p.Name, err)
		}
		dev.bus = bus
		dev.dev = drv
		dev.sub = sub
		dev.n.Store(0)
		return nil
	}

	_ = bus.Close()
	return fmt.Errorf("dio-tdaq: no port %q", dev.port)
}

func (dev *node) reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.resetLocked()
}

// resetLocked stops the poller, if any, and only then unmaps the carriers.
func (dev *node) resetLocked() error {
	if dev.stop != nil {
		dev.stop()
		<-dev.done
		dev.stop = nil
		dev.done = nil
	}
	if dev.sub != nil {
		_ = dev.sub.Close()
		dev.sub = nil
	}
	dev.dev = nil
	if dev.bus != nil {
		err := dev.bus.Close()
		dev.bus = nil
		if err != nil {
			return fmt.Errorf("dio-tdaq: could not close carriers: %w", err)
		}
	}
	return nil
}

// poll runs the poller until ctx is done or the node is reset.
func (dev *node) poll(ctx context.Context) error {
	dev.mu.Lock()
	drv := dev.dev
	if drv == nil {
		dev.mu.Unlock()
		return fmt.Errorf("dio-tdaq: port %q not initialized", dev.port)
	}
	if dev.done != nil {
		select {
		case <-dev.done:
		default:
			dev.mu.Unlock()
			return fmt.Errorf("dio-tdaq: port %q: %w", dev.port, ip440.ErrRunning)
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	dev.stop = cancel
	dev.done = done
	dev.mu.Unlock()

	defer close(done)
	defer cancel()

	return drv.Run(ctx)
}

// next returns the encoded form of the next change event.
// next returns a nil body when ctx is done or the node is reset.
func (dev *node) next(ctx context.Context) ([]byte, error) {
	dev.mu.Lock()
	sub := dev.sub
	dev.mu.Unlock()

	if sub == nil {
		<-ctx.Done()
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, nil
	case ev, ok := <-sub.C():
		if !ok {
			return nil, nil
		}
		raw, err := ev.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("dio-tdaq: could not encode event: %w", err)
		}
		dev.n.Add(1)
		return raw, nil
	}
}
