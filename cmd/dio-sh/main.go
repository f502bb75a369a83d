// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dio-sh is an interactive shell to configure and inspect IP440
// modules.
//
// Example:
//
//	$> dio-sh -cfg /etc/dio.yaml
//	dio> initIP440 DIO1 0 0 100
//	dio> read DIO1 0xff
//	dio> report DIO1 2
//	dio> watch DIO1 0x1 rising 3
//	dio> quit
package main // import "github.com/go-lpc/dio/cmd/dio-sh"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/dio/internal/config"
	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
	"github.com/peterh/liner"
)

func main() {
	var (
		fname = flag.String("cfg", "", "path to configuration file with carriers and ports")
		trace = flag.Bool("trace", false, "enable tracing of reads and polls")
	)

	flag.Parse()

	log.SetPrefix("dio-sh: ")
	log.SetFlags(0)

	sh := newShell(os.Stdout, *trace)
	defer sh.close()

	if *fname != "" {
		cfg, err := config.Load(*fname)
		if err != nil {
			log.Fatalf("could not load configuration: %+v", err)
		}
		err = sh.load(cfg)
		if err != nil {
			log.Fatalf("could not setup shell: %+v", err)
		}
	}

	for _, fname := range flag.Args() {
		err := sh.source(fname)
		if err != nil {
			log.Fatalf("could not run script %q: %+v", fname, err)
		}
	}

	sh.loop()
}

var errQuit = errors.New("quit")

const defaultWatchTimeout = 10 * time.Second

type shell struct {
	out   io.Writer
	msg   *log.Logger
	trace bool

	bus  ipac.Bus
	devs map[string]*ip440.Driver

	cmds map[string]command
}

type command struct {
	usage string
	help  string
	run   func(args []string) error
}

func newShell(out io.Writer, trace bool) *shell {
	sh := &shell{
		out:   out,
		msg:   log.New(out, "ip440: ", 0),
		trace: trace,
		devs:  make(map[string]*ip440.Driver),
	}
	sh.cmds = map[string]command{
		"help":      {"help", "print this help", sh.cmdHelp},
		"carriers":  {"carriers", "list the IP carriers", sh.cmdCarriers},
		"carrier":   {"carrier <name> <devmem> <base> <slots>", "map a carrier from a memory device", sh.cmdCarrier},
		"initIP440": {"initIP440 <port> <carrier> <slot> <msecPoll>", "initialize an IP440 module", sh.cmdInit},
		"start":     {"start <port>", "restart polling a module, if stopped", sh.cmdStart},
		"read":      {"read <port> [mask]", "read the input ports of a module", sh.cmdRead},
		"value":     {"value <port> [mask]", "print the last published value of a module", sh.cmdValue},
		"report":    {"report [port] [details]", "print a report of one or all modules", sh.cmdReport},
		"watch":     {"watch <port> [mask] [rising|falling|both] [n] [timeout]", "print the next n change events of a module", sh.cmdWatch},
		"quit":      {"quit", "exit the shell", sh.cmdQuit},
		"exit":      {"exit", "exit the shell", sh.cmdQuit},
	}
	return sh
}

func (sh *shell) close() {
	err := sh.bus.Close()
	if err != nil {
		log.Printf("could not close carriers: %+v", err)
	}
}

func (sh *shell) load(cfg *config.Config) error {
	for _, c := range cfg.Carriers {
		mc, err := ipac.OpenMem(c.Name, c.DevMem, c.Layout())
		if err != nil {
			return fmt.Errorf("could not open carrier %q: %w", c.Name, err)
		}
		sh.bus.Add(mc)
	}
	for _, p := range cfg.Ports {
		opts := append(p.Options(), ip440.WithLogger(sh.msg), ip440.WithTrace(sh.trace || p.Trace))
		err := sh.add(ip440.New(&sh.bus, p.Name, p.Carrier, p.Slot, p.Poll(), opts...))
		if err != nil {
			return err
		}
	}
	return nil
}

// add registers a driver and starts its poller.
// Drivers that failed their initialization are registered too, so they
// show up in reports.
func (sh *shell) add(dev *ip440.Driver) error {
	sh.devs[dev.Name()] = dev
	if !dev.Initialized() {
		// already logged by the driver.
		return nil
	}
	err := dev.Start()
	if err != nil {
		return fmt.Errorf("could not start poller of %q: %w", dev.Name(), err)
	}
	return nil
}

func (sh *shell) loop() {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	for {
		line, err := term.Prompt("dio> ")
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, liner.ErrPromptAborted) {
				log.Printf("could not read line: %+v", err)
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(line)
		switch {
		case err == nil:
		case errors.Is(err, errQuit):
			return
		default:
			fmt.Fprintf(sh.out, "error: %+v\n", err)
		}
	}
}

func (sh *shell) complete(line string) []string {
	var out []string
	for name := range sh.cmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// source executes the commands of a script file.
func (sh *shell) source(fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open script: %w", err)
	}
	defer f.Close()

	scan := bufio.NewScanner(f)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		err = sh.exec(line)
		if err != nil {
			return fmt.Errorf("could not execute %q: %w", line, err)
		}
	}
	return scan.Err()
}

func (sh *shell) exec(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, ok := sh.cmds[args[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(args[1:])
}

func (sh *shell) device(name string) (*ip440.Driver, error) {
	dev, ok := sh.devs[name]
	if !ok {
		return nil, fmt.Errorf("unknown port %q", name)
	}
	return dev, nil
}

func (sh *shell) cmdHelp(args []string) error {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := sh.cmds[name]
		fmt.Fprintf(sh.out, "  %-50s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func (sh *shell) cmdCarriers(args []string) error {
	sh.bus.Report(sh.out)
	return nil
}

func (sh *shell) cmdCarrier(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: %s", sh.cmds["carrier"].usage)
	}
	base, err := strconv.ParseInt(args[2], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid base address %q: %w", args[2], err)
	}
	slots, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid number of slots %q: %w", args[3], err)
	}

	c := config.Carrier{Name: args[0], DevMem: args[1], Base: base, Slots: slots}
	cfg := config.Config{Carriers: []config.Carrier{c}}
	config.Normalize(&cfg)

	mc, err := ipac.OpenMem(c.Name, c.DevMem, cfg.Carriers[0].Layout())
	if err != nil {
		return err
	}
	id := sh.bus.Add(mc)
	fmt.Fprintf(sh.out, "carrier %d: %s (%d slots)\n", id, c.Name, slots)
	return nil
}

func (sh *shell) cmdInit(args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: %s", sh.cmds["initIP440"].usage)
	}
	name := args[0]
	if _, dup := sh.devs[name]; dup {
		return fmt.Errorf("port %q already initialized", name)
	}

	var vs [3]int
	for i, arg := range args[1:] {
		v, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid argument %q: %w", arg, err)
		}
		vs[i] = v
	}
	var (
		carrier = vs[0]
		slot    = vs[1]
		poll    = time.Duration(vs[2]) * time.Millisecond
	)

	return sh.add(ip440.New(&sh.bus, name, carrier, slot, poll, ip440.WithLogger(sh.msg), ip440.WithTrace(sh.trace)))
}

func (sh *shell) cmdStart(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s", sh.cmds["start"].usage)
	}
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	err = dev.Start()
	if errors.Is(err, ip440.ErrRunning) {
		return nil
	}
	return err
}

func parseMask(args []string, i int) (uint32, error) {
	if len(args) <= i {
		return ip440.AllBits, nil
	}
	v, err := strconv.ParseUint(args[i], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mask %q: %w", args[i], err)
	}
	return uint32(v), nil
}

func (sh *shell) cmdRead(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: %s", sh.cmds["read"].usage)
	}
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	mask, err := parseMask(args, 1)
	if err != nil {
		return err
	}
	v, err := dev.Read(mask)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s: 0x%08x\n", dev.Name(), v)
	return nil
}

func (sh *shell) cmdValue(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: %s", sh.cmds["value"].usage)
	}
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	mask, err := parseMask(args, 1)
	if err != nil {
		return err
	}
	v, err := dev.Value(mask)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s: 0x%08x\n", dev.Name(), v)
	return nil
}

func (sh *shell) cmdReport(args []string) error {
	details := 1
	switch len(args) {
	case 0:
		names := make([]string, 0, len(sh.devs))
		for name := range sh.devs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sh.devs[name].Report(sh.out, details)
		}
		return nil
	case 2:
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid details level %q: %w", args[1], err)
		}
		details = v
		fallthrough
	case 1:
		dev, err := sh.device(args[0])
		if err != nil {
			return err
		}
		dev.Report(sh.out, details)
		return nil
	default:
		return fmt.Errorf("usage: %s", sh.cmds["report"].usage)
	}
}

func (sh *shell) cmdWatch(args []string) error {
	if len(args) < 1 || len(args) > 5 {
		return fmt.Errorf("usage: %s", sh.cmds["watch"].usage)
	}
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	mask, err := parseMask(args, 1)
	if err != nil {
		return err
	}
	edge := ""
	if len(args) > 2 {
		edge = args[2]
	}
	trigger, err := config.ParseEdge(edge)
	if err != nil {
		return err
	}
	n := 1
	if len(args) > 3 {
		n, err = strconv.Atoi(args[3])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid number of events %q", args[3])
		}
	}
	timeout := defaultWatchTimeout
	if len(args) > 4 {
		timeout, err = time.ParseDuration(args[4])
		if err != nil || timeout <= 0 {
			return fmt.Errorf("invalid timeout %q", args[4])
		}
	}

	sub, err := dev.Subscribe(
		ip440.WithName("dio-sh"),
		ip440.WithMask(mask),
		ip440.WithEdge(trigger),
		ip440.WithQueue(n),
	)
	if err != nil {
		return err
	}
	defer sub.Close()

	intr := make(chan os.Signal, 1)
	signal.Notify(intr, os.Interrupt)
	defer signal.Stop(intr)

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	for i := 0; i < n; i++ {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			fmt.Fprintf(sh.out, "%s: %v\n", dev.Name(), ev)
		case <-intr:
			return fmt.Errorf("watch of %q interrupted after %d events", dev.Name(), i)
		case <-tmr.C:
			return fmt.Errorf("watch of %q timed out after %v (%d events)", dev.Name(), timeout, i)
		}
	}
	return nil
}

func (sh *shell) cmdQuit(args []string) error {
	return errQuit
}
