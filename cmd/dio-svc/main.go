// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dio-svc polls the IP440 modules described in a configuration
// file, records their changes and sends alerts.
//
// Example:
//
//	$> dio-svc -cfg /etc/dio.yaml
//	$> dio-svc -cfg /etc/dio.yaml -pmon -freq 10s -dir /var/log/dio
package main // import "github.com/go-lpc/dio/cmd/dio-svc"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/dio/alert"
	"github.com/go-lpc/dio/histdb"
	"github.com/go-lpc/dio/internal/config"
	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

type options struct {
	mon    bool          // enable process monitoring
	freq   time.Duration // process monitoring frequency
	dir    string        // directory for pmon logs
	report time.Duration // interval between two status reports
}

func main() {
	var (
		fname  = flag.String("cfg", "dio.yaml", "path to configuration file")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		doFreq = flag.Duration("freq", 1*time.Second, "pmon frequency")
		dir    = flag.String("dir", "/var/log/dio", "directory for pmon logs")
		report = flag.Duration("report", 0, "interval between status reports (0 to disable)")
	)

	flag.Parse()

	log.SetPrefix("dio-svc: ")
	log.SetFlags(0)

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	err = run(cfg, options{
		mon:    *doMon,
		freq:   *doFreq,
		dir:    *dir,
		report: *report,
	}, stop, os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(cfg *config.Config, opts options, stop chan os.Signal, out io.Writer) error {
	if opts.mon {
		p, err := pmon.Monitor(os.Getpid())
		if err != nil {
			return fmt.Errorf("could not start monitoring: %w", err)
		}
		f, err := os.Create(filepath.Join(opts.dir, "dio-svc-pmon.log"))
		if err != nil {
			return fmt.Errorf("could not create pmon log file: %w", err)
		}
		defer f.Close()
		p.W = f
		p.Freq = opts.freq

		go func() {
			log.Printf("run pmon...")
			err := p.Run()
			if err != nil {
				log.Printf("could not run monitoring: %+v", err)
			}
		}()

		defer func() {
			err := p.Kill()
			if err != nil {
				log.Printf("could not stop monitoring: %+v", err)
			}
		}()
	}

	var bus ipac.Bus
	defer bus.Close()

	for _, c := range cfg.Carriers {
		mc, err := ipac.OpenMem(c.Name, c.DevMem, c.Layout())
		if err != nil {
			return fmt.Errorf("could not open carrier %q: %w", c.Name, err)
		}
		bus.Add(mc)
	}
	bus.Report(out)

	msg := log.New(out, "ip440: ", 0)
	devs := make(map[string]*ip440.Driver, len(cfg.Ports))
	for _, p := range cfg.Ports {
		dev := ip440.New(&bus, p.Name, p.Carrier, p.Slot, p.Poll(), append(p.Options(), ip440.WithLogger(msg))...)
		if !dev.Initialized() {
			// already logged by the driver.
			continue
		}
		devs[p.Name] = dev
	}
	if len(devs) == 0 {
		return fmt.Errorf("no IP440 module could be initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	grp, ctx := errgroup.WithContext(ctx)

	if h := cfg.History; h != nil {
		db, err := histdb.Open(h.DSN)
		if err != nil {
			return fmt.Errorf("could not open history db: %w", err)
		}
		defer db.Close()

		err = db.Init(ctx)
		if err != nil {
			return fmt.Errorf("could not initialize history db: %w", err)
		}

		hmsg := log.New(out, "histdb: ", 0)
		for _, p := range cfg.Ports {
			dev, ok := devs[p.Name]
			if !ok {
				continue
			}
			sub, err := dev.Subscribe(ip440.WithName("histdb"))
			if err != nil {
				return fmt.Errorf("could not subscribe to %q: %w", p.Name, err)
			}
			port := p.Name
			grp.Go(func() error {
				return db.Watch(ctx, port, sub, hmsg)
			})
		}
	}

	if a := cfg.Alert; a != nil {
		alr := alert.Dial(
			a.Server, a.Port, a.User, a.Password, a.From, a.To,
			log.New(out, "alert: ", 0),
		)
		for _, w := range a.Watch {
			dev, ok := devs[w.Port]
			if !ok {
				log.Printf("no alert for %q: port not initialized", w.Port)
				continue
			}
			sub, err := dev.Subscribe(
				ip440.WithName("alert"),
				ip440.WithMask(w.Mask),
				ip440.WithEdge(w.Trigger()),
			)
			if err != nil {
				return fmt.Errorf("could not subscribe to %q: %w", w.Port, err)
			}
			port := w.Port
			grp.Go(func() error {
				return alr.Watch(ctx, port, sub)
			})
		}
	}

	for _, p := range cfg.Ports {
		dev, ok := devs[p.Name]
		if !ok {
			continue
		}
		log.Printf("starting %q (poll=%v)...", p.Name, dev.PollInterval())
		grp.Go(func() error {
			return dev.Run(ctx)
		})
	}

	if opts.report > 0 {
		grp.Go(func() error {
			tck := time.NewTicker(opts.report)
			defer tck.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-tck.C:
					for _, p := range cfg.Ports {
						if dev, ok := devs[p.Name]; ok {
							dev.Report(out, 2)
						}
					}
				}
			}
		})
	}

	go func() {
		select {
		case <-stop:
			log.Printf("stopping...")
		case <-ctx.Done():
		}
		cancel()
	}()

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not run dio service: %w", err)
	}

	for _, p := range cfg.Ports {
		if dev, ok := devs[p.Name]; ok {
			dev.Report(out, 1)
		}
	}
	return nil
}
