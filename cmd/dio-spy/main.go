// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dio-spy spies the content of the IP modules of the configured
// carriers.
package main // import "github.com/go-lpc/dio/cmd/dio-spy"

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/dio/internal/config"
	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
)

func main() {
	log.SetPrefix("dio-spy: ")
	log.SetFlags(0)

	fname := flag.String("cfg", "dio.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	var bus ipac.Bus
	defer bus.Close()

	for _, c := range cfg.Carriers {
		mc, err := ipac.OpenMem(c.Name, c.DevMem, c.Layout())
		if err != nil {
			log.Fatalf("could not open carrier %q: %+v", c.Name, err)
		}
		bus.Add(mc)
	}

	fmt.Printf("------------------------------------------------\n")
	const layout = "2006-01-02 15:04:05 MST"
	fmt.Printf("%v\n", time.Now().Format(layout))

	spy(os.Stdout, &bus, len(cfg.Carriers))
}

// spy dumps the identification and, for IP440 modules, the input ports of
// every slot of the first n carriers of bus.
func spy(w io.Writer, bus *ipac.Bus, n int) {
	msg := log.New(io.Discard, "", 0)
	for i := 0; i < n; i++ {
		for j := 0; ; j++ {
			slot, err := bus.Slot(i, j)
			if err != nil {
				break
			}
			id, err := ipac.ReadID(slot)
			if err != nil {
				fmt.Fprintf(w, "carrier=%d slot=%d: <empty> (%v)\n", i, j, err)
				continue
			}
			fmt.Fprintf(w, "carrier=%d slot=%d: manufacturer=0x%02x model=0x%02x revision=0x%02x\n",
				i, j, id.Manufacturer, id.Model, id.Revision,
			)
			if id.Check(ip440.AcromagID, ip440.ModelID) != nil {
				continue
			}
			dev := ip440.New(bus, slot.Name, i, j, time.Second, ip440.WithLogger(msg))
			v, err := dev.Read(ip440.AllBits)
			if err != nil {
				fmt.Fprintf(w, "  could not read inputs: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "  inputs=0x%08x\n", v)
		}
	}
}
