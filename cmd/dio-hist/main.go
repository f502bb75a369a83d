// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dio-hist displays the recorded history of digital input changes.
//
// Example:
//
//	$> dio-hist -dsn "dio:s3cr3t@tcp(localhost:3306)/slowctl?parseTime=true" -port DIO1 -since 24h
package main // import "github.com/go-lpc/dio/cmd/dio-hist"

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/dio/histdb"
)

func main() {
	log.SetPrefix("dio-hist: ")
	log.SetFlags(0)

	var (
		dsn   = flag.String("dsn", os.Getenv("DIO_DSN"), "data source name of the history db")
		port  = flag.String("port", "DIO1", "port to inspect")
		since = flag.Duration("since", 0, "display events recorded in the last period (0: last event only)")
	)

	flag.Parse()

	err := histdb.CheckDSN(*dsn)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	db, err := histdb.Open(*dsn)
	if err != nil {
		log.Fatalf("could not open history db: %+v", err)
	}
	defer db.Close()

	err = doQuery(os.Stdout, db, *port, *since, time.Now())
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(w io.Writer, db *histdb.DB, port string, since time.Duration, now time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const layout = "2006-01-02 15:04:05.000000 MST"

	if since <= 0 {
		ev, err := db.Last(ctx, port)
		if err != nil {
			return fmt.Errorf("could not get last event of %q: %w", port, err)
		}
		fmt.Fprintf(w, "%s: %s %v (rising=0x%08x, falling=0x%08x)\n",
			port, ev.Time.UTC().Format(layout), ev, ev.Rising(), ev.Falling(),
		)
		return nil
	}

	evts, err := db.History(ctx, port, now.Add(-since).UTC())
	if err != nil {
		return fmt.Errorf("could not get history of %q: %w", port, err)
	}
	fmt.Fprintf(w, "%s: %d events since %v\n", port, len(evts), since)
	for i, ev := range evts {
		fmt.Fprintf(w, "row[%d]: %s %v (rising=0x%08x, falling=0x%08x)\n",
			i, ev.Time.UTC().Format(layout), ev, ev.Rising(), ev.Falling(),
		)
	}
	return nil
}
