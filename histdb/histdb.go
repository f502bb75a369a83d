// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package histdb stores the history of digital input changes in a
// MySQL database.
package histdb // import "github.com/go-lpc/dio/histdb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-lpc/dio/ip440"
	"github.com/go-sql-driver/mysql"
)

var (
	drvName = "mysql"

	timeout = 5 * time.Second
)

var (
	ErrNoEvent = errors.New("histdb: no event")
)

// Schema is the SQL definition of the events table.
const Schema = `
CREATE TABLE IF NOT EXISTS dio_events (
	identifier BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	port       VARCHAR(64)  NOT NULL,
	datetime   DATETIME(6)  NOT NULL,
	value      INT UNSIGNED NOT NULL,
	changed    INT UNSIGNED NOT NULL,
	initial    BOOLEAN      NOT NULL,
	INDEX (port, datetime)
)`

// DB exposes convenience methods to record and retrieve digital input
// changes.
type DB struct {
	db   *sql.DB
	name string
}

// DSN returns the data source name for a MySQL server at addr.
func DSN(usr, pwd, addr, dbname string) string {
	cfg := mysql.NewConfig()
	cfg.User = usr
	cfg.Passwd = pwd
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.DBName = dbname
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// CheckDSN checks dsn is a valid data source name.
func CheckDSN(dsn string) error {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("histdb: invalid DSN: %w", err)
	}
	if cfg.DBName == "" {
		return fmt.Errorf("histdb: invalid DSN: missing database name")
	}
	return nil
}

// Open opens a connection to the MySQL database described by dsn.
func Open(dsn string) (*DB, error) {
	return OpenWith(drvName, dsn)
}

// OpenWith opens a connection to the database described by dsn, through
// the named database/sql driver.
func OpenWith(driver, dsn string) (*DB, error) {
	name := dsn
	if cfg, err := mysql.ParseDSN(dsn); err == nil {
		name = cfg.DBName
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("histdb: could not open %q db: %w", name, err)
	}

	err = ping(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: name}, nil
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("histdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Init creates the events table, if needed.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(ctx, Schema)
	if err != nil {
		return fmt.Errorf("histdb: could not create events table: %w", err)
	}
	return nil
}

// Record stores a change event published by port.
func (db *DB) Record(ctx context.Context, port string, ev ip440.Event) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	at := ev.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO dio_events (port, datetime, value, changed, initial) VALUES (?, ?, ?, ?, ?)",
		port, at, ev.Value, ev.Changed, ev.Initial,
	)
	if err != nil {
		return fmt.Errorf("histdb: could not record event for %q: %w", port, err)
	}
	return nil
}

// Last returns the last recorded event of port.
func (db *DB) Last(ctx context.Context, port string) (ip440.Event, error) {
	evts, err := db.query(
		ctx,
		"SELECT value, changed, initial, datetime FROM dio_events WHERE port=? ORDER BY datetime DESC LIMIT 1",
		port,
	)
	if err != nil {
		return ip440.Event{}, err
	}
	if len(evts) == 0 {
		return ip440.Event{}, fmt.Errorf("%w for %q", ErrNoEvent, port)
	}
	return evts[0], nil
}

// History returns the events of port recorded since the provided time,
// oldest first.
func (db *DB) History(ctx context.Context, port string, since time.Time) ([]ip440.Event, error) {
	return db.query(
		ctx,
		"SELECT value, changed, initial, datetime FROM dio_events WHERE (port=? AND datetime>=?) ORDER BY datetime ASC",
		port, since,
	)
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) ([]ip440.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("histdb: could not query events: %w", err)
	}
	defer rows.Close()

	var evts []ip440.Event
	for rows.Next() {
		var ev ip440.Event
		err = rows.Scan(&ev.Value, &ev.Changed, &ev.Initial, &ev.Time)
		if err != nil {
			return nil, fmt.Errorf("histdb: could not scan row %d: %w", len(evts), err)
		}
		evts = append(evts, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("histdb: could not scan db for events: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("histdb: context error while retrieving events: %w", err)
	}

	return evts, nil
}

// Watch records every event delivered by sub, until ctx is done or the
// subscription is closed.
// Failing to record an event is logged and does not stop the recording.
func (db *DB) Watch(ctx context.Context, port string, sub *ip440.Subscription, msg *log.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			err := db.Record(ctx, port, ev)
			if err != nil {
				msg.Printf("%+v", err)
			}
		}
	}
}
