// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends e-mail alerts when watched digital inputs change.
package alert // import "github.com/go-lpc/dio/alert"

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/dio/ip440"
	mail "gopkg.in/gomail.v2"
)

// MaxAlerts is the default number of alerts sent per port.
// Subsequent alerts are only logged.
const MaxAlerts = 5

// Alerter sends change events as e-mails.
type Alerter struct {
	msg  *log.Logger
	snd  mail.Sender
	from string
	to   []string
	max  int

	mu     sync.Mutex
	alerts map[string]int // number of alerts sent per port
}

// New returns an alerter sending mails from the provided address to the
// provided recipients, through snd.
func New(snd mail.Sender, from string, to []string, msg *log.Logger) *Alerter {
	if msg == nil {
		msg = log.New(os.Stdout, "alert: ", 0)
	}
	return &Alerter{
		msg:    msg,
		snd:    snd,
		from:   from,
		to:     to,
		max:    MaxAlerts,
		alerts: make(map[string]int),
	}
}

// Dial returns an alerter sending mails through the SMTP server at srv:port.
// A new connection to the server is opened for every alert.
func Dial(srv string, port int, usr, pwd, from string, to []string, msg *log.Logger) *Alerter {
	dial := mail.NewDialer(srv, port, usr, pwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	snd := mail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		conn, err := dial.Dial()
		if err != nil {
			return fmt.Errorf("alert: could not dial %s:%d: %w", srv, port, err)
		}
		defer conn.Close()
		return conn.Send(from, to, msg)
	})
	return New(snd, from, to, msg)
}

// SetMax sets the number of alerts sent per port.
// A negative value disables the limit.
func (a *Alerter) SetMax(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.max = n
}

// Notify sends an alert for the event published by port.
func (a *Alerter) Notify(port string, ev ip440.Event) error {
	a.mu.Lock()
	a.alerts[port]++
	n := a.alerts[port]
	limit := a.max
	a.mu.Unlock()

	if limit >= 0 && n > limit {
		a.msg.Printf("alert for %q suppressed (%d alerts sent): %v", port, limit, ev)
		return nil
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", a.from)
	msg.SetHeader("Bcc", a.to...)
	msg.SetHeader("Subject", fmt.Sprintf("[dio] alert: %q lines 0x%08x changed", port, ev.Changed))
	msg.SetBody("text/plain", fmt.Sprintf(
		"port:    %q\nvalue:   0x%08x\nchanged: 0x%08x\nrising:  0x%08x\nfalling: 0x%08x\ninitial: %v\ntime:    %v\n",
		port, ev.Value, ev.Changed, ev.Rising(), ev.Falling(), ev.Initial,
		ev.Time.UTC().Format("2006-01-02 15:04:05.000000"),
	))

	err := mail.Send(a.snd, msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail alert for %q: %w", port, err)
	}
	return nil
}

// Watch sends an alert for every event delivered by sub, until ctx is
// done or the subscription is closed.
func (a *Alerter) Watch(ctx context.Context, port string, sub *ip440.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			err := a.Notify(port, ev)
			if err != nil {
				a.msg.Printf("%+v", err)
			}
		}
	}
}
