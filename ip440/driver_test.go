// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ip440

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/dio/ipac"
	"periph.io/x/conn/v3/gpio"
)

func TestNewFailures(t *testing.T) {
	var hw fakePorts
	good := ipac.IDProm{Manufacturer: AcromagID, Model: ModelID}

	for _, tc := range []struct {
		name    string
		bus     ipac.Resolver
		carrier int
		slot    int
		freq    time.Duration
		err     error
		msg     string
	}{
		{
			name: "bad-slot",
			bus:  newFakeBus(good, &hw),
			slot: 3,
			freq: time.Second,
			err:  ipac.ErrBadSlot,
		},
		{
			name:    "bad-carrier",
			bus:     newFakeBus(good, &hw),
			carrier: 2,
			freq:    time.Second,
			err:     ipac.ErrBadSlot,
		},
		{
			name: "no-bus",
			freq: time.Second,
			err:  ipac.ErrBadSlot,
		},
		{
			name: "bad-model",
			bus:  newFakeBus(ipac.IDProm{Manufacturer: AcromagID, Model: 0x30}, &hw),
			freq: time.Second,
			err:  ipac.ErrBadID,
			msg:  "manufacturer and/or model incorrect = a3/30, should be a3/10",
		},
		{
			name: "bad-manufacturer",
			bus:  newFakeBus(ipac.IDProm{Manufacturer: 0xf0, Model: ModelID}, &hw),
			freq: time.Second,
			err:  ipac.ErrBadID,
		},
		{
			name: "bad-poll",
			bus:  newFakeBus(good, &hw),
			freq: 0,
			msg:  "invalid poll interval 0s",
		},
		{
			name: "short-io",
			bus:  newFakeBus(good, bytes.NewReader([]byte{0, 1})),
			freq: time.Second,
			msg:  "input port 0x7 not addressable",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out := new(strings.Builder)
			dev := New(tc.bus, "DIO1", tc.carrier, tc.slot, tc.freq, WithLogger(log.New(out, "ip440: ", 0)))

			if dev.Initialized() {
				t.Fatalf("driver should not be initialized")
			}
			err := dev.Err()
			if err == nil {
				t.Fatalf("expected a configuration error")
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
			}
			if !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("invalid error message: %q does not contain %q", err.Error(), tc.msg)
			}
			if got, want := strings.Count(out.String(), "\n"), 1; got != want {
				t.Fatalf("configuration error should be logged once:\n%s", out.String())
			}
			if got, want := out.String(), `ip440: could not initialize "DIO1" (carrier=`; !strings.HasPrefix(got, want) {
				t.Fatalf("invalid log line:\ngot= %q\nwant prefix %q", got, want)
			}

			if _, err := dev.Read(AllBits); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("invalid read error: %+v", err)
			}
			if _, err := dev.Value(AllBits); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("invalid value error: %+v", err)
			}
			if _, err := dev.Subscribe(); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("invalid subscribe error: %+v", err)
			}
			if err := dev.Start(); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("invalid start error: %+v", err)
			}
			if err := dev.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
				t.Fatalf("invalid run error: %+v", err)
			}

			o := new(strings.Builder)
			dev.Report(o, 0)
			if got, want := o.String(), "IP440 DIO1: not initialized!\n"; got != want {
				t.Fatalf("invalid report:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
}

func TestRead(t *testing.T) {
	dev, hw := newTestDriver(t, 0xdeadbeef)

	for _, tc := range []struct {
		mask uint32
		want uint32
	}{
		{AllBits, 0xdeadbeef},
		{0, 0},
		{0x000000ff, 0xef},
		{0xffff0000, 0xdead0000},
		{0x80000001, 0x80000001},
	} {
		got, err := dev.Read(tc.mask)
		if err != nil {
			t.Fatalf("could not read: %+v", err)
		}
		if got != tc.want {
			t.Fatalf("invalid read (mask=0x%08x): got=0x%08x, want=0x%08x", tc.mask, got, tc.want)
		}
	}

	// Read bypasses the cache.
	dev.pollOnce()
	hw.set(0x1)

	got, err := dev.Read(AllBits)
	if err != nil {
		t.Fatalf("could not read: %+v", err)
	}
	if got != 0x1 {
		t.Fatalf("read did not sample hardware: got=0x%x", got)
	}

	got, err = dev.Value(AllBits)
	if err != nil {
		t.Fatalf("could not read cached value: %+v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("cached value modified by read: got=0x%x", got)
	}
}

func TestTrace(t *testing.T) {
	out := new(strings.Builder)
	dev, _ := newTestDriver(t, 0x42, WithTrace(true), WithLogger(log.New(out, "", 0)))

	_, _ = dev.Read(AllBits)
	dev.pollOnce()

	want := "IP440:DIO1: *value=42\nIP440:DIO1: bits=42, prev=0\n"
	if got := out.String(); got != want {
		t.Fatalf("invalid trace:\ngot= %q\nwant=%q", got, want)
	}
}

func TestReport(t *testing.T) {
	dev, _ := newTestDriver(t, 0xcafe, WithQueueSize(4), WithOverflow(DropOldest))

	sub, err := dev.Subscribe(WithName("bi"), WithMask(0xff), WithEdge(gpio.RisingEdge))
	if err != nil {
		t.Fatalf("could not subscribe: %+v", err)
	}
	defer sub.Close()

	for _, tc := range []struct {
		details int
		poll    bool
		want    string
	}{
		{
			details: 0,
			want:    "IP440 DIO1: connected at base address 0xfff58000\n",
		},
		{
			details: 1,
			want: `IP440 DIO1: connected at base address 0xfff58000
  current value=<none>
`,
		},
		{
			details: 1,
			poll:    true,
			want: `IP440 DIO1: connected at base address 0xfff58000
  current value=cafe
`,
		},
		{
			details: 2,
			want: `IP440 DIO1: connected at base address 0xfff58000
  current value=cafe
  poll interval=10ms, running=false
  subscribers=1
    [0] name="bi" mask=0x000000ff edge=RisingEdge overflow=drop-oldest queued=1/4 dropped=0
`,
		},
	} {
		if tc.poll {
			dev.pollOnce()
		}
		o := new(strings.Builder)
		dev.Report(o, tc.details)
		if got, want := o.String(), tc.want; got != want {
			t.Fatalf("invalid report (details=%d):\ngot:\n%s\nwant:\n%s", tc.details, got, want)
		}
	}
}

func TestStart(t *testing.T) {
	dev, hw := newTestDriver(t, 0)
	sub, err := dev.Subscribe(WithEdge(gpio.FallingEdge), WithMask(0x2))
	if err != nil {
		t.Fatalf("could not subscribe: %+v", err)
	}

	err = dev.Start()
	if err != nil {
		t.Fatalf("could not start poller: %+v", err)
	}
	if err := dev.Start(); !errors.Is(err, ErrRunning) {
		t.Fatalf("invalid error for second start: %+v", err)
	}

	timeout := time.After(5 * time.Second)
	select {
	case ev := <-sub.C():
		if !ev.Initial || ev.Changed != 0x2 {
			t.Fatalf("invalid first event: %v", ev)
		}
	case <-timeout:
		t.Fatalf("timeout")
	}

	hw.set(0x2) // rising: filtered out.
	waitValue(t, dev, 0x2)
	hw.set(0x0)
	select {
	case ev := <-sub.C():
		if ev.Initial || ev.Changed != 0x2 || ev.Value != 0 {
			t.Fatalf("invalid falling event: %v", ev)
		}
		if got, want := ev.Edge(1), gpio.FallingEdge; got != want {
			t.Fatalf("invalid edge: got=%v, want=%v", got, want)
		}
	case <-timeout:
		t.Fatalf("timeout")
	}
	_ = sub.Close()
}

func waitValue(t *testing.T, dev *Driver, want uint32) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		v, err := dev.Value(AllBits)
		if err == nil && v == want {
			return
		}
		select {
		case <-timeout:
			t.Fatalf("timeout waiting for value 0x%x (got=0x%x, err=%v)", want, v, err)
		case <-time.After(time.Millisecond):
		}
	}
}
