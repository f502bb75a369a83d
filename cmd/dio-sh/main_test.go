// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-lpc/dio/ip440"
	"github.com/go-lpc/dio/ipac"
)

// fakePorts is the I/O space of a fake IP440 module.
type fakePorts struct {
	mu  sync.RWMutex
	mem [ipac.IOSpan]byte
}

func (p *fakePorts) ReadAt(b []byte, off int64) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if off < 0 || off >= int64(len(p.mem)) {
		return 0, io.EOF
	}
	n := copy(b, p.mem[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (p *fakePorts) set(v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mem[0x1] = byte(v)
	p.mem[0x3] = byte(v >> 8)
	p.mem[0x5] = byte(v >> 16)
	p.mem[0x7] = byte(v >> 24)
}

// syncBuffer is a strings.Builder safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (w *syncBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *syncBuffer) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Reset()
}

func newTestShell(t *testing.T, v uint32) (*shell, *syncBuffer, *fakePorts) {
	t.Helper()

	hw := new(fakePorts)
	hw.set(v)

	out := new(syncBuffer)
	sh := newShell(out, false)
	sh.bus.Add(ipac.NewCarrier("fake", ipac.Slot{
		Name: "fake[0]",
		Base: 0xfff58000,
		ID: bytes.NewReader(ipac.EncodeID(ipac.IDProm{
			Manufacturer: ip440.AcromagID,
			Model:        ip440.ModelID,
		})),
		IO: hw,
	}, ipac.Slot{
		Name: "fake[1]",
		ID:   bytes.NewReader(ipac.EncodeID(ipac.IDProm{Manufacturer: 0xf0, Model: 0x41})),
		IO:   bytes.NewReader(make([]byte, ipac.IOSpan)),
	}))
	return sh, out, hw
}

func waitValue(t *testing.T, dev *ip440.Driver, want uint32) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		v, err := dev.Value(ip440.AllBits)
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

func TestShell(t *testing.T) {
	sh, out, _ := newTestShell(t, 0x12345678)
	defer sh.close()

	for _, tc := range []struct {
		cmd  string
		want string
		err  string
	}{
		{cmd: "carriers", want: "carrier 0: fake (2 slots)\n"},
		{cmd: "read DIO1", err: `unknown port "DIO1"`},
		{cmd: "initIP440 DIO1 0 0 1"},
		{cmd: "initIP440 DIO1 0 0 1", err: `port "DIO1" already initialized`},
		{cmd: "initIP440 DIO2 0 x 1", err: `invalid argument "x": strconv.Atoi: parsing "x": invalid syntax`},
		{cmd: "read DIO1", want: "DIO1: 0x12345678\n"},
		{cmd: "read DIO1 0xff", want: "DIO1: 0x00000078\n"},
		{cmd: "read DIO1 xff", err: `invalid mask "xff": strconv.ParseUint: parsing "xff": invalid syntax`},
		{cmd: "report DIO1 0", want: "IP440 DIO1: connected at base address 0xfff58000\n"},
		{cmd: "start DIO1"},
		{cmd: "watch DIO1 0xff up", err: `config: invalid edge "up"`},
		{cmd: "watch DIO1 0xff both 0", err: `invalid number of events "0"`},
		{cmd: "watch DIO1 0xff both 1 forever", err: `invalid timeout "forever"`},
		{cmd: "frobnicate", err: `unknown command "frobnicate"`},
		{cmd: "report DIO1 2 3", err: "usage: report [port] [details]"},
		{cmd: "quit", err: errQuit.Error()},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			out.Reset()
			err := sh.exec(tc.cmd)
			switch {
			case err == nil && tc.err == "":
				// ok.
			case err == nil && tc.err != "":
				t.Fatalf("expected an error (%s)", tc.err)
			case err != nil && tc.err == "":
				t.Fatalf("unexpected error: %+v", err)
			default:
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
			}
			if got, want := out.String(), tc.want; got != want {
				t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
}

func TestShellInitStartsPoller(t *testing.T) {
	sh, out, _ := newTestShell(t, 0x12345678)
	defer sh.close()

	err := sh.exec("initIP440 DIO1 0 0 1")
	if err != nil {
		t.Fatalf("could not init module: %+v", err)
	}
	waitValue(t, sh.devs["DIO1"], 0x12345678)

	out.Reset()
	err = sh.exec("value DIO1 0xff00")
	if err != nil {
		t.Fatalf("could not read value: %+v", err)
	}
	if got, want := out.String(), "DIO1: 0x00005600\n"; got != want {
		t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
	}

	out.Reset()
	err = sh.exec("report DIO1 1")
	if err != nil {
		t.Fatalf("could not report: %+v", err)
	}
	if got, want := out.String(), "IP440 DIO1: connected at base address 0xfff58000\n  current value=12345678\n"; got != want {
		t.Fatalf("invalid report:\ngot= %q\nwant=%q", got, want)
	}

	// start is a no-op on a running poller.
	err = sh.exec("start DIO1")
	if err != nil {
		t.Fatalf("could not start poller: %+v", err)
	}
}

func TestShellWatch(t *testing.T) {
	sh, out, hw := newTestShell(t, 0x0)
	defer sh.close()

	err := sh.exec("initIP440 DIO1 0 0 1")
	if err != nil {
		t.Fatalf("could not init module: %+v", err)
	}
	dev := sh.devs["DIO1"]
	waitValue(t, dev, 0x0)
	out.Reset()

	done := make(chan error)
	go func() {
		done <- sh.exec("watch DIO1 0x1 rising 1")
	}()

	// wait for the subscription before changing the inputs.
	timeout := time.After(5 * time.Second)
	for {
		buf := new(strings.Builder)
		dev.Report(buf, 2)
		if strings.Contains(buf.String(), "subscribers=1\n") {
			break
		}
		select {
		case <-timeout:
			t.Fatalf("timeout waiting for subscription")
		case <-time.After(time.Millisecond):
		}
	}

	hw.set(0x2) // not watched.
	waitValue(t, dev, 0x2)
	hw.set(0x3)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("could not watch: %+v", err)
		}
	case <-timeout:
		t.Fatalf("timeout waiting for event")
	}
	if got, want := out.String(), "DIO1: value=0x00000003 changed=0x00000001\n"; got != want {
		t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
	}
}

func TestShellWatchTimeout(t *testing.T) {
	sh, out, _ := newTestShell(t, 0x0)
	defer sh.close()

	err := sh.exec("initIP440 DIO1 0 0 1")
	if err != nil {
		t.Fatalf("could not init module: %+v", err)
	}
	waitValue(t, sh.devs["DIO1"], 0x0)
	out.Reset()

	err = sh.exec("watch DIO1 0x1 rising 1 10ms")
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if got, want := err.Error(), `watch of "DIO1" timed out after 10ms (0 events)`; got != want {
		t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
	}
	if got := out.String(); got != "" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestShellBadModule(t *testing.T) {
	sh, out, _ := newTestShell(t, 0)
	defer sh.close()

	err := sh.exec("initIP440 DIO2 0 1 10")
	if err != nil {
		t.Fatalf("configuration errors should not fail the command: %+v", err)
	}
	if got, want := out.String(), "manufacturer and/or model incorrect = f0/41, should be a3/10"; !strings.Contains(got, want) {
		t.Fatalf("invalid log:\ngot= %q\nwant=%q", got, want)
	}

	out.Reset()
	err = sh.exec("read DIO2")
	if !errors.Is(err, ip440.ErrNotInitialized) {
		t.Fatalf("invalid error: %+v", err)
	}
	err = sh.exec("value DIO2")
	if !errors.Is(err, ip440.ErrNotInitialized) {
		t.Fatalf("invalid error: %+v", err)
	}
	err = sh.exec("start DIO2")
	if !errors.Is(err, ip440.ErrNotInitialized) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = sh.exec("report DIO2")
	if err != nil {
		t.Fatalf("could not report: %+v", err)
	}
	if got, want := out.String(), "IP440 DIO2: not initialized!\n"; !strings.HasPrefix(got, want) {
		t.Fatalf("invalid report:\ngot= %q\nwant=%q", got, want)
	}
}

func TestShellSource(t *testing.T) {
	sh, out, _ := newTestShell(t, 0xff)
	defer sh.close()

	fname := filepath.Join(t.TempDir(), "st.cmd")
	err := os.WriteFile(fname, []byte(`
# IP440 startup
initIP440 DIO1 0 0 100

read DIO1 0xf
`), 0644)
	if err != nil {
		t.Fatalf("could not create script: %+v", err)
	}

	err = sh.source(fname)
	if err != nil {
		t.Fatalf("could not run script: %+v", err)
	}
	if got, want := out.String(), "DIO1: 0x0000000f\n"; got != want {
		t.Fatalf("invalid output:\ngot= %q\nwant=%q", got, want)
	}
}

func TestShellSourceBadInit(t *testing.T) {
	sh, out, _ := newTestShell(t, 0)
	defer sh.close()

	fname := filepath.Join(t.TempDir(), "st.cmd")
	err := os.WriteFile(fname, []byte("initIP440 DIO1 3 0 100\nreport\n"), 0644)
	if err != nil {
		t.Fatalf("could not create script: %+v", err)
	}

	err = sh.source(fname)
	if err != nil {
		t.Fatalf("a bad module should not abort the script: %+v", err)
	}

	got := out.String()
	for _, want := range []string{
		`ip440: could not initialize "DIO1" (carrier=3, slot=0): ipac: bad carrier or slot`,
		"IP440 DIO1: not initialized!\n",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in output:\n%s", want, got)
		}
	}
}

func TestComplete(t *testing.T) {
	sh := newShell(new(strings.Builder), false)
	if got, want := sh.complete("re"), []string{"read", "report"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid completion: got=%q, want=%q", got, want)
	}
}
