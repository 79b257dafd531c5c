// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package diag writes a line of text describing the thermometer at a fixed
// interval, for a serial console or a log collector:
//
//	t=97.9 unit=F status=valid display="97.9"
package diag

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GermanBionicSystems/segtherm/thermometer"
	"github.com/goburrow/serial"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultBaud is the speed of the serial console.
const DefaultBaud = 9600

// StatusSource gives the state to report. *thermometer.Controller
// implements it.
type StatusSource interface {
	Status() thermometer.Status
}

// Opts configures a Reporter.
type Opts struct {
	// Interval between lines. 0 means 1s.
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// Reporter writes status lines.
type Reporter struct {
	src      StatusSource
	interval time.Duration
	clock    clockwork.Clock
	log      *zap.Logger

	mu    sync.Mutex
	w     io.Writer
	lines int
}

// New returns a Reporter writing the status of src to w.
func New(w io.Writer, src StatusSource, opts *Opts) *Reporter {
	if opts == nil {
		opts = &Opts{}
	}
	r := &Reporter{
		w:        w,
		src:      src,
		interval: opts.Interval,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if r.interval <= 0 {
		r.interval = time.Second
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

// Line formats s.
func Line(s thermometer.Status) string {
	var b strings.Builder
	t := "-"
	if s.Showing {
		t = s.Value.String()
	}
	status := "none"
	if s.Samples > 0 {
		status = s.Reading.Status.String()
	}
	fmt.Fprintf(&b, "t=%s unit=%s status=%s display=%s", t, s.Unit, status, strconv.Quote(s.Display()))
	if s.Samples > 0 && s.Reading.Err != nil {
		fmt.Fprintf(&b, " err=%s", strconv.Quote(s.Reading.Err.Error()))
	}
	return b.String()
}

// Report writes one line now.
func (r *Reporter) Report() error {
	line := Line(r.src.Status())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := io.WriteString(r.w, line+"\r\n"); err != nil {
		return fmt.Errorf("diag: %w", err)
	}
	r.lines++
	return nil
}

// Lines returns the number of lines written.
func (r *Reporter) Lines() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines
}

// Run reports every interval until ctx is done. A failed write is logged and
// retried at the next interval.
func (r *Reporter) Run(ctx context.Context) error {
	t := r.clock.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			if err := r.Report(); err != nil {
				r.log.Warn("report failed", zap.Error(err))
			}
		}
	}
}

// OpenSerial opens the serial port at address, e.g. "/dev/ttyAMA0", at baud
// (0 means DefaultBaud), 8 data bits, no parity, 1 stop bit.
func OpenSerial(address string, baud int) (io.WriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	p, err := serial.Open(&serial.Config{
		Address:  address,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("diag: %s: %w", address, err)
	}
	return p, nil
}
