// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package mux refreshes a multiplexed 7-segment display.
//
// The digits of the display share the 8 segment lines and each has its own
// enable line. Only one digit is lit at any instant: the driver cycles
// through them fast enough that persistence of vision shows them all.
//
// Each Step disables every digit, puts the next digit's segments on the
// shared lines, then enables that digit. The frame is read once per cycle,
// when the driver comes back to the first digit, so a frame published in the
// middle of a cycle never shows half old and half new.
package mux

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"periph.io/x/conn/v3/gpio"
)

const (
	// DefaultDwell is how long each digit stays lit.
	DefaultDwell = 5 * time.Millisecond
	// MaxCycle is the longest a full refresh cycle may take before the
	// display flickers.
	MaxCycle = time.Second / 60
)

// Latch sets all the segment lines in one operation, like a shift register
// does.
type Latch interface {
	Latch(b byte) error
}

// Lines are the output lines of the display.
type Lines struct {
	// Segments are the lines of segments a to g then the point. They are
	// ignored when Latch is set.
	Segments [sevenseg.NumSegments]gpio.PinOut
	// Latch drives the segments when they are behind a latch. Bit n of the
	// byte is Segments[n].
	Latch Latch
	// Digits are the enable lines, most significant digit first.
	Digits [sevenseg.NumDigits]gpio.PinOut
	// SegmentActiveLow is set for common anode displays, where a segment is
	// lit by pulling its line low.
	SegmentActiveLow bool
	// DigitActiveLow is set when a digit is enabled by pulling its line low,
	// like with a PNP transistor or a common cathode wired directly.
	DigitActiveLow bool
}

func (l *Lines) validate() error {
	if l.Latch == nil {
		for ix, p := range l.Segments {
			if p == nil {
				return fmt.Errorf("mux: segment line %d is missing", ix)
			}
		}
	}
	for ix, p := range l.Digits {
		if p == nil {
			return fmt.Errorf("mux: digit line %d is missing", ix)
		}
	}
	return nil
}

// FrameSource gives the frame to display. It is called from the refresh
// loop, so it must be quick and safe for concurrent use.
type FrameSource interface {
	Frame() sevenseg.Frame
}

// FrameFunc adapts a function to a FrameSource.
type FrameFunc func() sevenseg.Frame

// Frame implements FrameSource.
func (f FrameFunc) Frame() sevenseg.Frame {
	return f()
}

// Opts configures a Driver.
type Opts struct {
	// Dwell is how long each digit is lit. 0 means DefaultDwell. A full
	// cycle, NumDigits dwells, must fit in MaxCycle.
	Dwell time.Duration
	// Clock paces Run and measures the cycles. nil means the real clock.
	Clock clockwork.Clock
	// Logger reports overruns and line errors. nil means no logging.
	Logger *zap.Logger
}

// State is the position of the driver in its cycle.
type State struct {
	// Driving is false before the first Step and after Halt. No digit is lit
	// then.
	Driving bool
	// Slot is the 0-based digit being lit when Driving.
	Slot int
}

func (s State) String() string {
	if !s.Driving {
		return "idle"
	}
	return fmt.Sprintf("driving(%d)", s.Slot)
}

// Stats counts what happened since New.
type Stats struct {
	// Cycles is the number of frames loaded.
	Cycles uint64
	// Overruns is the number of cycles longer than MaxCycle.
	Overruns uint64
	// LongestCycle is the longest cycle measured.
	LongestCycle time.Duration
	// LineErrors is the number of failed writes to the lines.
	LineErrors uint64
	// EncodingFaults is the number of undefined symbols shown blank.
	EncodingFaults uint64
}

// Driver refreshes the display.
type Driver struct {
	lines  Lines
	frames FrameSource
	dwell  time.Duration
	clock  clockwork.Clock
	log    *zap.Logger

	// mu orders Step and Halt. Readers of State and Stats never take it.
	mu         sync.Mutex
	patterns   [sevenseg.NumDigits]sevenseg.Pattern
	cycleStart time.Time

	// slot is the digit lit, -1 when idle.
	slot           atomic.Int32
	cycles         atomic.Uint64
	overruns       atomic.Uint64
	longest        atomic.Int64
	lineErrors     atomic.Uint64
	encodingFaults atomic.Uint64
}

// New returns a Driver for lines showing the frames from frames.
//
// It does not touch the lines; the first Step does.
func New(lines Lines, frames FrameSource, opts *Opts) (*Driver, error) {
	if opts == nil {
		opts = &Opts{}
	}
	if err := lines.validate(); err != nil {
		return nil, err
	}
	if frames == nil {
		return nil, errors.New("mux: frame source is required")
	}
	d := &Driver{
		lines:  lines,
		frames: frames,
		dwell:  opts.Dwell,
		clock:  opts.Clock,
		log:    opts.Logger,
	}
	if d.dwell == 0 {
		d.dwell = DefaultDwell
	}
	if d.dwell < 0 || sevenseg.NumDigits*d.dwell >= MaxCycle {
		return nil, fmt.Errorf("mux: dwell %s is invalid; %d digits must refresh within %s", d.dwell, sevenseg.NumDigits, MaxCycle)
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	d.slot.Store(-1)
	// The refresh loop can fail hundreds of times per second, keep the
	// first message of each kind per second.
	d.log = d.log.Named("mux").WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(c, time.Second, 1, 0)
	}))
	return d, nil
}

// Dwell returns the time each digit is lit.
func (d *Driver) Dwell() time.Duration {
	return d.dwell
}

// State returns the position of the driver in its cycle.
func (d *Driver) State() State {
	if n := d.slot.Load(); n >= 0 {
		return State{Driving: true, Slot: int(n)}
	}
	return State{}
}

// Stats returns the counters of the driver.
func (d *Driver) Stats() Stats {
	return Stats{
		Cycles:         d.cycles.Load(),
		Overruns:       d.overruns.Load(),
		LongestCycle:   time.Duration(d.longest.Load()),
		LineErrors:     d.lineErrors.Load(),
		EncodingFaults: d.encodingFaults.Load(),
	}
}

// Step lights the next digit.
//
// On error the driver is idle and the next Step starts over from the first
// digit.
func (d *Driver) Step() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := 0
	if n := d.slot.Swap(-1); n >= 0 {
		next = (int(n) + 1) % sevenseg.NumDigits
	}
	if err := d.allOff(); err != nil {
		return d.lineError(err)
	}

	if next == 0 {
		d.load()
	}
	if err := d.segments(d.patterns[next]); err != nil {
		return d.lineError(err)
	}
	if err := d.digit(next, true); err != nil {
		// The line may be partially on; best effort turn it off.
		_ = d.digit(next, false)
		return d.lineError(err)
	}
	d.slot.Store(int32(next))
	return nil
}

// load reads and encodes a new frame, closing the current cycle.
func (d *Driver) load() {
	now := d.clock.Now()
	if !d.cycleStart.IsZero() {
		elapsed := now.Sub(d.cycleStart)
		if elapsed > time.Duration(d.longest.Load()) {
			d.longest.Store(int64(elapsed))
		}
		if elapsed > MaxCycle {
			d.overruns.Add(1)
			d.log.Warn("refresh cycle overrun", zap.Duration("cycle", elapsed), zap.Duration("max", MaxCycle))
		}
	}
	d.cycleStart = now
	d.cycles.Add(1)

	f := d.frames.Frame()
	for ix, s := range f.Slots {
		if !s.Valid() {
			d.encodingFaults.Add(1)
			d.log.Warn("undefined symbol shown blank", zap.Int("slot", ix), zap.Stringer("symbol", s))
		}
	}
	d.patterns = f.Patterns()
}

func (d *Driver) lineError(err error) error {
	d.lineErrors.Add(1)
	d.log.Error("line write failed", zap.Error(err))
	return err
}

// segments puts p on the shared segment lines.
func (d *Driver) segments(p sevenseg.Pattern) error {
	if d.lines.Latch != nil {
		b := byte(p)
		if d.lines.SegmentActiveLow {
			b = ^b
		}
		if err := d.lines.Latch.Latch(b); err != nil {
			return fmt.Errorf("mux: segments: %w", err)
		}
		return nil
	}
	for ix, line := range d.lines.Segments {
		on := p.Has(1 << ix)
		if err := line.Out(gpio.Level(on != d.lines.SegmentActiveLow)); err != nil {
			return fmt.Errorf("mux: segment %s: %w", line, err)
		}
	}
	return nil
}

// digit turns the enable line of slot on or off.
func (d *Driver) digit(slot int, on bool) error {
	line := d.lines.Digits[slot]
	if err := line.Out(gpio.Level(on != d.lines.DigitActiveLow)); err != nil {
		return fmt.Errorf("mux: digit %s: %w", line, err)
	}
	return nil
}

func (d *Driver) allOff() error {
	var errs []error
	for ix := range d.lines.Digits {
		if err := d.digit(ix, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run steps the driver every dwell until ctx is done, then halts the
// display.
//
// Run keeps its goroutine on one OS thread to reduce the scheduling jitter
// that shows as flicker. Line errors are counted and logged; they do not stop
// the loop.
func (d *Driver) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	t := d.clock.NewTicker(d.dwell)
	defer t.Stop()
	for {
		_ = d.Step()
		select {
		case <-ctx.Done():
			return d.Halt()
		case <-t.Chan():
		}
	}
}

// Halt turns off every digit and clears the segments.
func (d *Driver) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.slot.Store(-1)
	err := d.allOff()
	if err2 := d.segments(0); err == nil {
		err = err2
	}
	return err
}

func (d *Driver) String() string {
	return fmt.Sprintf("mux{dwell: %s}", d.dwell)
}
