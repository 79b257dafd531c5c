// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen7 emulates a multiplexed 3 digit 7-segment display on the
// terminal using ANSI color codes.
//
// It exposes virtual segment and digit lines that a refresh driver toggles
// like real ones. Every digit keeps the segments it last showed, the way the
// eye does, and Refresh draws them.
//
// Useful while the display is still on its way by mail.
package screen7

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GermanBionicSystems/segtherm/mux"
	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/jonboulle/clockwork"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Opts represents the options available for this display.
type Opts struct {
	// W receives the drawing. nil means stdout.
	W io.Writer
	// Plain prints the display as text, one line per change, instead of
	// drawing it. It is forced when stdout is not a terminal.
	Plain   bool
	Palette *ansi256.Palette
	// On and Off are the colors of lit and unlit segments.
	On, Off color.NRGBA

	_ struct{}
}

// Stats counts what the emulated display went through.
type Stats struct {
	// Ghosts is the number of times more than one digit was enabled.
	Ghosts uint64
	// Writes is the number of line writes.
	Writes uint64
}

// Dev is a 7-segment display emulator that outputs to the console.
type Dev struct {
	w       io.Writer
	plain   bool
	palette ansi256.Palette
	on, off color.NRGBA

	mu      sync.Mutex
	segs    sevenseg.Pattern
	enabled [sevenseg.NumDigits]bool
	seen    [sevenseg.NumDigits]sevenseg.Pattern
	stats   Stats
	drawn   bool
	last    string
	buf     bytes.Buffer
}

// New returns a Dev that displays at the console.
func New(opts *Opts) *Dev {
	if opts == nil {
		opts = &Opts{}
	}
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:       opts.W,
		plain:   opts.Plain,
		palette: *p,
		on:      opts.On,
		off:     opts.Off,
	}
	if d.w == nil {
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			d.w = colorable.NewColorableStdout()
		} else {
			d.w = os.Stdout
			d.plain = true
		}
	}
	if d.on == (color.NRGBA{}) {
		d.on = color.NRGBA{R: 255, G: 32, A: 255}
	}
	if d.off == (color.NRGBA{}) {
		d.off = color.NRGBA{R: 48, A: 255}
	}
	return d
}

func (d *Dev) String() string {
	return "Screen7"
}

// Lines returns the virtual lines of the display, active high.
func (d *Dev) Lines() mux.Lines {
	var l mux.Lines
	for ix := range l.Segments {
		l.Segments[ix] = &line{d: d, name: fmt.Sprintf("SEG_%c", "ABCDEFGP"[ix]), number: ix}
	}
	for ix := range l.Digits {
		l.Digits[ix] = &line{d: d, name: fmt.Sprintf("DIG_%d", ix+1), number: ix, digit: true}
	}
	return l
}

// Seen returns the segments each digit last showed.
func (d *Dev) Seen() [sevenseg.NumDigits]sevenseg.Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen
}

// Stats returns the counters of the display.
func (d *Dev) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dev) set(l *line, level gpio.Level) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats.Writes++
	if l.digit {
		d.enabled[l.number] = bool(level)
		n := 0
		for _, e := range d.enabled {
			if e {
				n++
			}
		}
		if n > 1 {
			d.stats.Ghosts++
		}
	} else if level {
		d.segs |= 1 << l.number
	} else {
		d.segs &^= 1 << l.number
	}
	for ix, e := range d.enabled {
		if e {
			d.seen[ix] = d.segs
		}
	}
}

// Halt implements conn.Resource.
//
// It resets the terminal colors so it is not corrupted.
func (d *Dev) Halt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.plain {
		return nil
	}
	_, err := d.w.Write([]byte("\033[0m\n"))
	return err
}

// glyph maps the 3x5 cells of a digit to the segment lighting it; 0 is an
// unused cell.
var glyph = [5][3]sevenseg.Pattern{
	{sevenseg.SegA, sevenseg.SegA, sevenseg.SegA},
	{sevenseg.SegF, 0, sevenseg.SegB},
	{sevenseg.SegG, sevenseg.SegG, sevenseg.SegG},
	{sevenseg.SegE, 0, sevenseg.SegC},
	{sevenseg.SegD, sevenseg.SegD, sevenseg.SegD},
}

// Refresh draws what the display shows. In plain mode it prints a line only
// when the content changed.
func (d *Dev) Refresh() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.plain {
		s := Text(d.seen)
		if s == d.last {
			return nil
		}
		d.last = s
		_, err := fmt.Fprintln(d.w, s)
		return err
	}
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	if d.drawn {
		_, _ = fmt.Fprintf(&d.buf, "\033[%dA", len(glyph))
	}
	black := d.palette.Block(color.NRGBA{A: 255})
	for row := range glyph {
		_, _ = d.buf.WriteString("\r\033[0m")
		for _, p := range d.seen {
			for _, seg := range glyph[row] {
				_, _ = io.WriteString(&d.buf, d.cell(p, seg, black))
			}
			// Point column.
			if row == len(glyph)-1 {
				_, _ = io.WriteString(&d.buf, d.cell(p, sevenseg.SegDP, black))
			} else {
				_, _ = io.WriteString(&d.buf, black)
			}
			_, _ = io.WriteString(&d.buf, black)
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	d.drawn = true
	_, err := d.buf.WriteTo(d.w)
	return err
}

// Run refreshes the terminal every period until ctx is done.
func (d *Dev) Run(ctx context.Context, clock clockwork.Clock, period time.Duration) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := clock.NewTicker(period)
	defer t.Stop()
	for {
		if err := d.Refresh(); err != nil {
			return fmt.Errorf("screen7: %w", err)
		}
		select {
		case <-ctx.Done():
			return d.Halt()
		case <-t.Chan():
		}
	}
}

func (d *Dev) cell(p, seg sevenseg.Pattern, black string) string {
	switch {
	case seg == 0:
		return black
	case p.Has(seg):
		return d.palette.Block(d.on)
	default:
		return d.palette.Block(d.off)
	}
}

// Text decodes patterns back to what they read, e.g. "97.9". Patterns that
// are not a known symbol read as "?".
func Text(p [sevenseg.NumDigits]sevenseg.Pattern) string {
	var sb strings.Builder
	for _, pat := range p {
		sb.WriteString(decode(pat &^ sevenseg.SegDP))
		if pat.Has(sevenseg.SegDP) {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

func decode(p sevenseg.Pattern) string {
	if p == 0 {
		return " "
	}
	for n := 0; n < 10; n++ {
		if sevenseg.Encode(sevenseg.Digit(n), false) == p {
			return fmt.Sprint(n)
		}
	}
	if p == sevenseg.Encode(sevenseg.Minus, false) {
		return "-"
	}
	return "?"
}

// line is a virtual output line.
type line struct {
	d      *Dev
	name   string
	number int
	digit  bool
}

func (l *line) String() string {
	return l.name
}

// Halt implements conn.Resource.
func (l *line) Halt() error {
	return nil
}

func (l *line) Name() string {
	return l.name
}

func (l *line) Number() int {
	return l.number
}

// Deprecated: returns "Out"
func (l *line) Function() string {
	return "Out"
}

func (l *line) Out(level gpio.Level) error {
	l.d.set(l, level)
	return nil
}

func (l *line) PWM(duty gpio.Duty, f physic.Frequency) error {
	return fmt.Errorf("screen7: %s: PWM not supported", l.name)
}

var _ gpio.PinOut = &line{}
var _ fmt.Stringer = &Dev{}
