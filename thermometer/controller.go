// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermometer ties a temperature sensor to a multiplexed 3 digit
// display.
//
// The Controller owns what the display shows. It is the only writer of the
// frame; the refresh loop reads it without locking.
package thermometer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/segtherm/sensor"
	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/GermanBionicSystems/segtherm/thermunit"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

// DefaultHysteresis is the change needed before the shown value moves.
const DefaultHysteresis = thermunit.Tenth

// Config is the behavior of the thermometer. It is fixed for the lifetime of
// a Controller or Device.
type Config struct {
	Unit thermunit.Unit
	// Hysteresis is the smallest change of the converted value, measured
	// from the value on the display, that updates it. The rounded value must
	// differ too. 0 updates as soon as the rounded value differs.
	Hysteresis thermunit.Value
	// AutoRange shows values that do not fit with a decimal as whole degrees.
	AutoRange bool

	// PollInterval is the time between sensor reads. 0 means 1s.
	PollInterval time.Duration
	// SensorTimeout bounds each read. 0 means PollInterval.
	SensorTimeout time.Duration
	// Dwell is how long each digit is lit. 0 means 5ms.
	Dwell time.Duration
	// LampTest lights every segment for this long at startup. 0 skips it.
	LampTest time.Duration
}

// Opts are the runtime dependencies.
type Opts struct {
	// Clock stamps updates and paces the loops. nil means the real clock.
	Clock clockwork.Clock
	// Logger reports faults. nil means no logging.
	Logger *zap.Logger
}

func (o *Opts) clock() clockwork.Clock {
	if o == nil || o.Clock == nil {
		return clockwork.NewRealClock()
	}
	return o.Clock
}

func (o *Opts) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Status is what the display shows and why.
type Status struct {
	Frame sevenseg.Frame
	Unit  thermunit.Unit
	// Value is the value shown. It is meaningful when Showing is true.
	Value   thermunit.Value
	Showing bool
	// Reading is the last sample, shown or not.
	Reading sensor.Reading
	// Samples is the number of samples received.
	Samples uint64
	// Updated is when the frame last changed.
	Updated time.Time
}

// Display returns the frame as it reads, e.g. "97.9".
func (s Status) Display() string {
	return s.Frame.String()
}

// state is one published version of the display.
type state struct {
	frame   sevenseg.Frame
	shown   thermunit.Value
	showing bool
	reading sensor.Reading
	samples uint64
	updated time.Time
}

// Controller converts readings to frames.
type Controller struct {
	conv       thermunit.Converter
	hysteresis thermunit.Value
	clock      clockwork.Clock
	log        *zap.Logger

	mu  sync.Mutex // Serializes writers.
	cur atomic.Pointer[state]
}

// NewController returns a Controller showing a blank display.
func NewController(cfg Config, opts *Opts) (*Controller, error) {
	if _, err := thermunit.ParseUnit(cfg.Unit.String()); err != nil {
		return nil, fmt.Errorf("thermometer: %w", err)
	}
	if cfg.Hysteresis < 0 {
		return nil, errors.New("thermometer: hysteresis must not be negative")
	}
	c := &Controller{
		conv:       thermunit.Converter{Unit: cfg.Unit, AutoRange: cfg.AutoRange},
		hysteresis: cfg.Hysteresis,
		clock:      opts.clock(),
		log:        opts.logger().Named("thermometer"),
	}
	c.cur.Store(&state{})
	return c, nil
}

// Unit returns the display unit.
func (c *Controller) Unit() thermunit.Unit {
	return c.conv.Unit
}

// Frame implements mux.FrameSource. It never blocks.
func (c *Controller) Frame() sevenseg.Frame {
	return c.cur.Load().frame
}

// Status returns the current state of the display.
func (c *Controller) Status() Status {
	s := c.cur.Load()
	return Status{
		Frame:   s.frame,
		Unit:    c.conv.Unit,
		Value:   s.shown,
		Showing: s.showing,
		Reading: s.reading,
		Samples: s.samples,
		Updated: s.updated,
	}
}

// Update shows r, and reports whether the frame changed.
//
// An invalid reading, or one that cannot be shown, replaces the display with
// the fault frame. A valid one replaces the shown value only when it moved by
// the hysteresis, or when the display was not showing a value.
func (c *Controller) Update(r sensor.Reading) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.cur.Load()
	next := *prev
	next.reading = r
	next.samples++

	if r.Valid() {
		v := c.conv.Convert(r.Temp)
		if shown, step, ok := c.conv.Quantize(v); !ok {
			c.fault(&next, "cannot be shown", zap.Stringer("value", v), zap.Stringer("unit", c.conv.Unit))
		} else if !prev.showing || c.moved(v, shown, prev.shown) {
			next.frame = c.conv.Render(shown, step)
			next.shown = shown
			next.showing = true
		}
	} else {
		c.fault(&next, "sensor fault", zap.Stringer("status", r.Status), zap.Error(r.Err))
	}

	changed := next.frame != prev.frame
	if changed {
		next.updated = c.clock.Now()
	}
	c.cur.Store(&next)
	return changed
}

// moved reports whether v, shown rounded as shown, is far enough from the
// value on the display to replace it. The same rule applies when v crosses
// between tenths and whole degrees.
func (c *Controller) moved(v, shown, prevShown thermunit.Value) bool {
	if shown == prevShown {
		return false
	}
	d := v - prevShown
	if d < 0 {
		d = -d
	}
	return d >= c.hysteresis
}

func (c *Controller) fault(s *state, msg string, fields ...zap.Field) {
	if s.frame != sevenseg.FaultFrame() {
		c.log.Warn(msg, fields...)
	}
	s.frame = sevenseg.FaultFrame()
	s.shown = 0
	s.showing = false
}

// SetDisplay shows f until the next Update.
func (c *Controller) SetDisplay(f sevenseg.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.cur.Load()
	if next.frame != f {
		next.updated = c.clock.Now()
	}
	next.frame = f
	next.shown = 0
	next.showing = false
	c.cur.Store(&next)
}

// Show is a shortcut to Update with a valid reading of t.
func (c *Controller) Show(t physic.Temperature) bool {
	return c.Update(sensor.Reading{Temp: t, Status: sensor.Valid, At: c.clock.Now()})
}

func (c *Controller) String() string {
	return fmt.Sprintf("thermometer{%s}", c.Frame())
}
