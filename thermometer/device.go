// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package thermometer

import (
	"context"
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/segtherm/mux"
	"github.com/GermanBionicSystems/segtherm/sampler"
	"github.com/GermanBionicSystems/segtherm/sensor"
	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LampTestFrame lights every segment.
var LampTestFrame = sevenseg.Frame{
	Slots: [sevenseg.NumDigits]sevenseg.Symbol{sevenseg.Digit(8), sevenseg.Digit(8), sevenseg.Digit(8)},
	Point: sevenseg.NumDigits,
}

// Device is a complete thermometer: a sensor sampled in the background and
// a display refreshed on its own thread.
type Device struct {
	ctrl     *Controller
	driver   *mux.Driver
	sched    *sampler.Scheduler
	cfg      Config
	clock    clockwork.Clock
	log      *zap.Logger
	observer func(sensor.Reading)
}

// New returns a thermometer reading src and showing on lines.
//
// src is read from its own goroutine and abandoned when it does not answer
// within cfg.SensorTimeout, so a stuck bus never stalls sampling for long.
func New(src sensor.Source, lines mux.Lines, cfg Config, opts *Opts) (*Device, error) {
	if src == nil {
		return nil, errors.New("thermometer: sensor is required")
	}
	ctrl, err := NewController(cfg, opts)
	if err != nil {
		return nil, err
	}
	d := &Device{
		ctrl:  ctrl,
		cfg:   cfg,
		clock: opts.clock(),
		log:   opts.logger().Named("thermometer"),
	}
	if d.driver, err = mux.New(lines, ctrl, &mux.Opts{Dwell: cfg.Dwell, Clock: d.clock, Logger: opts.logger()}); err != nil {
		return nil, fmt.Errorf("thermometer: %w", err)
	}
	so := &sampler.Opts{Interval: cfg.PollInterval, Timeout: cfg.SensorTimeout, Clock: d.clock, Logger: opts.logger()}
	if d.sched, err = sampler.New(sensor.Async(src), so); err != nil {
		return nil, fmt.Errorf("thermometer: %w", err)
	}
	return d, nil
}

// Controller returns the controller of the display.
func (d *Device) Controller() *Controller {
	return d.ctrl
}

// Driver returns the refresh driver.
func (d *Device) Driver() *mux.Driver {
	return d.driver
}

// Scheduler returns the sensor sampler.
func (d *Device) Scheduler() *sampler.Scheduler {
	return d.sched
}

// OnReading registers f to be called with every reading, after the display
// is updated. It must be called before Run.
func (d *Device) OnReading(f func(sensor.Reading)) {
	d.observer = f
}

// Run refreshes the display and samples the sensor until ctx is done. The
// display is dark when Run returns.
func (d *Device) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.driver.Run(ctx)
	})
	g.Go(func() error {
		if !d.lampTest(ctx) {
			return nil
		}
		return d.sched.Run(ctx, d.deliver)
	})
	err := g.Wait()
	d.log.Info("stopped", zap.Error(err))
	return err
}

// lampTest shows LampTestFrame for the configured time. It returns false
// when ctx ended first.
func (d *Device) lampTest(ctx context.Context) bool {
	if d.cfg.LampTest <= 0 {
		return true
	}
	d.ctrl.SetDisplay(LampTestFrame)
	t := d.clock.NewTimer(d.cfg.LampTest)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.Chan():
	}
	d.ctrl.SetDisplay(sevenseg.Frame{})
	return true
}

func (d *Device) deliver(r sensor.Reading) {
	if d.ctrl.Update(r) {
		d.log.Debug("display", zap.Stringer("frame", d.ctrl.Frame()), zap.Stringer("reading", r))
	}
	if d.observer != nil {
		d.observer(r)
	}
}

// Halt turns the display off.
func (d *Device) Halt() error {
	return d.driver.Halt()
}

func (d *Device) String() string {
	return fmt.Sprintf("thermometer{%s, %s}", d.sched, d.driver)
}
