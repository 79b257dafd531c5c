// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/GermanBionicSystems/segtherm/config"
	"github.com/GermanBionicSystems/segtherm/mux"
	"github.com/GermanBionicSystems/segtherm/rpiopin"
	"github.com/GermanBionicSystems/segtherm/screen7"
	"github.com/GermanBionicSystems/segtherm/sensor"
	"github.com/GermanBionicSystems/segtherm/shiftreg"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// ds18b20Family is the 1-wire family code of the DS18B20.
const ds18b20Family = 0x28

// closers are run in reverse order on exit.
type closers []func() error

func (c *closers) add(f func() error) {
	*c = append(*c, f)
}

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

// needsHost reports whether periph's host drivers must be loaded.
func needsHost(c *config.Config) bool {
	return c.Sensor.Kind != config.SensorSim || c.Display.Backend == config.BackendGPIO || c.Display.Backend == config.BackendShiftReg
}

func initHost(log *zap.Logger) error {
	state, err := host.Init()
	if err != nil {
		return err
	}
	for _, d := range state.Loaded {
		log.Debug("driver loaded", zap.String("name", d.String()))
	}
	for _, f := range state.Failed {
		log.Warn("driver failed", zap.String("name", f.D.String()), zap.Error(f.Err))
	}
	return nil
}

func openSensor(c *config.SensorConfig, cl *closers) (sensor.Source, error) {
	switch c.Kind {
	case config.SensorTMP102:
		bus, err := i2creg.Open(c.Bus)
		if err != nil {
			return nil, err
		}
		cl.add(bus.Close)
		return sensor.NewTMP102(bus, c.Addr), nil
	case config.SensorDS18B20:
		bus, err := onewirereg.Open(c.Bus)
		if err != nil {
			return nil, err
		}
		cl.add(bus.Close)
		addr, err := ds18b20Addr(bus, c.OneWireAddr)
		if err != nil {
			return nil, err
		}
		return sensor.NewDS18B20(bus, addr, &sensor.DS18B20Opts{Resolution: c.Resolution})
	case config.SensorSim:
		base := physic.ZeroCelsius + physic.Temperature(c.Base*float64(physic.Kelvin))
		s := sensor.NewSim(base, time.Now().UnixNano())
		s.FaultEvery = c.FaultEvery
		return s, nil
	}
	return nil, fmt.Errorf("unknown sensor %q", c.Kind)
}

// ds18b20Addr parses s, or searches bus for the first DS18B20 when s is
// empty.
func ds18b20Addr(bus onewire.Bus, s string) (onewire.Address, error) {
	if s != "" {
		a, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("onewire address %q: %w", s, err)
		}
		return onewire.Address(a), nil
	}
	addrs, err := bus.Search(false)
	if err != nil {
		return 0, err
	}
	for _, a := range addrs {
		if a&0xff == ds18b20Family {
			return a, nil
		}
	}
	return 0, fmt.Errorf("no DS18B20 found on %s", bus)
}

// display is the set of lines driving the digits. screen is set for the
// terminal backend.
type display struct {
	lines  mux.Lines
	screen *screen7.Dev
}

func openDisplay(c *config.DisplayConfig, cl *closers) (*display, error) {
	d := &display{}
	d.lines.SegmentActiveLow = c.SegmentActiveLow
	d.lines.DigitActiveLow = c.DigitActiveLow
	switch c.Backend {
	case config.BackendGPIO:
		for i, name := range c.Segments {
			p, err := byName(name)
			if err != nil {
				return nil, err
			}
			d.lines.Segments[i] = p
		}
		if err := openDigits(c.Digits, &d.lines, byName); err != nil {
			return nil, err
		}
	case config.BackendRPIO:
		if err := rpiopin.Open(); err != nil {
			return nil, err
		}
		cl.add(rpiopin.Close)
		for i, name := range c.Segments {
			p, err := rpioByName(name)
			if err != nil {
				return nil, err
			}
			d.lines.Segments[i] = p
		}
		if err := openDigits(c.Digits, &d.lines, rpioByName); err != nil {
			return nil, err
		}
	case config.BackendShiftReg:
		port, err := spireg.Open(c.SPI)
		if err != nil {
			return nil, err
		}
		cl.add(port.Close)
		conn, err := port.Connect(physic.MegaHertz, spi.Mode0, 8)
		if err != nil {
			return nil, err
		}
		reg, err := shiftreg.New(conn)
		if err != nil {
			return nil, err
		}
		cl.add(reg.Halt)
		registerLines(reg, c.SegmentPins, &d.lines)
		if err := openDigits(c.Digits, &d.lines, byName); err != nil {
			return nil, err
		}
	case config.BackendScreen:
		d.screen = screen7.New(&screen7.Opts{Plain: c.Plain})
		d.lines = d.screen.Lines()
	default:
		return nil, fmt.Errorf("unknown display backend %q", c.Backend)
	}
	return d, nil
}

// registerLines puts the segments on reg, as one latch or as 8 lines.
func registerLines(reg *shiftreg.Dev, perPin bool, lines *mux.Lines) {
	if !perPin {
		lines.Latch = reg
		return
	}
	for ix, p := range reg.Pins {
		lines.Segments[ix] = p
	}
}

func openDigits(names []string, lines *mux.Lines, open func(string) (gpio.PinOut, error)) error {
	for i, name := range names {
		p, err := open(name)
		if err != nil {
			return err
		}
		lines.Digits[i] = p
	}
	return nil
}

func byName(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no pin %q", name)
	}
	return p, nil
}

// rpioByName accepts "GPIO17" or "17".
func rpioByName(name string) (gpio.PinOut, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(name), "GPIO"))
	if err != nil {
		return nil, fmt.Errorf("pin %q: want a BCM number", name)
	}
	return rpiopin.New(n)
}
