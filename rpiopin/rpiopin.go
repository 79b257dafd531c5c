// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rpiopin exposes the Raspberry Pi GPIOs driven by go-rpio as
// gpio.PinOut.
//
// go-rpio maps /dev/gpiomem once and writes the GPIO set/clear registers
// directly, which keeps the refresh loop of a multiplexed display free of
// system calls. Call Open before using any Pin and Close when done.
package rpiopin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// ErrNotImplemented is returned by PWM.
var ErrNotImplemented = errors.New("rpiopin: not implemented")

// line is the part of rpio.Pin used by Pin.
type line interface {
	Output()
	Write(state rpio.State)
}

var (
	mu     sync.Mutex
	opened bool
)

// Open maps the GPIO memory.
func Open() error {
	mu.Lock()
	defer mu.Unlock()
	if opened {
		return nil
	}
	if err := rpio.Open(); err != nil {
		return fmt.Errorf("rpiopin: %w", err)
	}
	opened = true
	return nil
}

// Close unmaps the GPIO memory.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if !opened {
		return nil
	}
	opened = false
	if err := rpio.Close(); err != nil {
		return fmt.Errorf("rpiopin: %w", err)
	}
	return nil
}

// Pin is one BCM numbered GPIO used as an output.
type Pin struct {
	number int
	line   line

	mu     sync.Mutex
	output bool
	level  gpio.Level
}

// New returns the GPIO with BCM number n. The pin is switched to output on
// the first Out.
func New(n int) (*Pin, error) {
	if n < 0 || n > 27 {
		return nil, fmt.Errorf("rpiopin: invalid BCM pin %d", n)
	}
	return &Pin{number: n, line: rpio.Pin(n)}, nil
}

// String implements conn.Resource.
func (p *Pin) String() string {
	return p.Name()
}

// Halt drives the pin low.
func (p *Pin) Halt() error {
	return p.Out(gpio.Low)
}

// Name returns the name of the pin, e.g. "GPIO17".
func (p *Pin) Name() string {
	return fmt.Sprintf("GPIO%d", p.number)
}

// Number returns the BCM number of the pin.
func (p *Pin) Number() int {
	return p.number
}

// Deprecated: returns "Out" once driven, "" before.
func (p *Pin) Function() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.output {
		return "Out"
	}
	return ""
}

// Out implements gpio.PinOut.
func (p *Pin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.output {
		p.line.Output()
		p.output = true
	}
	if l {
		p.line.Write(rpio.High)
	} else {
		p.line.Write(rpio.Low)
	}
	p.level = l
	return nil
}

// Level returns the last level written.
func (p *Pin) Level() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// PWM is not implemented.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return ErrNotImplemented
}

var _ gpio.PinOut = &Pin{}
