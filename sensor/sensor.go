// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensor defines the temperature source consumed by the sampling
// loop, and the drivers that implement it.
//
// A Source never returns an error on its own: failures are carried in the
// Reading so the caller can show them and carry on.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Status tells whether a Reading holds a usable temperature.
type Status byte

const (
	// Valid readings hold a temperature within the sensor's range.
	Valid Status = iota
	// Fault readings failed; Err tells why.
	Fault
	// OutOfRange readings returned a value the sensor cannot measure.
	OutOfRange
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Fault:
		return "fault"
	case OutOfRange:
		return "out-of-range"
	default:
		return fmt.Sprintf("Status(%d)", byte(s))
	}
}

var (
	// ErrTimeout is returned when a read did not finish in time.
	ErrTimeout = errors.New("sensor: read timed out")
	// ErrBusy is returned when a previous read is still in progress.
	ErrBusy = errors.New("sensor: previous read still in progress")
)

// Reading is one temperature sample.
type Reading struct {
	Temp   physic.Temperature
	Status Status
	Err    error
	// At is when the sample was taken. It is set by the sampler.
	At time.Time
}

// Valid reports whether r holds a usable temperature.
func (r Reading) Valid() bool {
	return r.Status == Valid
}

func (r Reading) String() string {
	switch r.Status {
	case Valid:
		return r.Temp.String()
	case Fault:
		return fmt.Sprintf("fault: %v", r.Err)
	default:
		return fmt.Sprintf("%s (%s)", r.Status, r.Temp)
	}
}

// Failed returns a Fault reading caused by err.
func Failed(err error) Reading {
	return Reading{Status: Fault, Err: err}
}

// Check returns a Valid reading of t, or an OutOfRange one when t is not in
// [min, max].
func Check(t, min, max physic.Temperature) Reading {
	if t < min || t > max {
		return Reading{
			Temp:   t,
			Status: OutOfRange,
			Err:    fmt.Errorf("sensor: %s outside of %s..%s", t, min, max),
		}
	}
	return Reading{Temp: t, Status: Valid}
}

// Source reads a temperature. Read should return promptly once ctx is done.
type Source interface {
	Read(ctx context.Context) Reading
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context) Reading

// Read implements Source.
func (f SourceFunc) Read(ctx context.Context) Reading {
	return f(ctx)
}

// Env reads any physic.SenseEnv device, like the BMx280 or SHT4x drivers.
type Env struct {
	Dev physic.SenseEnv
	// Min and Max bound the values the device can measure. When both are 0
	// no range check is done.
	Min, Max physic.Temperature
}

// Read implements Source. The SenseEnv interface does not take a context,
// wrap the Env with Async when the device can stall.
func (e *Env) Read(ctx context.Context) Reading {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	var env physic.Env
	if err := e.Dev.Sense(&env); err != nil {
		return Failed(fmt.Errorf("sensor: %w", err))
	}
	if e.Min == 0 && e.Max == 0 {
		return Reading{Temp: env.Temperature, Status: Valid}
	}
	return Check(env.Temperature, e.Min, e.Max)
}

func (e *Env) String() string {
	return fmt.Sprintf("env(%s)", e.Dev)
}
