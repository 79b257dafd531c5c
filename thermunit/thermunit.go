// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package thermunit converts sensor temperatures into the unit shown on the
// display and decomposes them into display symbols.
//
// Conversions are done in integer arithmetic on physic.Temperature, which
// counts nanokelvin, so 36.6°C converts to exactly 97.88°F.
package thermunit

import (
	"fmt"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// Unit is the display unit. It is chosen at startup.
type Unit byte

const (
	Celsius Unit = iota
	Fahrenheit
	Kelvin
)

func (u Unit) String() string {
	switch u {
	case Celsius:
		return "C"
	case Fahrenheit:
		return "F"
	case Kelvin:
		return "K"
	default:
		return fmt.Sprintf("Unit(%d)", byte(u))
	}
}

// Symbol returns the unit as printed after a value, e.g. "°F".
func (u Unit) Symbol() string {
	if u == Kelvin {
		return "K"
	}
	return "°" + u.String()
}

// ParseUnit accepts the usual spellings of a unit: "c", "°C", "celsius",
// "F", "fahrenheit", "k", "kelvin". Case is ignored.
func ParseUnit(s string) (Unit, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "°") {
	case "c", "celsius":
		return Celsius, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	case "k", "kelvin":
		return Kelvin, nil
	}
	return Celsius, fmt.Errorf("thermunit: unknown unit %q", s)
}

// Value is a temperature in a display unit, counted in billionths of a
// degree.
type Value int64

const (
	Nano   Value = 1
	Tenth  Value = 100_000_000
	Degree Value = 10 * Tenth
)

// Convert returns t in unit u.
func Convert(t physic.Temperature, u Unit) Value {
	c := Value(t - physic.ZeroCelsius)
	switch u {
	case Fahrenheit:
		return c*9/5 + 32*Degree
	case Kelvin:
		return Value(t)
	default:
		return c
	}
}

// Round rounds v to a multiple of step, halves away from zero.
func (v Value) Round(step Value) Value {
	return roundDiv(v, step) * step
}

// Tenths returns v in tenths of a degree, rounded half away from zero.
func (v Value) Tenths() int64 {
	return int64(roundDiv(v, Tenth))
}

// Float returns v in degrees.
func (v Value) Float() float64 {
	return float64(v) / float64(Degree)
}

func (v Value) String() string {
	t := v.Tenths()
	sign := ""
	if t < 0 {
		sign = "-"
		t = -t
	}
	return fmt.Sprintf("%s%d.%d", sign, t/10, t%10)
}

// ParseValue parses a decimal number of degrees such as "0.1" or "-12.25".
// Digits beyond the ninth decimal are truncated.
func ParseValue(s string) (Value, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("thermunit: invalid value %q", s)
	}
	var v Value
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("thermunit: invalid value %q", s)
		}
		v = v*10 + Value(c-'0')*Degree
	}
	scale := Tenth
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("thermunit: invalid value %q", s)
		}
		v += Value(c-'0') * scale
		scale /= 10
	}
	if neg {
		v = -v
	}
	return v, nil
}

func roundDiv(v, d Value) Value {
	if v < 0 {
		return -((-v + d/2) / d)
	}
	return (v + d/2) / d
}
