// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sevenseg

import (
	"errors"
	"fmt"
	"strings"
)

// NumDigits is the number of digit positions of the display.
const NumDigits = 3

// Frame is the full content of the display: one symbol per position and the
// position of the lit point, if any.
//
// Frame is a value. Publish a new one rather than editing one that a refresh
// loop is reading.
type Frame struct {
	Slots [NumDigits]Symbol
	// Point is the 1-based position whose point segment is lit. 0 means no
	// point.
	Point int
}

// FaultFrame returns the frame shown when there is no valid reading.
func FaultFrame() Frame {
	return Frame{Slots: [NumDigits]Symbol{Fault, Fault, Fault}}
}

// IsFault reports whether f shows the fault marker.
func (f Frame) IsFault() bool {
	for _, s := range f.Slots {
		if s == Fault {
			return true
		}
	}
	return false
}

// Pattern returns the encoded segments of the 0-based slot.
func (f Frame) Pattern(slot int) Pattern {
	return Encode(f.Slots[slot], f.Point == slot+1)
}

// Patterns encodes every position of f.
func (f Frame) Patterns() [NumDigits]Pattern {
	var p [NumDigits]Pattern
	for ix := range p {
		p[ix] = f.Pattern(ix)
	}
	return p
}

// String returns the frame the way it reads on the display, e.g. "97.9".
func (f Frame) String() string {
	var sb strings.Builder
	for ix, s := range f.Slots {
		sb.WriteString(s.String())
		if f.Point == ix+1 {
			sb.WriteByte('.')
		}
	}
	return sb.String()
}

// ParseFrame converts text into a Frame. It accepts digits, ' ' for a blank
// position, '-' for Minus and 'E' for Fault. A '.' lights the point of the
// preceding position.
func ParseFrame(s string) (Frame, error) {
	var f Frame
	pos := 0
	for ix, c := range s {
		if c == '.' {
			if pos == 0 {
				return Frame{}, errors.New("sevenseg: point without a preceding digit")
			}
			if f.Point != 0 {
				return Frame{}, errors.New("sevenseg: more than one point")
			}
			f.Point = pos
			continue
		}
		if pos >= NumDigits {
			return Frame{}, fmt.Errorf("sevenseg: %q has more than %d positions", s, NumDigits)
		}
		switch {
		case c >= '0' && c <= '9':
			f.Slots[pos] = Digit(int(c - '0'))
		case c == ' ':
			f.Slots[pos] = Blank
		case c == '-':
			f.Slots[pos] = Minus
		case c == 'E':
			f.Slots[pos] = Fault
		default:
			return Frame{}, fmt.Errorf("sevenseg: unsupported character %q at %d", c, ix)
		}
		pos++
	}
	return f, nil
}
