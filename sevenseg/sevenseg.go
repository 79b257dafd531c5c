// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sevenseg encodes the symbols a 3-digit numeric display can show
// into the segment patterns that light them.
//
// Segments are named the usual way:
//
//	 -A-
//	F   B
//	 -G-
//	E   C
//	 -D-  .DP
package sevenseg

import "fmt"

// Pattern is the set of lit segments of one digit position. Bits 0 through 6
// are segments A through G, bit 7 is the point.
type Pattern byte

const (
	SegA Pattern = 1 << iota
	SegB
	SegC
	SegD
	SegE
	SegF
	SegG
	// SegDP is the point segment. The display has a single point per digit,
	// it is used only as a decimal point. The sign of a value is shown with
	// Minus in its own position.
	SegDP

	// NumSegments is the number of segment lines, point included.
	NumSegments = 8
)

// Has reports whether segment s is lit in p.
func (p Pattern) Has(s Pattern) bool {
	return p&s == s
}

// Symbol is what a single digit position displays.
//
// The zero value is Blank.
type Symbol byte

const (
	Blank Symbol = iota
	digit0
	_
	_
	_
	_
	_
	_
	_
	_
	digit9
	// Minus is a leading negative sign.
	Minus
	// Fault marks a reading that cannot be shown. It looks like Minus but is
	// never produced by a legitimate value.
	Fault

	numSymbols
)

// Digit returns the symbol of decimal digit n. n must be in [0, 9], anything
// else returns an undefined symbol that encodes as Blank.
func Digit(n int) Symbol {
	if n < 0 || n > 9 {
		return numSymbols
	}
	return digit0 + Symbol(n)
}

// Value returns the decimal digit of s, if s is a digit.
func (s Symbol) Value() (int, bool) {
	if s >= digit0 && s <= digit9 {
		return int(s - digit0), true
	}
	return 0, false
}

// Valid reports whether s is a defined symbol.
func (s Symbol) Valid() bool {
	return s < numSymbols
}

func (s Symbol) String() string {
	if n, ok := s.Value(); ok {
		return string(rune('0' + n))
	}
	switch s {
	case Blank:
		return " "
	case Minus:
		return "-"
	case Fault:
		return "E"
	default:
		return fmt.Sprintf("Symbol(%d)", byte(s))
	}
}

// glyphs is indexed by Symbol.
var glyphs = [numSymbols]Pattern{
	Blank:      0,
	digit0 + 0: SegA | SegB | SegC | SegD | SegE | SegF,
	digit0 + 1: SegB | SegC,
	digit0 + 2: SegA | SegB | SegD | SegE | SegG,
	digit0 + 3: SegA | SegB | SegC | SegD | SegG,
	digit0 + 4: SegB | SegC | SegF | SegG,
	digit0 + 5: SegA | SegC | SegD | SegF | SegG,
	digit0 + 6: SegA | SegC | SegD | SegE | SegF | SegG,
	digit0 + 7: SegA | SegB | SegC,
	digit0 + 8: SegA | SegB | SegC | SegD | SegE | SegF | SegG,
	digit0 + 9: SegA | SegB | SegC | SegD | SegF | SegG,
	Minus:      SegG,
	Fault:      SegG,
}

// Encode returns the segments lighting sym, with the point segment added when
// point is true. An undefined symbol encodes as Blank.
func Encode(sym Symbol, point bool) Pattern {
	var p Pattern
	if sym.Valid() {
		p = glyphs[sym]
	}
	if point {
		p |= SegDP
	}
	return p
}
