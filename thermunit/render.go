// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package thermunit

import (
	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"periph.io/x/conn/v3/physic"
)

const (
	// MinTenths and MaxTenths bound what three digits with a decimal show:
	// -9.9 to 99.9.
	MinTenths = -99
	MaxTenths = 999

	// Whole degrees shown when AutoRange is set.
	minWhole = -99
	maxWhole = 999
)

// Converter turns temperatures into display frames for one unit.
type Converter struct {
	Unit Unit
	// AutoRange shows values outside -9.9..99.9 as whole degrees, e.g. 273
	// for 0°C in Kelvin or -15 for -15°C. When false such values are not
	// representable.
	AutoRange bool
}

// Convert returns t in the converter's unit.
func (c Converter) Convert(t physic.Temperature) Value {
	return Convert(t, c.Unit)
}

// Quantize returns the value the display shows for v and the resolution it
// is shown with. ok is false when v cannot be shown.
func (c Converter) Quantize(v Value) (shown, step Value, ok bool) {
	if t := v.Tenths(); t >= MinTenths && t <= MaxTenths {
		return Value(t) * Tenth, Tenth, true
	}
	if !c.AutoRange {
		return 0, 0, false
	}
	w := roundDiv(v, Degree)
	if w >= minWhole && w <= maxWhole {
		return w * Degree, Degree, true
	}
	return 0, 0, false
}

// Render decomposes a quantized value into display symbols. step selects
// tenths (a point in position 2) or whole degrees. Leading zeros are
// blanked, a negative value starts with Minus.
func (c Converter) Render(shown, step Value) sevenseg.Frame {
	var f sevenseg.Frame
	n := int64(roundDiv(shown, step))
	neg := n < 0
	if neg {
		n = -n
	}
	minDigits := 1
	if step == Tenth {
		f.Point = 2
		minDigits = 2
	}
	for pos := sevenseg.NumDigits - 1; pos >= 0; pos-- {
		used := sevenseg.NumDigits - 1 - pos
		if n == 0 && used >= minDigits {
			if neg {
				f.Slots[pos] = sevenseg.Minus
				neg = false
			}
			continue
		}
		f.Slots[pos] = sevenseg.Digit(int(n % 10))
		n /= 10
	}
	return f
}

// Frame converts t and renders it, or returns the fault frame when it cannot
// be shown.
func (c Converter) Frame(t physic.Temperature) sevenseg.Frame {
	shown, step, ok := c.Quantize(c.Convert(t))
	if !ok {
		return sevenseg.FaultFrame()
	}
	return c.Render(shown, step)
}
