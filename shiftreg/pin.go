// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package shiftreg

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// Output is one output of the register, QA to QH, usable as a segment line.
// Every change is a full 8 bit transaction; Dev.Latch sets all of them in
// one.
type Output struct {
	dev *Dev
	bit uint
}

// String implements conn.Resource.
func (o *Output) String() string {
	return o.Name()
}

// Halt drives the output low.
func (o *Output) Halt() error {
	return o.Out(gpio.Low)
}

// Name returns the datasheet name of the output, e.g. "74HC595_QA".
func (o *Output) Name() string {
	return fmt.Sprintf("%s_Q%c", devName, 'A'+rune(o.bit))
}

// Number returns the bit driving the output, 0 for QA.
func (o *Output) Number() int {
	return int(o.bit)
}

// Function implements pin.Pin.
func (o *Output) Function() string {
	return "Out/" + o.Level().String()
}

// Out sets this output and leaves the 7 others as they are.
func (o *Output) Out(l gpio.Level) error {
	var v byte
	if l {
		v = 1 << o.bit
	}
	return o.dev.write(v, 1<<o.bit)
}

// Level returns the level last written to the output. It is Low before the
// first write.
func (o *Output) Level() gpio.Level {
	v, ok := o.dev.Value()
	return gpio.Level(ok && v&(1<<o.bit) != 0)
}

// PWM is not supported by the register.
func (o *Output) PWM(gpio.Duty, physic.Frequency) error {
	return ErrNotImplemented
}

var _ gpio.PinOut = &Output{}
