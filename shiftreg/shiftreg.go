// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package shiftreg drives the segment lines of the display through a 74HC595
// serial shift register on an SPI port, which saves seven GPIOs.
//
// The register's storage clock (RCLK) must be wired to the SPI chip select so
// the outputs change only once all 8 bits are shifted in.
//
// # Datasheet
//
// https://www.nexperia.com/product/74HC595D
package shiftreg

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

const (
	devName = "74HC595"
	numPins = 8
	// unknown is outside of the byte range, so the first write always goes
	// out even if it is 0.
	unknown = 1 << 9
)

// ErrNotImplemented is returned by the operations the device cannot do.
var ErrNotImplemented = errors.New("shiftreg: not implemented")

// Dev is a 74HC595. Its outputs can be driven one at a time through Pins, or
// all at once with Latch.
type Dev struct {
	// Pins are QA to QH.
	Pins [numPins]gpio.PinOut

	mu    sync.Mutex
	conn  spi.Conn
	value uint16
	txs   int
}

// New returns the register on conn.
func New(conn spi.Conn) (*Dev, error) {
	if conn == nil {
		return nil, errors.New("shiftreg: nil spi connection")
	}
	dev := &Dev{conn: conn, value: unknown}
	for ix := range dev.Pins {
		dev.Pins[ix] = &Output{dev: dev, bit: uint(ix)}
	}
	return dev, nil
}

// Latch sets all 8 outputs in one transaction. Bit n drives output Qn, QA
// being bit 0.
func (dev *Dev) Latch(b byte) error {
	return dev.write(b, 0xff)
}

// Value returns the last value written, and false when nothing was written
// yet.
func (dev *Dev) Value() (byte, bool) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return byte(dev.value), dev.value != unknown
}

// Transactions returns the number of bus transactions done so far.
func (dev *Dev) Transactions() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.txs
}

// write changes the outputs selected by mask. It skips the bus when nothing
// changes.
func (dev *Dev) write(value, mask byte) error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.conn == nil {
		return errors.New("shiftreg: halted")
	}
	current := byte(dev.value)
	next := (current &^ mask) | (value & mask)
	if dev.value != unknown && current == next {
		return nil
	}
	if err := dev.conn.Tx([]byte{next}, nil); err != nil {
		return fmt.Errorf("shiftreg: %w", err)
	}
	dev.txs++
	dev.value = uint16(next)
	return nil
}

// Halt clears all the outputs and releases the port.
func (dev *Dev) Halt() error {
	err := dev.write(0, 0xff)
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.conn = nil
	return err
}

func (dev *Dev) String() string {
	return devName
}
