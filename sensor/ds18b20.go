// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"
)

const (
	// DS18B20Min is the lowest temperature the DS18B20 measures.
	DS18B20Min physic.Temperature = physic.ZeroCelsius - 55*physic.Kelvin
	// DS18B20Max is the highest temperature the DS18B20 measures.
	DS18B20Max physic.Temperature = physic.ZeroCelsius + 125*physic.Kelvin

	// The scratchpad holds this value until a conversion completes.
	ds18b20PowerOn int16 = 0x0550
)

// DS18B20Opts configures a DS18B20.
type DS18B20Opts struct {
	// Resolution in bits, 9 to 12. It sets the conversion time:
	// 9bits:94ms, 10bits:188ms, 11bits:375ms, 12bits:750ms. 0 means 10.
	Resolution int
	// Clock times the conversion wait. nil means the real clock.
	Clock clockwork.Clock
}

// DS18B20 reads a Maxim DS18B20 on a 1-wire bus.
type DS18B20 struct {
	onewire    onewire.Dev
	resolution int
	clock      clockwork.Clock
}

// NewDS18B20 returns the DS18B20 at addr on bus o. It reads the scratchpad to
// check the device answers, and programs the resolution when it differs.
func NewDS18B20(o onewire.Bus, addr onewire.Address, opts *DS18B20Opts) (*DS18B20, error) {
	if opts == nil {
		opts = &DS18B20Opts{}
	}
	d := &DS18B20{
		onewire:    onewire.Dev{Bus: o, Addr: addr},
		resolution: opts.Resolution,
		clock:      opts.Clock,
	}
	if d.resolution == 0 {
		d.resolution = 10
	}
	if d.resolution < 9 || d.resolution > 12 {
		return nil, errors.New("ds18b20: invalid resolution")
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	spad, err := d.readScratchpad()
	if err != nil {
		return nil, err
	}
	if int(spad[4]>>5) != d.resolution-9 {
		// Write TH, TL and configuration, then copy to EEPROM.
		if err := d.onewire.Tx([]byte{0x4e, 0, 0, byte((d.resolution-9)<<5) | 0x1f}, nil); err != nil {
			return nil, fmt.Errorf("ds18b20: %w", err)
		}
		if err := d.onewire.TxPower([]byte{0x48}, nil); err != nil {
			return nil, fmt.Errorf("ds18b20: %w", err)
		}
		d.clock.Sleep(10 * time.Millisecond)
	}
	return d, nil
}

// ConversionTime is how long a conversion takes at the configured
// resolution.
func (d *DS18B20) ConversionTime() time.Duration {
	return (94 << uint(d.resolution-9)) * time.Millisecond
}

// Read implements Source. It starts a conversion, waits for it, then reads
// the result. The wait ends early when ctx is done.
func (d *DS18B20) Read(ctx context.Context) Reading {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	if err := d.onewire.TxPower([]byte{0x44}, nil); err != nil {
		return Failed(fmt.Errorf("ds18b20: %w", err))
	}
	t := d.clock.NewTimer(d.ConversionTime())
	select {
	case <-t.Chan():
	case <-ctx.Done():
		t.Stop()
		return Failed(fmt.Errorf("%w: %v", ErrTimeout, ctx.Err()))
	}
	spad, err := d.readScratchpad()
	if err != nil {
		return Failed(err)
	}
	raw := int16(spad[1])<<8 | int16(spad[0])
	if raw == ds18b20PowerOn {
		return Failed(errors.New("ds18b20: no conversion performed (insufficient pull-up?)"))
	}
	return Check(physic.Temperature(raw)*physic.Kelvin/16+physic.ZeroCelsius, DS18B20Min, DS18B20Max)
}

// readScratchpad reads the 9 bytes of scratchpad and checks the CRC. It
// returns the first 8 bytes.
func (d *DS18B20) readScratchpad() ([]byte, error) {
	var spad [9]byte
	if err := d.onewire.Tx([]byte{0xbe}, spad[:]); err != nil {
		return nil, fmt.Errorf("ds18b20: %w", err)
	}
	if !onewire.CheckCRC(spad[:]) {
		for _, s := range spad {
			if s != 0xff {
				return nil, errors.New("ds18b20: incorrect scratchpad CRC")
			}
		}
		return nil, errors.New("ds18b20: device did not respond")
	}
	return spad[:8], nil
}

func (d *DS18B20) String() string {
	return "DS18B20{" + d.onewire.String() + "}"
}
