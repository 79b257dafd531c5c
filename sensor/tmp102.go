// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"context"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

const (
	_TMP102_REGISTER_TEMPERATURE byte = 0

	_TMP102_RESOLUTION physic.Temperature = 62_500 * physic.MicroKelvin

	// TMP102DefaultAddr is the address with ADD0 tied to ground.
	TMP102DefaultAddr uint16 = 0x48

	// TMP102Min is the lowest temperature the TMP102 measures.
	TMP102Min physic.Temperature = physic.ZeroCelsius - 40*physic.Kelvin
	// TMP102Max is the highest temperature the TMP102 measures.
	TMP102Max physic.Temperature = physic.ZeroCelsius + 125*physic.Kelvin
)

// TMP102 reads a Texas Instruments TMP102 (or TMP112, TMP75) over I²C. The
// device converts continuously at its power-on rate of 4 Hz, each Read
// fetches the latest conversion.
type TMP102 struct {
	mu sync.Mutex
	d  i2c.Dev
}

// NewTMP102 returns a TMP102 at addr on bus b.
func NewTMP102(b i2c.Bus, addr uint16) *TMP102 {
	return &TMP102{d: i2c.Dev{Bus: b, Addr: addr}}
}

// Read implements Source.
func (s *TMP102) Read(ctx context.Context) Reading {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := make([]byte, 2)
	if err := s.d.Tx([]byte{_TMP102_REGISTER_TEMPERATURE}, r); err != nil {
		return Failed(fmt.Errorf("tmp102: %w", err))
	}
	return Check(tmp102Temperature(r), TMP102Min, TMP102Max)
}

// tmp102Temperature decodes the temperature register. The value is left
// justified two's complement, 12 bits, or 13 bits when bit 0 flags the
// extended mode.
func tmp102Temperature(r []byte) physic.Temperature {
	raw := int16(uint16(r[0])<<8 | uint16(r[1]))
	if r[1]&0x01 != 0 {
		raw >>= 3
	} else {
		raw >>= 4
	}
	return physic.ZeroCelsius + physic.Temperature(raw)*_TMP102_RESOLUTION
}

func (s *TMP102) String() string {
	return fmt.Sprintf("tmp102: %s", s.d.String())
}
