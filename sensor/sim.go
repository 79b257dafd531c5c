// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// Sim is a sensor for running without hardware. Its temperature wanders
// around Base by at most Step per read.
type Sim struct {
	Base physic.Temperature
	Step physic.Temperature
	// FaultEvery makes every n-th read fail. 0 disables faults.
	FaultEvery int

	mu    sync.Mutex
	rng   *rand.Rand
	temp  physic.Temperature
	reads int
}

// NewSim returns a simulated sensor starting at base.
func NewSim(base physic.Temperature, seed int64) *Sim {
	return &Sim{
		Base: base,
		Step: 50 * physic.MilliKelvin,
		rng:  rand.New(rand.NewSource(seed)),
		temp: base,
	}
}

// Read implements Source.
func (s *Sim) Read(ctx context.Context) Reading {
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.FaultEvery > 0 && s.reads%s.FaultEvery == 0 {
		return Failed(errors.New("sim: injected fault"))
	}
	delta := physic.Temperature(s.rng.Int63n(int64(2*s.Step)+1)) - s.Step
	// Pull back towards Base so the walk stays bounded.
	if s.temp > s.Base+20*s.Step {
		delta -= s.Step / 2
	} else if s.temp < s.Base-20*s.Step {
		delta += s.Step / 2
	}
	s.temp += delta
	return Reading{Temp: s.temp, Status: Valid}
}

func (s *Sim) String() string {
	return "sim"
}
