// Copyright 2017 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package screen7

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/GermanBionicSystems/segtherm/mux"
	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/jonboulle/clockwork"
	"gotest.tools/v3/assert"
	"periph.io/x/conn/v3/gpio"
)

func show(t *testing.T, d *Dev, s string) {
	f, err := sevenseg.ParseFrame(s)
	assert.NilError(t, err)
	drv, err := mux.New(d.Lines(), mux.FrameFunc(func() sevenseg.Frame { return f }), nil)
	assert.NilError(t, err)
	for i := 0; i < sevenseg.NumDigits; i++ {
		assert.NilError(t, drv.Step())
	}
}

func TestPlain(t *testing.T) {
	var buf bytes.Buffer
	d := New(&Opts{W: &buf, Plain: true})
	show(t, d, "97.9")
	assert.Equal(t, Text(d.Seen()), "97.9")
	assert.NilError(t, d.Refresh())
	assert.NilError(t, d.Refresh())
	show(t, d, "-1.5")
	assert.NilError(t, d.Refresh())
	assert.Equal(t, buf.String(), "97.9\n-1.5\n")
	assert.Equal(t, d.Stats().Ghosts, uint64(0))
	assert.NilError(t, d.Halt())
}

func TestANSI(t *testing.T) {
	var buf bytes.Buffer
	d := New(&Opts{W: &buf})
	show(t, d, "888.")
	assert.NilError(t, d.Refresh())
	out := buf.String()
	assert.Equal(t, strings.Count(out, "\n"), 5)
	assert.Assert(t, strings.Contains(out, "\033["))
	assert.Assert(t, !strings.Contains(out, "\033[5A"))

	buf.Reset()
	assert.NilError(t, d.Refresh())
	// Redrawn in place.
	assert.Assert(t, strings.HasPrefix(buf.String(), "\033[5A"))

	buf.Reset()
	assert.NilError(t, d.Halt())
	assert.Equal(t, buf.String(), "\033[0m\n")
}

func TestGhost(t *testing.T) {
	d := New(&Opts{W: &bytes.Buffer{}, Plain: true})
	l := d.Lines()
	assert.NilError(t, l.Segments[1].Out(gpio.High))
	assert.NilError(t, l.Segments[2].Out(gpio.High))
	assert.NilError(t, l.Digits[0].Out(gpio.High))
	assert.NilError(t, l.Digits[2].Out(gpio.High))
	seen := d.Seen()
	assert.Equal(t, seen[0], sevenseg.Encode(sevenseg.Digit(1), false))
	assert.Equal(t, seen[2], sevenseg.Encode(sevenseg.Digit(1), false))
	assert.Equal(t, d.Stats().Ghosts, uint64(1))
	assert.Equal(t, d.Stats().Writes, uint64(4))
}

func TestText(t *testing.T) {
	p := [sevenseg.NumDigits]sevenseg.Pattern{0, sevenseg.SegA | sevenseg.SegDP, sevenseg.Encode(sevenseg.Fault, false)}
	assert.Equal(t, Text(p), " ?.-")
}

func TestRun(t *testing.T) {
	var buf bytes.Buffer
	d := New(&Opts{W: &buf, Plain: true})
	show(t, d, "12.3")
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- d.Run(ctx, clock, 100*time.Millisecond)
	}()
	assert.NilError(t, clock.BlockUntilContext(ctx, 1))
	cancel()
	assert.NilError(t, <-done)
	assert.Equal(t, buf.String(), "12.3\n")
}
