// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package mux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"
	"gotest.tools/v3/assert"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type shown struct {
	Slot    int
	Pattern sevenseg.Pattern
}

// board records the lines of a display and checks that no two digits are
// ever lit at once.
type board struct {
	t      *testing.T
	segs   [sevenseg.NumSegments]*gpiotest.Pin
	digits [sevenseg.NumDigits]*gpiotest.Pin
	segLow bool
	digLow bool

	mu     sync.Mutex
	writes int
	shown  []shown
	fail   map[string]error
}

// line is an output line of the board.
type line struct {
	*gpiotest.Pin
	b *board
}

func (l *line) Out(v gpio.Level) error {
	l.b.mu.Lock()
	err := l.b.fail[l.N]
	l.b.mu.Unlock()
	if err != nil {
		return err
	}
	if err := l.Pin.Out(v); err != nil {
		return err
	}
	l.b.observe(l.Pin)
	return nil
}

func newBoard(t *testing.T, segLow, digLow bool) (*board, Lines) {
	b := &board{t: t, segLow: segLow, digLow: digLow, fail: map[string]error{}}
	lines := Lines{SegmentActiveLow: segLow, DigitActiveLow: digLow}
	for ix := range b.segs {
		b.segs[ix] = &gpiotest.Pin{N: fmt.Sprintf("SEG%c", "ABCDEFGP"[ix]), Num: ix, L: gpio.Level(segLow)}
		lines.Segments[ix] = &line{Pin: b.segs[ix], b: b}
	}
	for ix := range b.digits {
		b.digits[ix] = &gpiotest.Pin{N: fmt.Sprintf("DIG%d", ix+1), Num: 10 + ix, L: gpio.Level(digLow)}
		lines.Digits[ix] = &line{Pin: b.digits[ix], b: b}
	}
	return b, lines
}

func (b *board) lit() []int {
	var lit []int
	for ix, p := range b.digits {
		if p.Read() != gpio.Level(b.digLow) {
			lit = append(lit, ix)
		}
	}
	return lit
}

func (b *board) pattern() sevenseg.Pattern {
	var p sevenseg.Pattern
	for ix, s := range b.segs {
		if s.Read() != gpio.Level(b.segLow) {
			p |= 1 << ix
		}
	}
	return p
}

func (b *board) observe(changed *gpiotest.Pin) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes++
	lit := b.lit()
	if len(lit) > 1 {
		b.t.Errorf("digits %v lit at once", lit)
	}
	for ix, p := range b.digits {
		if p == changed && len(lit) == 1 && lit[0] == ix {
			b.shown = append(b.shown, shown{ix, b.pattern()})
		}
	}
}

func (b *board) reset() []shown {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.shown
	b.shown = nil
	return s
}

func mustFrame(t *testing.T, s string) sevenseg.Frame {
	f, err := sevenseg.ParseFrame(s)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func steps(t *testing.T, d *Driver, n int) {
	for i := 0; i < n; i++ {
		if err := d.Step(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCycle(t *testing.T) {
	for _, polarity := range []struct{ segLow, digLow bool }{{false, false}, {true, false}, {false, true}, {true, true}} {
		t.Run(fmt.Sprintf("seglow=%t,diglow=%t", polarity.segLow, polarity.digLow), func(t *testing.T) {
			b, lines := newBoard(t, polarity.segLow, polarity.digLow)
			f := mustFrame(t, "97.9")
			d, err := New(lines, FrameFunc(func() sevenseg.Frame { return f }), nil)
			assert.NilError(t, err)
			assert.Equal(t, d.State(), State{})

			for i := 0; i < 2*sevenseg.NumDigits; i++ {
				assert.NilError(t, d.Step())
				assert.Equal(t, d.State(), State{Driving: true, Slot: i % sevenseg.NumDigits})
			}
			want := []shown{
				{0, sevenseg.Encode(sevenseg.Digit(9), false)},
				{1, sevenseg.Encode(sevenseg.Digit(7), true)},
				{2, sevenseg.Encode(sevenseg.Digit(9), false)},
			}
			assert.DeepEqual(t, b.reset(), append(want, want...))

			assert.NilError(t, d.Halt())
			assert.Equal(t, d.State(), State{})
			assert.Equal(t, len(b.lit()), 0)
			assert.Equal(t, b.pattern(), sevenseg.Pattern(0))
		})
	}
}

func TestFrameLoadedOncePerCycle(t *testing.T) {
	b, lines := newBoard(t, false, false)
	var loads int32
	var mu sync.Mutex
	f := mustFrame(t, "123")
	d, err := New(lines, FrameFunc(func() sevenseg.Frame {
		atomic.AddInt32(&loads, 1)
		mu.Lock()
		defer mu.Unlock()
		return f
	}), nil)
	assert.NilError(t, err)

	steps(t, d, 2)
	// Published mid-cycle: the last digit still comes from the old frame.
	mu.Lock()
	f = mustFrame(t, "456")
	mu.Unlock()
	steps(t, d, 4)

	got := b.reset()
	assert.Equal(t, len(got), 6)
	for ix, digit := range []int{1, 2, 3, 4, 5, 6} {
		assert.Equal(t, got[ix].Pattern, sevenseg.Encode(sevenseg.Digit(digit), false), "step %d", ix)
	}
	assert.Equal(t, atomic.LoadInt32(&loads), int32(2))
	assert.Equal(t, d.Stats().Cycles, uint64(2))
}

type latch struct {
	mu     sync.Mutex
	values []byte
	err    error
}

func (b *latch) Latch(v byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.values = append(b.values, v)
	return nil
}

func TestLatch(t *testing.T) {
	for _, activeLow := range []bool{false, true} {
		b, lines := newBoard(t, false, false)
		lines.Segments = [sevenseg.NumSegments]gpio.PinOut{}
		lines.SegmentActiveLow = activeLow
		l := &latch{}
		lines.Latch = l
		d, err := New(lines, FrameFunc(func() sevenseg.Frame { return mustFrame(t, "-1.2") }), nil)
		assert.NilError(t, err)
		steps(t, d, 3)
		want := []byte{0x40, 0x86, 0x5b}
		if activeLow {
			for ix := range want {
				want[ix] = ^want[ix]
			}
		}
		assert.DeepEqual(t, l.values, want)
		assert.Equal(t, len(b.reset()), 3)
	}
}

func TestUndefinedSymbolIsBlank(t *testing.T) {
	b, lines := newBoard(t, false, false)
	f := sevenseg.Frame{Slots: [sevenseg.NumDigits]sevenseg.Symbol{sevenseg.Symbol(42), sevenseg.Digit(1), sevenseg.Digit(2)}}
	d, err := New(lines, FrameFunc(func() sevenseg.Frame { return f }), nil)
	assert.NilError(t, err)
	steps(t, d, 3)
	got := b.reset()
	assert.Equal(t, got[0].Pattern, sevenseg.Pattern(0))
	assert.Equal(t, got[1].Pattern, sevenseg.Encode(sevenseg.Digit(1), false))
	assert.Equal(t, d.Stats().EncodingFaults, uint64(1))
}

func TestDwell(t *testing.T) {
	_, lines := newBoard(t, false, false)
	frames := FrameFunc(sevenseg.FaultFrame)
	for _, test := range []struct {
		dwell time.Duration
		ok    bool
	}{
		{0, true},
		{time.Millisecond, true},
		{5 * time.Millisecond, true},
		{5555 * time.Microsecond, true},
		{5556 * time.Microsecond, false},
		{6 * time.Millisecond, false},
		{-time.Millisecond, false},
	} {
		d, err := New(lines, frames, &Opts{Dwell: test.dwell})
		if test.ok != (err == nil) {
			t.Errorf("dwell %s: unexpected %v", test.dwell, err)
			continue
		}
		if test.dwell == 0 && d.Dwell() != DefaultDwell {
			t.Errorf("default dwell is %s", d.Dwell())
		}
	}
}

func TestMissingLines(t *testing.T) {
	_, lines := newBoard(t, false, false)
	lines.Digits[2] = nil
	_, err := New(lines, FrameFunc(sevenseg.FaultFrame), nil)
	assert.ErrorContains(t, err, "digit line 2")

	_, lines = newBoard(t, false, false)
	lines.Segments[7] = nil
	_, err = New(lines, FrameFunc(sevenseg.FaultFrame), nil)
	assert.ErrorContains(t, err, "segment line 7")

	_, lines = newBoard(t, false, false)
	_, err = New(lines, nil, nil)
	assert.ErrorContains(t, err, "frame source")
}

func TestOverrun(t *testing.T) {
	_, lines := newBoard(t, false, false)
	clock := clockwork.NewFakeClock()
	d, err := New(lines, FrameFunc(sevenseg.FaultFrame), &Opts{Clock: clock})
	assert.NilError(t, err)

	for i := 0; i < 3*sevenseg.NumDigits+1; i++ {
		assert.NilError(t, d.Step())
		clock.Advance(d.Dwell())
	}
	s := d.Stats()
	assert.Equal(t, s.Overruns, uint64(0))
	assert.Equal(t, s.LongestCycle, sevenseg.NumDigits*d.Dwell())

	// The refresh loop stalled on the second digit.
	assert.NilError(t, d.Step())
	clock.Advance(50 * time.Millisecond)
	steps(t, d, sevenseg.NumDigits)
	s = d.Stats()
	assert.Equal(t, s.Overruns, uint64(1))
	assert.Equal(t, s.LongestCycle, 50*time.Millisecond+d.Dwell())
}

func TestLineError(t *testing.T) {
	b, lines := newBoard(t, false, false)
	d, err := New(lines, FrameFunc(func() sevenseg.Frame { return mustFrame(t, "888") }), nil)
	assert.NilError(t, err)
	steps(t, d, 1)

	errBroken := errors.New("broken wire")
	b.mu.Lock()
	b.fail["DIG2"] = errBroken
	b.mu.Unlock()
	err = d.Step()
	assert.Assert(t, errors.Is(err, errBroken))
	assert.Equal(t, d.State(), State{})
	assert.Equal(t, len(b.lit()), 0)
	assert.Equal(t, d.Stats().LineErrors, uint64(1))

	// The driver starts over from the first digit.
	b.mu.Lock()
	delete(b.fail, "DIG2")
	b.mu.Unlock()
	b.reset()
	steps(t, d, 1)
	assert.Equal(t, d.State(), State{Driving: true, Slot: 0})
}

func TestStepDisablesEveryDigit(t *testing.T) {
	b, lines := newBoard(t, false, false)
	d, err := New(lines, FrameFunc(func() sevenseg.Frame { return mustFrame(t, "123") }), nil)
	assert.NilError(t, err)
	steps(t, d, 1)

	// DIG3 is neither lit nor next, yet the step writes it.
	errBroken := errors.New("broken wire")
	b.mu.Lock()
	b.fail["DIG3"] = errBroken
	b.mu.Unlock()
	assert.Assert(t, errors.Is(d.Step(), errBroken))
	assert.Equal(t, len(b.lit()), 0)
}

func TestReadersDoNotBlockRefresh(t *testing.T) {
	_, lines := newBoard(t, false, false)
	d, err := New(lines, FrameFunc(func() sevenseg.Frame { return mustFrame(t, "1.23") }), nil)
	assert.NilError(t, err)
	steps(t, d, 4)

	// Hold the refresh lock as a Step in progress would.
	d.mu.Lock()
	defer d.mu.Unlock()
	done := make(chan Stats)
	go func() {
		_ = d.State()
		done <- d.Stats()
	}()
	select {
	case s := <-done:
		assert.Equal(t, s.Cycles, uint64(2))
	case <-time.After(5 * time.Second):
		t.Fatal("Stats waited on the refresh lock")
	}
	assert.Equal(t, d.State(), State{Driving: true, Slot: 0})
}

func TestRun(t *testing.T) {
	b, lines := newBoard(t, false, false)
	var frames int32
	d, err := New(lines, FrameFunc(func() sevenseg.Frame {
		atomic.AddInt32(&frames, 1)
		return sevenseg.FaultFrame()
	}), nil)
	assert.NilError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- d.Run(ctx)
	}()
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(&frames) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("refresh loop is stuck")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	assert.NilError(t, <-done)
	assert.Equal(t, d.State(), State{})
	assert.Equal(t, len(b.lit()), 0)
}
