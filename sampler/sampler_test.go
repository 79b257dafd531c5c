// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GermanBionicSystems/segtherm/sensor"
	"github.com/jonboulle/clockwork"
	"go.uber.org/goleak"
	"gotest.tools/v3/assert"
	"periph.io/x/conn/v3/physic"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counting struct {
	reads int32
	fail  bool
}

func (c *counting) Read(ctx context.Context) sensor.Reading {
	n := atomic.AddInt32(&c.reads, 1)
	if c.fail {
		return sensor.Failed(errors.New("no answer"))
	}
	return sensor.Reading{Temp: physic.ZeroCelsius + physic.Temperature(n)*physic.Kelvin, Status: sensor.Valid}
}

func (c *counting) count() int {
	return int(atomic.LoadInt32(&c.reads))
}

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestFirstTickSamples(t *testing.T) {
	src := &counting{}
	s, err := New(src, nil)
	assert.NilError(t, err)
	_, ok := s.Last()
	assert.Assert(t, !ok)
	assert.Assert(t, s.Due(t0))

	r, ok := s.Tick(context.Background(), t0)
	assert.Assert(t, ok)
	assert.Assert(t, r.Valid())
	assert.Equal(t, r.At, t0)
	assert.Equal(t, s.Next(), t0.Add(DefaultInterval))
	last, ok := s.Last()
	assert.Assert(t, ok)
	assert.Equal(t, last.Temp, r.Temp)
}

func TestOncePerInterval(t *testing.T) {
	src := &counting{}
	s, err := New(src, &Opts{Interval: time.Second})
	assert.NilError(t, err)
	// Ticks every 10ms over 10s sample 10 times, plus the one at t0.
	for now := t0; !now.After(t0.Add(10 * time.Second)); now = now.Add(10 * time.Millisecond) {
		s.Tick(context.Background(), now)
	}
	assert.Equal(t, src.count(), 11)
	assert.Equal(t, s.Stats().Samples, uint64(11))
	assert.Equal(t, s.Stats().Skipped, uint64(0))
}

func TestFailureMovesSchedule(t *testing.T) {
	src := &counting{fail: true}
	s, err := New(src, &Opts{Interval: time.Second})
	assert.NilError(t, err)
	r, ok := s.Tick(context.Background(), t0)
	assert.Assert(t, ok)
	assert.Equal(t, r.Status, sensor.Fault)
	_, ok = s.Tick(context.Background(), t0.Add(500*time.Millisecond))
	assert.Assert(t, !ok)
	_, ok = s.Tick(context.Background(), t0.Add(time.Second))
	assert.Assert(t, ok)
	assert.Equal(t, src.count(), 2)
	assert.Equal(t, s.Stats().Failures, uint64(2))
}

func TestLateTickDoesNotBurst(t *testing.T) {
	src := &counting{}
	s, err := New(src, &Opts{Interval: time.Second})
	assert.NilError(t, err)
	s.Tick(context.Background(), t0)

	late := t0.Add(3500 * time.Millisecond)
	_, ok := s.Tick(context.Background(), late)
	assert.Assert(t, ok)
	assert.Equal(t, s.Next(), late.Add(time.Second))
	assert.Equal(t, s.Stats().Skipped, uint64(2))
	for now := late; now.Before(late.Add(time.Second)); now = now.Add(100 * time.Millisecond) {
		s.Tick(context.Background(), now)
	}
	assert.Equal(t, src.count(), 2)
	_, ok = s.Tick(context.Background(), late.Add(time.Second))
	assert.Assert(t, ok)
	assert.Equal(t, src.count(), 3)
}

func TestMinimumSpacing(t *testing.T) {
	src := &counting{}
	s, err := New(src, &Opts{Interval: time.Second})
	assert.NilError(t, err)
	ticks := []struct {
		at   time.Duration
		read bool
	}{
		{0, true},
		{1999 * time.Millisecond, true},
		{2000 * time.Millisecond, false},
		{2998 * time.Millisecond, false},
		{2999 * time.Millisecond, true},
	}
	var prev time.Time
	for _, tick := range ticks {
		now := t0.Add(tick.at)
		r, ok := s.Tick(context.Background(), now)
		assert.Equal(t, ok, tick.read, "tick at %s", tick.at)
		if !ok {
			continue
		}
		if !prev.IsZero() && r.At.Sub(prev) < time.Second {
			t.Fatalf("reads at %s and %s are less than an interval apart", prev, r.At)
		}
		prev = r.At
	}
	assert.Equal(t, src.count(), 3)
}

func TestFailingSensorSpacing(t *testing.T) {
	src := &counting{fail: true}
	s, err := New(src, &Opts{Interval: time.Second})
	assert.NilError(t, err)
	s.Tick(context.Background(), t0)
	s.Tick(context.Background(), t0.Add(1700*time.Millisecond))
	_, ok := s.Tick(context.Background(), t0.Add(2000*time.Millisecond))
	assert.Assert(t, !ok)
	assert.Equal(t, src.count(), 2)
	assert.Equal(t, s.Stats().Failures, uint64(2))
}

func TestBackwardsTime(t *testing.T) {
	src := &counting{}
	s, err := New(src, &Opts{Interval: time.Second})
	assert.NilError(t, err)
	s.Tick(context.Background(), t0)
	_, ok := s.Tick(context.Background(), t0.Add(-time.Hour))
	assert.Assert(t, !ok)
	assert.Equal(t, src.count(), 1)
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := sensor.SourceFunc(func(ctx context.Context) sensor.Reading {
		select {
		case <-ctx.Done():
			return sensor.Failed(ctx.Err())
		case <-release:
			return sensor.Reading{Status: sensor.Valid}
		}
	})
	s, err := New(stuck, &Opts{Interval: time.Second, Timeout: 5 * time.Millisecond})
	assert.NilError(t, err)
	r, ok := s.Tick(context.Background(), t0)
	assert.Assert(t, ok)
	assert.Equal(t, r.Status, sensor.Fault)
	assert.Assert(t, errors.Is(r.Err, sensor.ErrTimeout), "%v", r.Err)
}

func TestInvalidOpts(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorContains(t, err, "source")
	_, err = New(&counting{}, &Opts{Interval: -time.Second})
	assert.ErrorContains(t, err, "interval")
	_, err = New(&counting{}, &Opts{Timeout: -time.Second})
	assert.ErrorContains(t, err, "timeout")
}

func TestRun(t *testing.T) {
	clock := clockwork.NewFakeClockAt(t0)
	src := &counting{}
	s, err := New(src, &Opts{Interval: time.Second, Clock: clock})
	assert.NilError(t, err)

	got := make(chan sensor.Reading, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx, func(r sensor.Reading) { got <- r })
	}()

	assert.Equal(t, (<-got).At, t0)
	for i := 1; i <= 3; i++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Second)
		r := <-got
		assert.Equal(t, r.At, t0.Add(time.Duration(i)*time.Second))
	}
	cancel()
	assert.NilError(t, <-done)
	assert.Equal(t, src.count(), 4)
}
