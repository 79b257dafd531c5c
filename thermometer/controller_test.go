// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package thermometer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/GermanBionicSystems/segtherm/sensor"
	"github.com/GermanBionicSystems/segtherm/sevenseg"
	"github.com/GermanBionicSystems/segtherm/thermunit"
	"github.com/jonboulle/clockwork"
	"gotest.tools/v3/assert"
	"periph.io/x/conn/v3/physic"
)

// mC returns a temperature in millidegrees Celsius.
func mC(milli int64) physic.Temperature {
	return physic.ZeroCelsius + physic.Temperature(milli)*physic.MilliKelvin
}

func newController(t *testing.T, cfg Config) *Controller {
	c, err := NewController(cfg, nil)
	assert.NilError(t, err)
	return c
}

func TestFeverInFahrenheit(t *testing.T) {
	c := newController(t, Config{Unit: thermunit.Fahrenheit, Hysteresis: DefaultHysteresis})
	assert.Assert(t, c.Show(mC(36_600)))
	f := c.Frame()
	assert.Equal(t, f.String(), "97.9")
	assert.Equal(t, f.Slots, [sevenseg.NumDigits]sevenseg.Symbol{sevenseg.Digit(9), sevenseg.Digit(7), sevenseg.Digit(9)})
	assert.Equal(t, f.Point, 2)

	s := c.Status()
	assert.Assert(t, s.Showing)
	assert.Equal(t, s.Value.String(), "97.9")
	assert.Equal(t, s.Unit, thermunit.Fahrenheit)
	assert.Equal(t, s.Samples, uint64(1))
}

func TestHysteresis(t *testing.T) {
	tests := []struct {
		name       string
		hysteresis thermunit.Value
		samples    []int64
		changed    []bool
		final      string
	}{
		{
			"default",
			DefaultHysteresis,
			[]int64{20_000, 20_020, 20_090, 20_100, 20_010, 19_999},
			[]bool{true, false, false, true, false, true},
			"20.0",
		},
		{
			"wide",
			5 * thermunit.Tenth,
			[]int64{20_000, 20_400, 19_600, 20_500, 20_100},
			[]bool{true, false, false, true, false},
			"20.5",
		},
		{
			// Below the display resolution, the rounded value decides.
			"fine",
			thermunit.Tenth / 100,
			[]int64{20_000, 20_020, 20_099, 20_100},
			[]bool{true, false, true, false},
			"20.1",
		},
		{
			"off",
			0,
			[]int64{20_000, 20_040, 20_050, 20_049},
			[]bool{true, false, true, true},
			"20.0",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := newController(t, Config{Unit: thermunit.Celsius, Hysteresis: test.hysteresis})
			for ix, s := range test.samples {
				before := c.Frame()
				changed := c.Show(mC(s))
				if changed != test.changed[ix] {
					t.Errorf("sample %d (%d m°C): changed=%t, want %t; %s -> %s", ix, s, changed, test.changed[ix], before, c.Frame())
				}
				if !changed && c.Frame() != before {
					t.Errorf("sample %d: frame changed silently", ix)
				}
			}
			assert.Equal(t, c.Frame().String(), test.final)
			assert.Equal(t, c.Status().Samples, uint64(len(test.samples)))
		})
	}
}

func TestAutoRangeBoundary(t *testing.T) {
	c := newController(t, Config{Unit: thermunit.Celsius, Hysteresis: DefaultHysteresis, AutoRange: true})
	for _, step := range []struct {
		mC       int64
		expected string
	}{
		{99_900, "99.9"},
		// Rounds to 100 but is within the hysteresis of 99.9.
		{99_960, "99.9"},
		{100_400, "100"},
		{100_800, "101"},
		{100_450, "100"},
		// Back into tenths, within the hysteresis of 100.
		{99_940, "100"},
		{99_850, "99.9"},
	} {
		c.Show(mC(step.mC))
		assert.Equal(t, c.Frame().String(), step.expected, "%d m°C", step.mC)
	}
}

func TestFaultAndRecovery(t *testing.T) {
	c := newController(t, Config{Unit: thermunit.Celsius, Hysteresis: DefaultHysteresis})
	c.Show(mC(21_000))

	assert.Assert(t, c.Update(sensor.Failed(errors.New("i2c: nack"))))
	assert.Assert(t, c.Frame().IsFault())
	assert.Equal(t, c.Frame().String(), "EEE")
	s := c.Status()
	assert.Assert(t, !s.Showing)
	assert.Equal(t, s.Reading.Status, sensor.Fault)
	assert.ErrorContains(t, s.Reading.Err, "nack")

	// Repeated faults do not change the frame.
	assert.Assert(t, !c.Update(sensor.Failed(sensor.ErrTimeout)))

	// Recovery is immediate, even within the hysteresis of the old value.
	assert.Assert(t, c.Show(mC(21_020)))
	assert.Equal(t, c.Frame().String(), "21.0")
}

func TestOutOfRange(t *testing.T) {
	c := newController(t, Config{Unit: thermunit.Celsius})
	assert.Assert(t, c.Show(mC(-15_000)))
	f := c.Frame()
	assert.Assert(t, f.IsFault())
	assert.Equal(t, f, sevenseg.FaultFrame())

	c.Show(mC(-9_900))
	assert.Equal(t, c.Frame().String(), "-9.9")
	c.Update(sensor.Check(sensor.TMP102Max+physic.Kelvin, sensor.TMP102Min, sensor.TMP102Max))
	assert.Assert(t, c.Frame().IsFault())

	auto := newController(t, Config{Unit: thermunit.Celsius, AutoRange: true})
	auto.Show(mC(-15_000))
	assert.Equal(t, auto.Frame().String(), "-15")
}

func TestSetDisplay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c, err := NewController(Config{Unit: thermunit.Celsius}, &Opts{Clock: clock})
	assert.NilError(t, err)
	assert.Equal(t, c.Frame(), sevenseg.Frame{})

	c.SetDisplay(LampTestFrame)
	assert.Equal(t, c.Frame().String(), "888.")
	assert.Equal(t, c.Status().Updated, clock.Now())

	clock.Advance(time.Second)
	// A value is always shown over a forced frame.
	assert.Assert(t, c.Show(mC(21_000)))
	assert.Equal(t, c.Frame().String(), "21.0")
	assert.Equal(t, c.Status().Updated, clock.Now())
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewController(Config{Unit: thermunit.Unit(7)}, nil)
	assert.ErrorContains(t, err, "unit")
	_, err = NewController(Config{Hysteresis: -1}, nil)
	assert.ErrorContains(t, err, "hysteresis")
}

func TestConcurrentReaders(t *testing.T) {
	c := newController(t, Config{Unit: thermunit.Celsius})
	want := map[sevenseg.Frame]bool{{}: true}
	for _, s := range []string{"12.3", "45.6"} {
		f, err := sevenseg.ParseFrame(s)
		assert.NilError(t, err)
		want[f] = true
	}
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if f := c.Frame(); !want[f] {
					t.Errorf("torn frame %+v", f)
					return
				}
			}
		}()
	}
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			c.Show(mC(12_300))
		} else {
			c.Show(mC(45_600))
		}
	}
	close(stop)
	wg.Wait()
}
