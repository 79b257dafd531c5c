// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sampler reads a temperature sensor at a fixed interval.
//
// Two reads are never less than one interval apart: the next read is due one
// interval after the last one. A late tick never causes a burst of reads to
// catch up. A failed read still moves the schedule so a broken sensor is not
// hammered.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GermanBionicSystems/segtherm/sensor"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultInterval is the sampling interval when none is set.
const DefaultInterval = time.Second

// Opts configures a Scheduler.
type Opts struct {
	// Interval between samples. 0 means DefaultInterval.
	Interval time.Duration
	// Timeout bounds each read. 0 means Interval.
	Timeout time.Duration
	// Clock paces Run. nil means the real clock.
	Clock clockwork.Clock
	Logger *zap.Logger
}

// Stats counts the samples taken.
type Stats struct {
	Samples  uint64
	Failures uint64
	// Skipped is the number of whole intervals lost because a tick came late.
	Skipped uint64
}

// Scheduler decides when to read the sensor and reads it.
type Scheduler struct {
	src      sensor.Source
	interval time.Duration
	timeout  time.Duration
	clock    clockwork.Clock
	log      *zap.Logger

	mu      sync.Mutex
	started bool
	next    time.Time
	lastAt  time.Time
	last    sensor.Reading
	stats   Stats
}

// New returns a Scheduler reading src.
func New(src sensor.Source, opts *Opts) (*Scheduler, error) {
	if src == nil {
		return nil, errors.New("sampler: source is required")
	}
	if opts == nil {
		opts = &Opts{}
	}
	s := &Scheduler{
		src:      src,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		clock:    opts.Clock,
		log:      opts.Logger,
	}
	if s.interval == 0 {
		s.interval = DefaultInterval
	}
	if s.interval < 0 {
		return nil, fmt.Errorf("sampler: invalid interval %s", s.interval)
	}
	if s.timeout == 0 {
		s.timeout = s.interval
	}
	if s.timeout < 0 {
		return nil, fmt.Errorf("sampler: invalid timeout %s", s.timeout)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("sampler")
	return s, nil
}

// Interval returns the time between samples.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Due reports whether a sample is due at now. The first call is always due.
func (s *Scheduler) Due(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due(now)
}

func (s *Scheduler) due(now time.Time) bool {
	if !s.started {
		return true
	}
	return !now.Before(s.next) && !now.Before(s.lastAt)
}

// Next returns when the next sample is due. It is the zero time before the
// first sample.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Tick reads the sensor when a sample is due at now. It returns the reading
// and true if it read, or false when it is not time yet.
//
// The read is bounded by the timeout, a sensor that does not answer in time
// gives a Fault reading wrapping sensor.ErrTimeout.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (sensor.Reading, bool) {
	s.mu.Lock()
	if !s.due(now) {
		s.mu.Unlock()
		return sensor.Reading{}, false
	}
	s.advance(now)
	s.mu.Unlock()

	r := s.read(ctx)
	r.At = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.stats.Samples++
	if !r.Valid() {
		s.stats.Failures++
		s.log.Warn("sensor read failed", zap.Stringer("status", r.Status), zap.Error(r.Err))
	} else {
		s.log.Debug("sample", zap.Stringer("temp", r.Temp))
	}
	return r, true
}

// advance schedules the next sample one interval after now. Whole intervals
// that went by since the sample was due are counted as skipped.
func (s *Scheduler) advance(now time.Time) {
	s.lastAt = now
	if s.started {
		if late := now.Sub(s.next); late >= s.interval {
			s.stats.Skipped += uint64(late / s.interval)
		}
	}
	s.started = true
	s.next = now.Add(s.interval)
}

func (s *Scheduler) read(ctx context.Context) sensor.Reading {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	r := s.src.Read(ctx)
	if r.Status == sensor.Fault && errors.Is(r.Err, context.DeadlineExceeded) && !errors.Is(r.Err, sensor.ErrTimeout) {
		r.Err = fmt.Errorf("%w: %v", sensor.ErrTimeout, r.Err)
	}
	return r
}

// Last returns the last reading, and false if there was none yet.
func (s *Scheduler) Last() (sensor.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.started
}

// Stats returns the sampling counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run samples until ctx is done, handing every reading to deliver. The
// first sample is taken right away.
func (s *Scheduler) Run(ctx context.Context, deliver func(sensor.Reading)) error {
	for {
		if r, ok := s.Tick(ctx, s.clock.Now()); ok {
			deliver(r)
		}
		t := s.clock.NewTimer(s.Next().Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.Chan():
		}
	}
}

func (s *Scheduler) String() string {
	return fmt.Sprintf("sampler{%v every %s}", s.src, s.interval)
}
