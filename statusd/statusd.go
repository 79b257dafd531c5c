// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package statusd serves the state of the thermometer over HTTP.
//
//	GET /status       JSON description of the display and the last reading
//	GET /display.png  picture of the display
//	GET /healthz      200 while the sensor answers, 503 otherwise
package statusd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	segmux "github.com/GermanBionicSystems/segtherm/mux"
	"github.com/GermanBionicSystems/segtherm/snapshot"
	"github.com/GermanBionicSystems/segtherm/thermometer"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

// StatusSource gives the state to serve. *thermometer.Controller implements
// it.
type StatusSource interface {
	Status() thermometer.Status
}

// RefreshStats gives the counters of the refresh loop. *mux.Driver
// implements it.
type RefreshStats interface {
	Stats() segmux.Stats
}

// Opts configures a Server.
type Opts struct {
	// Refresh adds the refresh loop counters to /status when set.
	Refresh RefreshStats
	// Renderer draws /display.png. nil means a default renderer.
	Renderer *snapshot.Renderer
	Logger   *zap.Logger
}

// Server is the HTTP handler.
type Server struct {
	src      StatusSource
	refresh  RefreshStats
	renderer *snapshot.Renderer
	log      *zap.Logger
	router   *mux.Router
}

// New returns a Server for src.
func New(src StatusSource, opts *Opts) (*Server, error) {
	if opts == nil {
		opts = &Opts{}
	}
	s := &Server{
		src:      src,
		refresh:  opts.Refresh,
		renderer: opts.Renderer,
		log:      opts.Logger,
		router:   mux.NewRouter(),
	}
	if s.renderer == nil {
		r, err := snapshot.New(nil)
		if err != nil {
			return nil, err
		}
		s.renderer = r
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("statusd")
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/display.png", s.handleDisplay).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Refresh is the JSON form of the refresh counters.
type Refresh struct {
	Cycles         uint64  `json:"cycles"`
	Overruns       uint64  `json:"overruns"`
	LongestCycleMS float64 `json:"longest_cycle_ms"`
	LineErrors     uint64  `json:"line_errors"`
	EncodingFaults uint64  `json:"encoding_faults"`
}

// Status is the JSON form of thermometer.Status.
type Status struct {
	Display string `json:"display"`
	Unit    string `json:"unit"`
	// Value is the shown value, absent when the display does not show one.
	Value     *float64  `json:"value,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Celsius   *float64  `json:"celsius,omitempty"`
	Samples   uint64    `json:"samples"`
	SampledAt time.Time `json:"sampled_at"`
	Updated   time.Time `json:"updated"`
	Refresh   *Refresh  `json:"refresh,omitempty"`
}

// NewStatus converts st.
func NewStatus(st thermometer.Status) Status {
	out := Status{
		Display: st.Display(),
		Unit:    st.Unit.Symbol(),
		Status:  "none",
		Samples: st.Samples,
		Updated: st.Updated,
	}
	if st.Showing {
		v := st.Value.Float()
		out.Value = &v
	}
	if st.Samples > 0 {
		out.Status = st.Reading.Status.String()
		out.SampledAt = st.Reading.At
		if st.Reading.Err != nil {
			out.Error = st.Reading.Err.Error()
		}
		if st.Reading.Valid() {
			c := float64(st.Reading.Temp-physic.ZeroCelsius) / float64(physic.Kelvin)
			out.Celsius = &c
		}
	}
	return out
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	out := NewStatus(s.src.Status())
	if s.refresh != nil {
		st := s.refresh.Stats()
		out.Refresh = &Refresh{
			Cycles:         st.Cycles,
			Overruns:       st.Overruns,
			LongestCycleMS: float64(st.LongestCycle) / float64(time.Millisecond),
			LineErrors:     st.LineErrors,
			EncodingFaults: st.EncodingFaults,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		s.log.Debug("write status", zap.Error(err))
	}
}

func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	st := s.src.Status()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := s.renderer.EncodePNG(w, st.Frame, st.Unit.Symbol()); err != nil {
		s.log.Debug("write display", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.src.Status()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if st.Samples > 0 && !st.Reading.Valid() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "sensor %s\n", st.Reading.Status)
		return
	}
	fmt.Fprintln(w, "ok")
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusd: %w", err)
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	s.log.Info("listening", zap.Stringer("addr", l.Addr()))
	err := srv.Serve(l)
	cancel()
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("statusd: %w", err)
}
