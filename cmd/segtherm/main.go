// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// segtherm shows the temperature read from a sensor on a multiplexed 3 digit
// 7-segment display.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GermanBionicSystems/segtherm/config"
	"github.com/GermanBionicSystems/segtherm/diag"
	"github.com/GermanBionicSystems/segtherm/logging"
	"github.com/GermanBionicSystems/segtherm/snapshot"
	"github.com/GermanBionicSystems/segtherm/statusd"
	"github.com/GermanBionicSystems/segtherm/thermometer"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// screenPeriod is how often the terminal backend is redrawn.
const screenPeriod = 50 * time.Millisecond

func mainImpl() error {
	flags := config.Flags("segtherm")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flags.NArg() != 0 {
		return fmt.Errorf("unexpected argument %q", flags.Arg(0))
	}
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}
	log, closeLog, err := logging.New(&logging.Opts{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer closeLog()
	var dump strings.Builder
	if err := cfg.Dump(&dump); err == nil {
		log.Debug("configuration", zap.String("yaml", dump.String()))
	}

	if needsHost(cfg) {
		if err := initHost(log); err != nil {
			return err
		}
	}
	var cl closers
	defer func() {
		if err := cl.close(); err != nil {
			log.Warn("close", zap.Error(err))
		}
	}()
	src, err := openSensor(&cfg.Sensor, &cl)
	if err != nil {
		return fmt.Errorf("sensor: %w", err)
	}
	disp, err := openDisplay(&cfg.Display, &cl)
	if err != nil {
		return fmt.Errorf("display: %w", err)
	}
	tc, err := cfg.ThermometerConfig()
	if err != nil {
		return err
	}
	dev, err := thermometer.New(src, disp.lines, tc, &thermometer.Opts{Logger: log})
	if err != nil {
		return err
	}
	log.Info("starting", zap.Stringer("device", dev), zap.Stringer("unit", tc.Unit))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dev.Run(ctx)
	})
	if disp.screen != nil {
		g.Go(func() error {
			return disp.screen.Run(ctx, nil, screenPeriod)
		})
	}
	if cfg.Diag.Port != "" {
		port, err := diag.OpenSerial(cfg.Diag.Port, cfg.Diag.Baud)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		cl.add(port.Close)
		r := diag.New(port, dev.Controller(), &diag.Opts{Interval: cfg.Diag.Interval, Logger: log.Named("diag")})
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	if cfg.HTTP.Addr != "" {
		srv, err := statusd.New(dev.Controller(), &statusd.Opts{Refresh: dev.Driver(), Logger: log})
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			return srv.ListenAndServe(ctx, cfg.HTTP.Addr)
		})
	}
	err = g.Wait()
	m, p := dev.Driver().Stats(), dev.Scheduler().Stats()
	log.Info("stopped",
		zap.Uint64("cycles", m.Cycles),
		zap.Uint64("overruns", m.Overruns),
		zap.Duration("longest_cycle", m.LongestCycle),
		zap.Uint64("samples", p.Samples),
		zap.Uint64("failures", p.Failures),
		zap.Uint64("skipped", p.Skipped),
		zap.Error(err))

	if cfg.Snapshot != "" {
		if serr := saveSnapshot(cfg.Snapshot, dev.Controller().Status()); serr != nil {
			log.Warn("snapshot", zap.Error(serr))
		} else {
			log.Info("snapshot saved", zap.String("path", cfg.Snapshot))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func saveSnapshot(path string, st thermometer.Status) error {
	r, err := snapshot.New(nil)
	if err != nil {
		return err
	}
	return r.SavePNG(path, st.Frame, st.Unit.Symbol())
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "segtherm: %s.\n", err)
		os.Exit(1)
	}
}
