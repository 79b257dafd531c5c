// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package logging builds the program's zap logger: human readable lines on
// the console and, optionally, JSON lines in a rotated file.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Opts configures the logger.
type Opts struct {
	// Level is one of debug, info, warn or error. "" means info.
	Level string
	// Console receives the human readable lines. nil means stderr.
	Console io.Writer
	// File, when set, also receives every line as JSON.
	File string
	// MaxSizeMB is the size at which File is rotated. 0 means 10.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept. 0 means 3.
	MaxBackups int
}

// ParseLevel converts a textual level.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q", s)
}

// newConsoleCore builds a zapcore.Core with a console encoder targeting w.
func newConsoleCore(w io.Writer, level zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(zapcore.AddSync(w)), level)
}

// newFileCore builds a zapcore.Core writing JSON to a rotated file.
func newFileCore(f *lumberjack.Logger, level zap.AtomicLevel) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(f), level)
}

// New returns the logger and a function that flushes and closes it.
func New(opts *Opts) (*zap.Logger, func() error, error) {
	if opts == nil {
		opts = &Opts{}
	}
	l, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	level := zap.NewAtomicLevelAt(l)
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	cores := []zapcore.Core{newConsoleCore(console, level)}
	var file *lumberjack.Logger
	if opts.File != "" {
		file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		if file.MaxSize == 0 {
			file.MaxSize = 10
		}
		if file.MaxBackups == 0 {
			file.MaxBackups = 3
		}
		cores = append(cores, newFileCore(file, level))
	}
	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	closer := func() error {
		// Sync of a console fails on some terminals; only the file matters.
		_ = log.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return log, closer, nil
}
