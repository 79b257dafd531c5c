// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the thermometer settings.
//
// Values come, in increasing priority, from the defaults, a YAML file,
// SEGTHERM_ environment variables (SEGTHERM_DISPLAY_BACKEND for
// display.backend) and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/GermanBionicSystems/segtherm/logging"
	"github.com/GermanBionicSystems/segtherm/mux"
	"github.com/GermanBionicSystems/segtherm/thermometer"
	"github.com/GermanBionicSystems/segtherm/thermunit"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Sensor kinds.
const (
	SensorTMP102  = "tmp102"
	SensorDS18B20 = "ds18b20"
	SensorSim     = "sim"
)

// Display backends.
const (
	BackendGPIO     = "gpio"
	BackendRPIO     = "rpio"
	BackendShiftReg = "shiftreg"
	BackendScreen   = "screen"
)

type Config struct {
	Unit          string        `mapstructure:"unit" yaml:"unit"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SensorTimeout time.Duration `mapstructure:"sensor_timeout" yaml:"sensor_timeout"`
	Dwell         time.Duration `mapstructure:"dwell" yaml:"dwell"`
	Hysteresis    float64       `mapstructure:"hysteresis" yaml:"hysteresis"`
	AutoRange     bool          `mapstructure:"auto_range" yaml:"auto_range"`
	LampTest      time.Duration `mapstructure:"lamp_test" yaml:"lamp_test"`
	// Snapshot is a PNG file written with the last frame on exit.
	Snapshot string `mapstructure:"snapshot" yaml:"snapshot"`

	Sensor  SensorConfig  `mapstructure:"sensor" yaml:"sensor"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`
	Diag    DiagConfig    `mapstructure:"diag" yaml:"diag"`
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type SensorConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Bus is the I²C or 1-wire bus name. "" is the first one registered.
	Bus  string `mapstructure:"bus" yaml:"bus"`
	Addr uint16 `mapstructure:"addr" yaml:"addr"`
	// OneWireAddr is the DS18B20 ROM code, e.g. "0x740000070e41ac28". ""
	// picks the first DS18B20 found on the bus.
	OneWireAddr string `mapstructure:"onewire_addr" yaml:"onewire_addr"`
	Resolution  int    `mapstructure:"resolution" yaml:"resolution"`
	// Base is the simulated temperature in °C.
	Base       float64 `mapstructure:"base" yaml:"base"`
	FaultEvery int     `mapstructure:"fault_every" yaml:"fault_every"`
}

type DisplayConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Segments are the pins for a to g then the decimal point.
	Segments         []string `mapstructure:"segments" yaml:"segments"`
	Digits           []string `mapstructure:"digits" yaml:"digits"`
	SegmentActiveLow bool     `mapstructure:"segment_active_low" yaml:"segment_active_low"`
	DigitActiveLow   bool     `mapstructure:"digit_active_low" yaml:"digit_active_low"`
	// SPI is the port driving the 74HC595 of the shiftreg backend.
	SPI string `mapstructure:"spi" yaml:"spi"`
	// SegmentPins drives each segment as its own register output instead of
	// latching the 8 of a digit at once.
	SegmentPins bool `mapstructure:"segment_pins" yaml:"segment_pins"`
	// Plain makes the screen backend print text lines instead of glyphs.
	Plain bool `mapstructure:"plain" yaml:"plain"`
}

type DiagConfig struct {
	Port     string        `mapstructure:"port" yaml:"port"`
	Baud     int           `mapstructure:"baud" yaml:"baud"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

var defaults = map[string]any{
	"unit":                       "C",
	"poll_interval":              time.Second,
	"sensor_timeout":             time.Duration(0),
	"dwell":                      mux.DefaultDwell,
	"hysteresis":                 0.1,
	"auto_range":                 false,
	"lamp_test":                  time.Second,
	"snapshot":                   "",
	"sensor.kind":                SensorSim,
	"sensor.bus":                 "",
	"sensor.addr":                0x48,
	"sensor.onewire_addr":        "",
	"sensor.resolution":          10,
	"sensor.base":                22.0,
	"sensor.fault_every":         0,
	"display.backend":            BackendScreen,
	"display.segments":           []string{"GPIO5", "GPIO6", "GPIO13", "GPIO19", "GPIO26", "GPIO16", "GPIO20", "GPIO21"},
	"display.digits":             []string{"GPIO17", "GPIO27", "GPIO22"},
	"display.segment_active_low": false,
	"display.digit_active_low":   false,
	"display.spi":                "",
	"display.segment_pins":       false,
	"display.plain":              false,
	"diag.port":                  "",
	"diag.baud":                  9600,
	"diag.interval":              time.Second,
	"http.addr":                  "",
	"log.level":                  "info",
	"log.file":                   "",
	"log.max_size_mb":            10,
	"log.max_backups":            3,
}

// Flags returns the command line flags that override the file. Their names
// are the configuration keys.
func Flags(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.StringP("config", "c", "", "configuration file")
	f.StringP("unit", "u", "C", "display unit: C, F or K")
	f.Duration("poll_interval", time.Second, "time between sensor reads")
	f.Duration("dwell", mux.DefaultDwell, "time each digit is lit")
	f.Float64("hysteresis", 0.1, "change in degrees needed to update the display")
	f.Bool("auto_range", false, "show whole degrees when a decimal does not fit")
	f.Duration("lamp_test", time.Second, "light every segment at startup for this long")
	f.String("snapshot", "", "write the last frame as PNG to this file on exit")
	f.String("sensor.kind", SensorSim, "tmp102, ds18b20 or sim")
	f.String("display.backend", BackendScreen, "gpio, rpio, shiftreg or screen")
	f.String("diag.port", "", "serial port for the diagnostic stream")
	f.String("http.addr", "", "address of the status server, e.g. :8080")
	f.StringP("log.level", "l", "info", "debug, info, warn or error")
	return f
}

// Load reads the configuration. path "" looks for segtherm.yaml in ./configs
// and /etc/segtherm, and carries on with the defaults when there is none.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix("SEGTHERM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("segtherm")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath("/etc/segtherm")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func invalid(format string, a ...any) error {
	return fmt.Errorf("config: %w: "+format, append([]any{ErrInvalid}, a...)...)
}

// Validate reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	if u, err := thermunit.ParseUnit(c.Unit); err != nil {
		errs = append(errs, invalid("unit: %v", err))
	} else if u == thermunit.Kelvin && !c.AutoRange {
		// Every temperature above 99.9K needs whole degrees.
		errs = append(errs, invalid("unit K needs auto_range"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, invalid("poll_interval must be positive"))
	}
	if c.SensorTimeout < 0 {
		errs = append(errs, invalid("sensor_timeout must not be negative"))
	}
	if c.Dwell <= 0 || 3*c.Dwell >= mux.MaxCycle {
		errs = append(errs, invalid("dwell %s: a refresh cycle must stay under %s", c.Dwell, mux.MaxCycle))
	}
	if c.Hysteresis < 0 || math.IsNaN(c.Hysteresis) {
		errs = append(errs, invalid("hysteresis must not be negative"))
	}
	if c.LampTest < 0 {
		errs = append(errs, invalid("lamp_test must not be negative"))
	}
	switch c.Sensor.Kind {
	case SensorTMP102, SensorSim:
	case SensorDS18B20:
		if r := c.Sensor.Resolution; r != 0 && (r < 9 || r > 12) {
			errs = append(errs, invalid("sensor.resolution %d: want 9 to 12 bits", r))
		}
	default:
		errs = append(errs, invalid("sensor.kind %q", c.Sensor.Kind))
	}
	switch c.Display.Backend {
	case BackendGPIO, BackendRPIO:
		errs = append(errs, checkPins("display.segments", c.Display.Segments, 8)...)
		errs = append(errs, checkPins("display.digits", c.Display.Digits, 3)...)
		if err := duplicates(append(append([]string{}, c.Display.Segments...), c.Display.Digits...)); err != nil {
			errs = append(errs, err)
		}
	case BackendShiftReg:
		errs = append(errs, checkPins("display.digits", c.Display.Digits, 3)...)
		if err := duplicates(c.Display.Digits); err != nil {
			errs = append(errs, err)
		}
	case BackendScreen:
	default:
		errs = append(errs, invalid("display.backend %q", c.Display.Backend))
	}
	if c.Diag.Port != "" && c.Diag.Baud <= 0 {
		errs = append(errs, invalid("diag.baud must be positive"))
	}
	if c.Diag.Interval < 0 {
		errs = append(errs, invalid("diag.interval must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, invalid("log.level: %v", err))
	}
	return errors.Join(errs...)
}

func checkPins(key string, pins []string, n int) []error {
	if len(pins) != n {
		return []error{invalid("%s: want %d pins, got %d", key, n, len(pins))}
	}
	var errs []error
	for i, p := range pins {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, invalid("%s[%d] is empty", key, i))
		}
	}
	return errs
}

func duplicates(pins []string) error {
	seen := map[string]bool{}
	for _, p := range pins {
		if seen[p] {
			return invalid("pin %s is used twice", p)
		}
		seen[p] = true
	}
	return nil
}

// ThermometerConfig returns the settings of the thermometer itself.
func (c *Config) ThermometerConfig() (thermometer.Config, error) {
	u, err := thermunit.ParseUnit(c.Unit)
	if err != nil {
		return thermometer.Config{}, invalid("unit: %v", err)
	}
	return thermometer.Config{
		Unit:          u,
		Hysteresis:    thermunit.Value(math.Round(c.Hysteresis * float64(thermunit.Degree))),
		AutoRange:     c.AutoRange,
		PollInterval:  c.PollInterval,
		SensorTimeout: c.SensorTimeout,
		Dwell:         c.Dwell,
		LampTest:      c.LampTest,
	}, nil
}

// Dump writes the effective configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(c); err != nil {
		return err
	}
	return e.Close()
}
