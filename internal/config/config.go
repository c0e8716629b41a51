// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bridge configuration from a TOML file and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is used when no --config flag is given. A missing default file
// is not an error.
const DefaultPath = "datecs-bridge.toml"

// Config is the resolved bridge configuration.
type Config struct {
	HTTP     HTTPConfig
	Defaults DeviceDefaults
	Devices  []DeviceConfig
	Identity IdentityConfig
	Ports    PortWatchConfig
	Log      LogConfig
	DebugIO  bool
}

// HTTPConfig configures the HTTP boundary.
type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
}

// DeviceDefaults apply to every device that does not override them.
type DeviceDefaults struct {
	Baud         int
	TimeoutMS    int
	Retries      int
	RetryDelayMS int
	PollMS       int
	Codepage     string
}

// DeviceConfig describes one fiscal device.
type DeviceConfig struct {
	ID               string
	Path             string
	Baud             int
	TimeoutMS        int
	Retries          int
	RetryDelayMS     int
	PollMS           int
	Codepage         string
	ExpectedFiscalID string
}

// Timeout returns the response deadline for one attempt.
func (d DeviceConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutMS) * time.Millisecond
}

// RetryDelay returns the pause between attempts.
func (d DeviceConfig) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMS) * time.Millisecond
}

// PollInterval returns the read polling tick.
func (d DeviceConfig) PollInterval() time.Duration {
	return time.Duration(d.PollMS) * time.Millisecond
}

// Rule is a raw fingerprint rule, e.g. {Name: "PRISCOM", Match: "FM:1234"}.
type Rule struct {
	Name  string
	Match string
}

// IdentityConfig configures the identity monitor.
type IdentityConfig struct {
	Rules              []Rule
	BlockAllOnMismatch bool
	InitialDelayMS     int
	IntervalMS         int
}

// PortWatchConfig configures the serial port presence watcher.
type PortWatchConfig struct {
	Enabled        bool
	InitialDelayMS int
	IntervalMS     int
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the configuration used when no file is present: two
// devices A and B on COM11 and COM6.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr: ":9000",
			CORSOrigins: []string{
				"http://localhost:5173",
				"http://127.0.0.1:5173",
			},
		},
		Defaults: DeviceDefaults{
			Baud:         115200,
			TimeoutMS:    6000,
			Retries:      2,
			RetryDelayMS: 150,
			PollMS:       150,
		},
		Devices: []DeviceConfig{
			newDevice("A", "COM11"),
			newDevice("B", "COM6"),
		},
		Identity: IdentityConfig{
			InitialDelayMS: 1000,
			IntervalMS:     15000,
		},
		Ports: PortWatchConfig{
			Enabled:        true,
			InitialDelayMS: 1500,
			IntervalMS:     5000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// fileConfig mirrors the TOML layout. Pointer fields distinguish an explicit
// zero from an absent key.
type fileConfig struct {
	DebugIO *bool `toml:"debug_io"`

	HTTP struct {
		Addr        string   `toml:"addr"`
		CORSOrigins []string `toml:"cors_origins"`
	} `toml:"http"`

	Defaults struct {
		Baud         *int   `toml:"baud"`
		TimeoutMS    *int   `toml:"timeout_ms"`
		Retries      *int   `toml:"retries"`
		RetryDelayMS *int   `toml:"retry_delay_ms"`
		PollMS       *int   `toml:"poll_ms"`
		Codepage     string `toml:"codepage"`
	} `toml:"defaults"`

	Devices []fileDevice `toml:"devices"`

	Identity struct {
		BlockAllOnMismatch *bool `toml:"block_all_on_mismatch"`
		InitialDelayMS     *int  `toml:"initial_delay_ms"`
		IntervalMS         *int  `toml:"interval_ms"`
		Rules              []struct {
			Name  string `toml:"name"`
			Match string `toml:"match"`
		} `toml:"rules"`
	} `toml:"identity"`

	Ports struct {
		Enabled        *bool `toml:"enabled"`
		InitialDelayMS *int  `toml:"initial_delay_ms"`
		IntervalMS     *int  `toml:"interval_ms"`
	} `toml:"ports"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`
}

type fileDevice struct {
	ID               string `toml:"id"`
	Path             string `toml:"path"`
	Baud             *int   `toml:"baud"`
	TimeoutMS        *int   `toml:"timeout_ms"`
	Retries          *int   `toml:"retries"`
	RetryDelayMS     *int   `toml:"retry_delay_ms"`
	PollMS           *int   `toml:"poll_ms"`
	Codepage         string `toml:"codepage"`
	ExpectedFiscalID string `toml:"expected_fiscal_id"`
}

// Load reads path (if it exists), applies environment overrides from environ
// and validates the result. Per-device values left unset inherit the
// defaults. An empty path or a missing DefaultPath yields Default().
func Load(path string, environ []string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	if err := loadFile(path, &cfg); err != nil {
		if !(errors.Is(err, fs.ErrNotExist) && path == DefaultPath) {
			return Config{}, err
		}
	}

	if err := ApplyEnv(&cfg, environ); err != nil {
		return Config{}, err
	}
	cfg.resolveDevices()

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a TOML document over the defaults without touching the
// environment.
func Parse(data string) (Config, error) {
	cfg := Default()
	var raw fileConfig
	if _, err := toml.Decode(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}
	raw.apply(&cfg)
	cfg.resolveDevices()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	var raw fileConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	raw.apply(cfg)
	return nil
}

func (raw *fileConfig) apply(cfg *Config) {
	setBool(&cfg.DebugIO, raw.DebugIO)

	if s := strings.TrimSpace(raw.HTTP.Addr); s != "" {
		cfg.HTTP.Addr = s
	}
	if raw.HTTP.CORSOrigins != nil {
		cfg.HTTP.CORSOrigins = raw.HTTP.CORSOrigins
	}

	setInt(&cfg.Defaults.Baud, raw.Defaults.Baud)
	setInt(&cfg.Defaults.TimeoutMS, raw.Defaults.TimeoutMS)
	setInt(&cfg.Defaults.Retries, raw.Defaults.Retries)
	setInt(&cfg.Defaults.RetryDelayMS, raw.Defaults.RetryDelayMS)
	setInt(&cfg.Defaults.PollMS, raw.Defaults.PollMS)
	if s := strings.TrimSpace(raw.Defaults.Codepage); s != "" {
		cfg.Defaults.Codepage = s
	}

	if raw.Devices != nil {
		cfg.Devices = cfg.Devices[:0]
		for _, d := range raw.Devices {
			dev := newDevice(d.ID, strings.TrimSpace(d.Path))
			dev.Codepage = strings.TrimSpace(d.Codepage)
			dev.ExpectedFiscalID = strings.ToUpper(strings.TrimSpace(d.ExpectedFiscalID))
			setInt(&dev.Baud, d.Baud)
			setInt(&dev.TimeoutMS, d.TimeoutMS)
			setInt(&dev.Retries, d.Retries)
			setInt(&dev.RetryDelayMS, d.RetryDelayMS)
			setInt(&dev.PollMS, d.PollMS)
			cfg.Devices = append(cfg.Devices, dev)
		}
	}

	setBool(&cfg.Identity.BlockAllOnMismatch, raw.Identity.BlockAllOnMismatch)
	setInt(&cfg.Identity.InitialDelayMS, raw.Identity.InitialDelayMS)
	setInt(&cfg.Identity.IntervalMS, raw.Identity.IntervalMS)
	for _, r := range raw.Identity.Rules {
		cfg.Identity.Rules = append(cfg.Identity.Rules, Rule{
			Name:  strings.ToUpper(strings.TrimSpace(r.Name)),
			Match: strings.TrimSpace(r.Match),
		})
	}

	setBool(&cfg.Ports.Enabled, raw.Ports.Enabled)
	setInt(&cfg.Ports.InitialDelayMS, raw.Ports.InitialDelayMS)
	setInt(&cfg.Ports.IntervalMS, raw.Ports.IntervalMS)

	if s := strings.TrimSpace(raw.Log.Level); s != "" {
		cfg.Log.Level = s
	}
	if s := strings.TrimSpace(raw.Log.Format); s != "" {
		cfg.Log.Format = s
	}
}

// resolveDevices fills unset per-device values from the defaults. Zero
// means unset for every field except RetryDelayMS, where -1 marks it.
func (c *Config) resolveDevices() {
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Baud <= 0 {
			d.Baud = c.Defaults.Baud
		}
		if d.TimeoutMS <= 0 {
			d.TimeoutMS = c.Defaults.TimeoutMS
		}
		if d.Retries <= 0 {
			d.Retries = c.Defaults.Retries
		}
		if d.RetryDelayMS < 0 {
			d.RetryDelayMS = c.Defaults.RetryDelayMS
		}
		if d.PollMS <= 0 {
			d.PollMS = c.Defaults.PollMS
		}
		if d.Codepage == "" {
			d.Codepage = c.Defaults.Codepage
		}
	}
}

// newDevice returns a device whose tuning values all inherit the defaults.
func newDevice(id, path string) DeviceConfig {
	return DeviceConfig{ID: NormalizeID(id), Path: path, RetryDelayMS: -1}
}

// Device returns the device with the given id.
func (c Config) Device(id string) (DeviceConfig, bool) {
	id = NormalizeID(id)
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

// AdHoc returns a device for a path outside the configuration, tuned by
// the defaults. A baud of zero inherits the default.
func (c Config) AdHoc(id, path string, baud int) DeviceConfig {
	tmp := Config{Defaults: c.Defaults, Devices: []DeviceConfig{newDevice(id, path)}}
	tmp.Devices[0].Baud = baud
	tmp.resolveDevices()
	return tmp.Devices[0]
}

// NormalizeID canonicalizes a device id. Ids are case-insensitive.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
