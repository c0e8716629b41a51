// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Environment variable names understood by ApplyEnv. Per-device variables
// follow the DEV_<ID>_<FIELD> pattern and fingerprint rules <NAME>_MATCH.
const (
	EnvHTTPPort           = "HTTP_PORT"
	EnvDefaultBaud        = "DEFAULT_BAUD"
	EnvResponseTimeout    = "RESPONSE_TIMEOUT_MS"
	EnvRetries            = "CMD_RETRIES"
	EnvRetryDelay         = "CMD_RETRY_DELAY_MS"
	EnvBlockAllOnMismatch = "BLOCK_ALL_ON_MISMATCH"
	EnvDebugIO            = "DEBUG_IO"
	EnvLogLevel           = "DATECS_LOG_LEVEL"

	devicePrefix = "DEV_"
	matchSuffix  = "_MATCH"
)

// ApplyEnv overrides cfg from KEY=VALUE pairs (as returned by os.Environ).
// A DEV_<ID>_PORT for an unknown id adds that device.
func ApplyEnv(cfg *Config, environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = strings.TrimSpace(v)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if v, ok := env[EnvHTTPPort]; ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("%s: invalid port %q", EnvHTTPPort, v)
		}
		cfg.HTTP.Addr = ":" + strconv.Itoa(port)
	}

	globals := []struct {
		key string
		dst *int
		min int
	}{
		{EnvDefaultBaud, &cfg.Defaults.Baud, 1},
		{EnvResponseTimeout, &cfg.Defaults.TimeoutMS, 1},
		{EnvRetries, &cfg.Defaults.Retries, 1},
		{EnvRetryDelay, &cfg.Defaults.RetryDelayMS, 0},
	}
	for _, g := range globals {
		if err := envInt(env, g.key, g.dst, g.min); err != nil {
			return err
		}
	}

	if v, ok := env[EnvDebugIO]; ok {
		cfg.DebugIO = v == "1"
	}
	if v, ok := env[EnvBlockAllOnMismatch]; ok {
		cfg.Identity.BlockAllOnMismatch = v == "1"
	}
	if v := env[EnvLogLevel]; v != "" {
		cfg.Log.Level = v
	}

	for _, k := range keys {
		id, field, ok := deviceKey(k)
		if !ok || field != "PORT" || env[k] == "" {
			continue
		}
		if i := cfg.deviceIndex(id); i >= 0 {
			cfg.Devices[i].Path = env[k]
		} else {
			cfg.Devices = append(cfg.Devices, newDevice(id, env[k]))
		}
	}

	for _, k := range keys {
		id, field, ok := deviceKey(k)
		if !ok {
			continue
		}
		i := cfg.deviceIndex(id)
		if i < 0 {
			continue
		}
		d := &cfg.Devices[i]
		var err error
		switch field {
		case "BAUD":
			err = envInt(env, k, &d.Baud, 1)
		case "TIMEOUT_MS":
			err = envInt(env, k, &d.TimeoutMS, 1)
		case "RETRIES":
			err = envInt(env, k, &d.Retries, 1)
		case "RETRY_DELAY_MS":
			err = envInt(env, k, &d.RetryDelayMS, 0)
		case "POLL_MS":
			err = envInt(env, k, &d.PollMS, 1)
		case "CODEPAGE":
			d.Codepage = env[k]
		case "EXPECTED_FISCAL_ID":
			d.ExpectedFiscalID = strings.ToUpper(env[k])
		}
		if err != nil {
			return err
		}
	}

	for _, k := range keys {
		if !strings.HasSuffix(k, matchSuffix) || strings.HasPrefix(k, devicePrefix) || env[k] == "" {
			continue
		}
		name := strings.ToUpper(strings.TrimSuffix(k, matchSuffix))
		if name == "" {
			continue
		}
		cfg.Identity.setRule(name, env[k])
	}

	return nil
}

// deviceKey splits DEV_<ID>_<FIELD>. Field names may contain underscores,
// ids may not.
func deviceKey(k string) (id, field string, ok bool) {
	if !strings.HasPrefix(k, devicePrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(k, devicePrefix)
	id, field, ok = strings.Cut(rest, "_")
	if !ok || id == "" || field == "" {
		return "", "", false
	}
	return NormalizeID(id), field, true
}

func envInt(env map[string]string, key string, dst *int, min int) error {
	v, ok := env[key]
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid number %q", key, v)
	}
	if n < min {
		n = min
	}
	*dst = n
	return nil
}

func (c *Config) deviceIndex(id string) int {
	for i, d := range c.Devices {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (ic *IdentityConfig) setRule(name, match string) {
	for i, r := range ic.Rules {
		if r.Name == name {
			ic.Rules[i].Match = match
			return
		}
	}
	ic.Rules = append(ic.Rules, Rule{Name: name, Match: match})
}

// ExpectedMap returns the expected fiscal identity per device id.
func (c Config) ExpectedMap() map[string]string {
	m := make(map[string]string, len(c.Devices))
	for _, d := range c.Devices {
		m[d.ID] = d.ExpectedFiscalID
	}
	return m
}
