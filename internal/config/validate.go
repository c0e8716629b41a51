// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"fmt"
	"strings"
)

// Validate checks a resolved configuration.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.HTTP.Addr) == "" {
		return fmt.Errorf("http config missing addr")
	}
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("no devices configured")
	}
	seen := make(map[string]bool, len(cfg.Devices))
	for i, d := range cfg.Devices {
		if err := ValidateDevice(d); err != nil {
			return fmt.Errorf("device[%d] invalid: %w", i, err)
		}
		if seen[d.ID] {
			return fmt.Errorf("device[%d] invalid: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
	}
	if cfg.Identity.IntervalMS <= 0 {
		return fmt.Errorf("identity interval_ms must be positive")
	}
	if cfg.Ports.Enabled && cfg.Ports.IntervalMS <= 0 {
		return fmt.Errorf("ports interval_ms must be positive")
	}
	for i, r := range cfg.Identity.Rules {
		if r.Name == "" {
			return fmt.Errorf("identity rule[%d] missing name", i)
		}
	}
	return nil
}

// ValidateDevice checks one resolved device entry.
func ValidateDevice(d DeviceConfig) error {
	if d.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(d.ID, "_ \t") {
		return fmt.Errorf("id %q may not contain underscores or spaces", d.ID)
	}
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}
	if d.Baud <= 0 {
		return fmt.Errorf("baud must be positive")
	}
	if d.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive")
	}
	if d.Retries < 1 {
		return fmt.Errorf("retries must be at least 1")
	}
	if d.RetryDelayMS < 0 {
		return fmt.Errorf("retry_delay_ms may not be negative")
	}
	if d.PollMS <= 0 {
		return fmt.Errorf("poll_ms must be positive")
	}
	return nil
}
