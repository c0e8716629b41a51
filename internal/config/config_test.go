// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Defaults
// ============================================================

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd error: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir error: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.HTTP.Addr)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("expected 2 default devices, got %d", len(cfg.Devices))
	}
	a := cfg.Devices[0]
	if a.ID != "A" || a.Path != "COM11" || a.Baud != 115200 {
		t.Errorf("device A = %+v", a)
	}
	if a.Timeout() != 6*time.Second || a.Retries != 2 || a.RetryDelay() != 150*time.Millisecond {
		t.Errorf("device A tuning = %+v", a)
	}
	if a.PollInterval() != 150*time.Millisecond {
		t.Errorf("poll = %v", a.PollInterval())
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml"), nil); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

// ============================================================
// TOML
// ============================================================

const sampleConfig = `
debug_io = true

[http]
addr = ":9100"
cors_origins = ["https://shop.example"]

[defaults]
baud = 9600
retries = 3
retry_delay_ms = 0
codepage = "cp1250"

[[devices]]
id = "a"
path = "/dev/ttyUSB0"
expected_fiscal_id = "priscom"

[[devices]]
id = "B"
path = "/dev/ttyUSB1"
baud = 115200
timeout_ms = 2000
retry_delay_ms = 50

[identity]
block_all_on_mismatch = true
interval_ms = 30000

[[identity.rules]]
name = "priscom"
match = "FM:DT123456"

[[identity.rules]]
name = "AUTODIMAS"
match = "TEXT:autodimas"

[ports]
enabled = false
`

func TestParse_File(t *testing.T) {
	cfg, err := Parse(sampleConfig)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if !cfg.DebugIO || cfg.HTTP.Addr != ":9100" || len(cfg.HTTP.CORSOrigins) != 1 {
		t.Errorf("top-level = %+v", cfg)
	}

	a, ok := cfg.Device("A")
	if !ok {
		t.Fatal("device A missing")
	}
	if a.Baud != 9600 || a.Retries != 3 || a.RetryDelayMS != 0 || a.Codepage != "cp1250" {
		t.Errorf("device A should inherit defaults: %+v", a)
	}
	if a.ExpectedFiscalID != "PRISCOM" {
		t.Errorf("expected id = %q", a.ExpectedFiscalID)
	}

	b, _ := cfg.Device("b")
	if b.Baud != 115200 || b.TimeoutMS != 2000 || b.RetryDelayMS != 50 {
		t.Errorf("device B overrides lost: %+v", b)
	}

	if !cfg.Identity.BlockAllOnMismatch || cfg.Identity.IntervalMS != 30000 || cfg.Identity.InitialDelayMS != 1000 {
		t.Errorf("identity = %+v", cfg.Identity)
	}
	if len(cfg.Identity.Rules) != 2 || cfg.Identity.Rules[0].Name != "PRISCOM" {
		t.Errorf("rules = %+v", cfg.Identity.Rules)
	}
	if cfg.Ports.Enabled {
		t.Error("port watcher should be disabled")
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, []string{"DEV_B_BAUD=19200", "HTTP_PORT=9200"})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	b, _ := cfg.Device("B")
	if b.Baud != 19200 {
		t.Errorf("env should override file baud, got %d", b.Baud)
	}
	if cfg.HTTP.Addr != ":9200" {
		t.Errorf("Addr = %q", cfg.HTTP.Addr)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"syntax", "[http\naddr=1", "parse"},
		{"missing path", "[[devices]]\nid = \"A\"", "path is required"},
		{"duplicate id", "[[devices]]\nid = \"A\"\npath = \"x\"\n[[devices]]\nid = \"a\"\npath = \"y\"", "duplicate"},
		{"zero retries", "[defaults]\nretries = 0", "retries"},
		{"underscore id", "[[devices]]\nid = \"A_1\"\npath = \"x\"", "underscores"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_NoDevices(t *testing.T) {
	cfg := Default()
	cfg.Devices = nil
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "no devices") {
		t.Errorf("expected no devices error, got %v", err)
	}
}

// ============================================================
// Environment
// ============================================================

func TestApplyEnv_Globals(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{
		"HTTP_PORT=9001",
		"DEFAULT_BAUD=57600",
		"RESPONSE_TIMEOUT_MS=3000",
		"CMD_RETRIES=0",
		"CMD_RETRY_DELAY_MS=-5",
		"DEBUG_IO=1",
		"BLOCK_ALL_ON_MISMATCH=1",
		"UNRELATED",
	})
	if err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	cfg.resolveDevices()

	if cfg.HTTP.Addr != ":9001" || !cfg.DebugIO || !cfg.Identity.BlockAllOnMismatch {
		t.Errorf("globals = %+v", cfg)
	}
	a, _ := cfg.Device("A")
	if a.Baud != 57600 || a.TimeoutMS != 3000 {
		t.Errorf("device A = %+v", a)
	}
	if a.Retries != 1 || a.RetryDelayMS != 0 {
		t.Errorf("retries/delay should clamp to 1/0, got %d/%d", a.Retries, a.RetryDelayMS)
	}
}

func TestApplyEnv_PerDevice(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(&cfg, []string{
		"DEV_A_PORT=COM3",
		"DEV_A_TIMEOUT_MS=1000",
		"DEV_A_RETRIES=4",
		"DEV_A_RETRY_DELAY_MS=10",
		"DEV_A_EXPECTED_FISCAL_ID=priscom",
		"DEV_C_PORT=COM9",
		"DEV_C_BAUD=9600",
		"DEV_Z_BAUD=1200",
	})
	if err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	cfg.resolveDevices()

	a, _ := cfg.Device("A")
	if a.Path != "COM3" || a.TimeoutMS != 1000 || a.Retries != 4 || a.RetryDelayMS != 10 || a.ExpectedFiscalID != "PRISCOM" {
		t.Errorf("device A = %+v", a)
	}
	c, ok := cfg.Device("C")
	if !ok || c.Path != "COM9" || c.Baud != 9600 || c.RetryDelayMS != 150 {
		t.Errorf("device C = %+v (ok=%v)", c, ok)
	}
	if _, ok := cfg.Device("Z"); ok {
		t.Error("device Z has no port and should not be created")
	}
	if got := cfg.ExpectedMap(); got["A"] != "PRISCOM" || got["B"] != "" {
		t.Errorf("ExpectedMap = %v", got)
	}
}

func TestApplyEnv_Rules(t *testing.T) {
	cfg := Default()
	cfg.Identity.Rules = []Rule{{Name: "PRISCOM", Match: "FM:1"}}
	err := ApplyEnv(&cfg, []string{
		"PRISCOM_MATCH=FM:DT999",
		"AUTODIMAS_MATCH=TEXT:autodimas",
		"EMPTY_MATCH=",
		"DEV_A_MATCH=FM:ignored",
	})
	if err != nil {
		t.Fatalf("ApplyEnv error: %v", err)
	}
	if len(cfg.Identity.Rules) != 2 {
		t.Fatalf("rules = %+v", cfg.Identity.Rules)
	}
	if cfg.Identity.Rules[0] != (Rule{Name: "PRISCOM", Match: "FM:DT999"}) {
		t.Errorf("env should replace file rule: %+v", cfg.Identity.Rules[0])
	}
	if cfg.Identity.Rules[1] != (Rule{Name: "AUTODIMAS", Match: "TEXT:autodimas"}) {
		t.Errorf("rule[1] = %+v", cfg.Identity.Rules[1])
	}
}

func TestApplyEnv_InvalidNumbers(t *testing.T) {
	for _, kv := range []string{"HTTP_PORT=abc", "HTTP_PORT=70000", "DEFAULT_BAUD=fast", "DEV_A_RETRIES=x"} {
		cfg := Default()
		if err := ApplyEnv(&cfg, []string{kv}); err == nil {
			t.Errorf("%s: expected error", kv)
		}
	}
}

func TestAdHoc(t *testing.T) {
	cfg := Default()
	cfg.Defaults.Retries = 4

	d := cfg.AdHoc("x", "/dev/ttyUSB0", 0)
	if d.ID != "X" || d.Path != "/dev/ttyUSB0" {
		t.Errorf("AdHoc = %+v", d)
	}
	if d.Baud != 115200 || d.Retries != 4 || d.RetryDelay() != 150*time.Millisecond {
		t.Errorf("AdHoc tuning = %+v", d)
	}
	if got := cfg.AdHoc("x", "COM3", 9600).Baud; got != 9600 {
		t.Errorf("explicit baud = %d", got)
	}
}
