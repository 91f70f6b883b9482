package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/control"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "freqmon.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	mc, err := c.MonitorConfig()
	if err != nil {
		t.Fatalf("MonitorConfig: %v", err)
	}
	if mc.WindowSize != 1000 || mc.Policy != control.Pass || mc.Map.FMin != 28 || mc.Map.VMax != 0.9 {
		t.Errorf("unexpected monitor config: %+v", mc)
	}
	if got := c.Instrument.TimeoutDuration(); got != 5*time.Second {
		t.Errorf("TimeoutDuration: got %v", got)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
instrument:
  serial: /dev/ttyUSB0
batch:
  samples: 250000
  resolution_digits: 1
  decimation: 8
monitor:
  range_policy: clamp
server:
  listen: ":8080"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if c.Instrument.Serial != "/dev/ttyUSB0" || c.Instrument.Baud != 115200 {
		t.Errorf("instrument: %+v", c.Instrument)
	}
	p := c.BatchParams(c.Batch.Samples)
	if p.TotalSamples != 250000 || p.BlockSize != 100000 || p.SubWindowSize != 1000 || p.Decimation != 8 || p.ResolutionDigits != 1 {
		t.Errorf("batch params: %+v", p)
	}
	if c.Batch.Output != "frequency.csv" {
		t.Errorf("batch output: %q", c.Batch.Output)
	}
	mc, err := c.MonitorConfig()
	if err != nil {
		t.Fatalf("MonitorConfig: %v", err)
	}
	if mc.Policy != control.Clamp || mc.Map.FMax != 62 {
		t.Errorf("monitor: %+v", mc)
	}
	if c.Server.Listen != ":8080" {
		t.Errorf("server listen: %q", c.Server.Listen)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"inverted envelope", "monitor:\n  freq_min_mhz: 62\n  freq_max_mhz: 28\n"},
		{"empty voltage span", "monitor:\n  volt_min: 0.5\n  volt_max: 0.5\n"},
		{"unknown policy", "monitor:\n  range_policy: wrap\n"},
		{"bad timeout", "instrument:\n  timeout: soon\n"},
		{"negative samples", "batch:\n  samples: -5\n"},
		{"fraction above one", "batch:\n  memory_fraction: 1.5\n"},
		{"negative digits", "batch:\n  resolution_digits: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Load(writeConfig(t, tc.body))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if err := c.Validate(); !errors.Is(err, acq.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, acq.ErrConfiguration) {
		t.Errorf("missing file: got %v", err)
	}
	if _, err := Load(writeConfig(t, "batch: [1, 2")); !errors.Is(err, acq.ErrConfiguration) {
		t.Errorf("malformed yaml: got %v", err)
	}
}
