// Package config loads the YAML configuration shared by both modes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/freqmon/pkg/acq"
	"github.com/freqmon/pkg/batch"
	"github.com/freqmon/pkg/control"
	"github.com/freqmon/pkg/monitor"
)

type Config struct {
	Instrument InstrumentConfig `yaml:"instrument"`
	Batch      BatchConfig      `yaml:"batch"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Server     ServerConfig     `yaml:"server"`
	Simulator  SimulatorConfig  `yaml:"simulator"`
}

// InstrumentConfig locates the board. Serial, when set, takes precedence
// over Address.
type InstrumentConfig struct {
	Address      string `yaml:"address"` // host or host:port of the SCPI server
	Serial       string `yaml:"serial"`
	Baud         int    `yaml:"baud"`
	Timeout      string `yaml:"timeout"`       // e.g. "5s"
	PollInterval string `yaml:"poll_interval"` // trigger/fill status polling
}

type BatchConfig struct {
	// Samples to capture; 0 uses MemoryFraction of the deep memory.
	Samples          int     `yaml:"samples"`
	MemoryFraction   float64 `yaml:"memory_fraction"`
	BlockSize        int     `yaml:"block_size"`
	SubWindow        int     `yaml:"sub_window"`
	ResolutionDigits int     `yaml:"resolution_digits"`
	Decimation       int     `yaml:"decimation"`
	Workers          int     `yaml:"workers"`
	CrossCheckMHz    float64 `yaml:"cross_check_mhz"`
	Output           string  `yaml:"output"`
	Raw              string  `yaml:"raw"` // keep the capture here when set
}

type MonitorConfig struct {
	Window           int     `yaml:"window"`
	Decimation       int     `yaml:"decimation"`
	ResolutionDigits int     `yaml:"resolution_digits"`
	TriggerLevel     float64 `yaml:"trigger_level"`
	TriggerDelay     int     `yaml:"trigger_delay"`
	FreqMinMHz       float64 `yaml:"freq_min_mhz"`
	FreqMaxMHz       float64 `yaml:"freq_max_mhz"`
	VoltMin          float64 `yaml:"volt_min"`
	VoltMax          float64 `yaml:"volt_max"`
	Baseline         float64 `yaml:"baseline"`
	RangePolicy      string  `yaml:"range_policy"` // pass, clamp, hold
}

type ServerConfig struct {
	Listen string `yaml:"listen"` // e.g. ":8080"; empty disables
}

// SimulatorConfig shapes the synthetic input used with -sim.
type SimulatorConfig struct {
	FreqMHz       float64 `yaml:"freq_mhz"`
	SweepFromMHz  float64 `yaml:"sweep_from_mhz"`
	SweepToMHz    float64 `yaml:"sweep_to_mhz"`
	SweepPeriod   string  `yaml:"sweep_period"`
	MemorySamples int     `yaml:"memory_samples"`
	ReadDelay     string  `yaml:"read_delay"`
	Seed          int64   `yaml:"seed"`
}

func Default() *Config {
	return &Config{
		Instrument: InstrumentConfig{
			Address:      "169.254.205.2",
			Baud:         115200,
			Timeout:      "5s",
			PollInterval: "5ms",
		},
		Batch: BatchConfig{
			MemoryFraction:   0.01,
			BlockSize:        batch.DefaultBlockSize,
			SubWindow:        batch.DefaultSubWindowSize,
			ResolutionDigits: 0,
			Decimation:       1,
			Workers:          1,
			Output:           "frequency.csv",
		},
		Monitor: MonitorConfig{
			Window:           1000,
			Decimation:       1,
			ResolutionDigits: 1,
			FreqMinMHz:       28,
			FreqMaxMHz:       62,
			VoltMin:          0,
			VoltMax:          0.9,
			RangePolicy:      "pass",
		},
		Simulator: SimulatorConfig{
			FreqMHz:       45,
			SweepPeriod:   "10s",
			MemorySamples: 1 << 24,
			ReadDelay:     "1ms",
			Seed:          1,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", acq.ErrConfiguration, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", acq.ErrConfiguration, err)
	}
	applyDefaults(&c)
	return &c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	if c.Instrument.Address == "" {
		c.Instrument.Address = d.Instrument.Address
	}
	if c.Instrument.Baud == 0 {
		c.Instrument.Baud = d.Instrument.Baud
	}
	if c.Instrument.Timeout == "" {
		c.Instrument.Timeout = d.Instrument.Timeout
	}
	if c.Instrument.PollInterval == "" {
		c.Instrument.PollInterval = d.Instrument.PollInterval
	}

	if c.Batch.Samples == 0 && c.Batch.MemoryFraction == 0 {
		c.Batch.MemoryFraction = d.Batch.MemoryFraction
	}
	if c.Batch.BlockSize == 0 {
		c.Batch.BlockSize = d.Batch.BlockSize
	}
	if c.Batch.SubWindow == 0 {
		c.Batch.SubWindow = d.Batch.SubWindow
	}
	if c.Batch.Decimation == 0 {
		c.Batch.Decimation = d.Batch.Decimation
	}
	if c.Batch.Workers == 0 {
		c.Batch.Workers = d.Batch.Workers
	}
	if c.Batch.Output == "" {
		c.Batch.Output = d.Batch.Output
	}

	if c.Monitor.Window == 0 {
		c.Monitor.Window = d.Monitor.Window
	}
	if c.Monitor.Decimation == 0 {
		c.Monitor.Decimation = d.Monitor.Decimation
	}
	// An envelope left entirely unset takes the default one; a partial
	// envelope is kept so Validate can reject it.
	if c.Monitor.FreqMinMHz == 0 && c.Monitor.FreqMaxMHz == 0 {
		c.Monitor.FreqMinMHz, c.Monitor.FreqMaxMHz = d.Monitor.FreqMinMHz, d.Monitor.FreqMaxMHz
	}
	if c.Monitor.VoltMin == 0 && c.Monitor.VoltMax == 0 {
		c.Monitor.VoltMin, c.Monitor.VoltMax = d.Monitor.VoltMin, d.Monitor.VoltMax
	}
	if c.Monitor.RangePolicy == "" {
		c.Monitor.RangePolicy = d.Monitor.RangePolicy
	}

	if c.Simulator.FreqMHz == 0 && c.Simulator.SweepFromMHz == 0 && c.Simulator.SweepToMHz == 0 {
		c.Simulator.FreqMHz = d.Simulator.FreqMHz
	}
	if c.Simulator.SweepPeriod == "" {
		c.Simulator.SweepPeriod = d.Simulator.SweepPeriod
	}
	if c.Simulator.MemorySamples == 0 {
		c.Simulator.MemorySamples = d.Simulator.MemorySamples
	}
	if c.Simulator.ReadDelay == "" {
		c.Simulator.ReadDelay = d.Simulator.ReadDelay
	}
}

// Validate checks every section so configuration errors surface before any
// instrument is touched.
func (c *Config) Validate() error {
	for name, s := range map[string]string{
		"instrument.timeout":       c.Instrument.Timeout,
		"instrument.poll_interval": c.Instrument.PollInterval,
		"simulator.sweep_period":   c.Simulator.SweepPeriod,
		"simulator.read_delay":     c.Simulator.ReadDelay,
	} {
		if _, err := parseDuration(name, s); err != nil {
			return err
		}
	}

	b := c.Batch
	if b.Samples < 0 {
		return fmt.Errorf("%w: batch.samples %d", acq.ErrConfiguration, b.Samples)
	}
	if b.Samples == 0 && (b.MemoryFraction <= 0 || b.MemoryFraction > 1) {
		return fmt.Errorf("%w: batch.memory_fraction %g not in (0, 1]", acq.ErrConfiguration, b.MemoryFraction)
	}
	p := c.BatchParams(b.Samples)
	if err := p.Validate(); err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	if _, err := c.MonitorConfig(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	if c.Simulator.MemorySamples < 1 {
		return fmt.Errorf("%w: simulator.memory_samples %d", acq.ErrConfiguration, c.Simulator.MemorySamples)
	}
	return nil
}

// BatchParams returns pipeline parameters for a capture of total samples.
func (c *Config) BatchParams(total int) batch.Params {
	return batch.Params{
		TotalSamples:     total,
		BlockSize:        c.Batch.BlockSize,
		SubWindowSize:    c.Batch.SubWindow,
		ResolutionDigits: c.Batch.ResolutionDigits,
		Decimation:       c.Batch.Decimation,
		Workers:          c.Batch.Workers,
		CrossCheckMHz:    c.Batch.CrossCheckMHz,
	}
}

// MonitorConfig builds the real-time loop configuration.
func (c *Config) MonitorConfig() (monitor.Config, error) {
	m := c.Monitor
	amap, err := control.NewAffineMap(m.FreqMinMHz, m.FreqMaxMHz, m.VoltMin, m.VoltMax)
	if err != nil {
		return monitor.Config{}, err
	}
	policy, err := control.ParsePolicy(m.RangePolicy)
	if err != nil {
		return monitor.Config{}, err
	}
	if m.Window < 2 || m.Decimation < 1 || m.ResolutionDigits < 0 {
		return monitor.Config{}, fmt.Errorf("%w: window %d, decimation %d, resolution %d",
			acq.ErrConfiguration, m.Window, m.Decimation, m.ResolutionDigits)
	}
	return monitor.Config{
		WindowSize:       m.Window,
		ResolutionDigits: m.ResolutionDigits,
		Acquisition: acq.Params{
			Decimation:   m.Decimation,
			TriggerLevel: m.TriggerLevel,
			TriggerDelay: m.TriggerDelay,
		},
		Map:      amap,
		Policy:   policy,
		Baseline: m.Baseline,
	}, nil
}

// TimeoutDuration returns the instrument I/O timeout.
func (i InstrumentConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("instrument.timeout", i.Timeout)
	return d
}

// PollDuration returns the status polling period.
func (i InstrumentConfig) PollDuration() time.Duration {
	d, _ := parseDuration("instrument.poll_interval", i.PollInterval)
	return d
}

// SweepDuration returns the simulator sweep period.
func (s SimulatorConfig) SweepDuration() time.Duration {
	d, _ := parseDuration("simulator.sweep_period", s.SweepPeriod)
	return d
}

// ReadDelayDuration returns the simulated acquisition time per window.
func (s SimulatorConfig) ReadDelayDuration() time.Duration {
	d, _ := parseDuration("simulator.read_delay", s.ReadDelay)
	return d
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s %q is not a duration", acq.ErrConfiguration, name, s)
	}
	return d, nil
}
