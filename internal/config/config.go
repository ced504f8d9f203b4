package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fleetwatch/core-go/internal/timespan"
)

const (
	DefaultPath = "/etc/fleetwatch/config.yaml"

	defaultThreshold    = 60 * time.Minute
	defaultWakeDelay    = 30 * time.Second
	defaultPollInterval = 15 * time.Minute
	defaultRunTimeout   = 2 * time.Minute

	defaultBatteryThreshold = 20
)

// Config is the monitor configuration file. Duration fields are free-form
// expressions ("30m", "2h", "45") resolved through timespan.Parse with a
// field-specific default unit, so a bare "45" means 45 minutes for the
// threshold but 45 seconds for the wake delay.
type Config struct {
	Monitor MonitorConfig `yaml:"monitor"`
	Filter  FilterConfig  `yaml:"filter"`
	Battery BatteryConfig `yaml:"battery"`
}

type MonitorConfig struct {
	Threshold    string `yaml:"threshold"`
	WakeDelay    string `yaml:"wake_delay"`
	PollInterval string `yaml:"poll_interval"`
	RunTimeout   string `yaml:"run_timeout"`
}

type FilterConfig struct {
	Transports      []string `yaml:"transports"`
	Classes         []string `yaml:"classes"`
	ExcludedClasses []string `yaml:"excluded_classes"`
	IncludeNames    []string `yaml:"include_names"`
	ExcludeNames    []string `yaml:"exclude_names"`

	VirtualClassCounts      bool `yaml:"virtual_class_counts"`
	ExcludeOverridesVirtual bool `yaml:"exclude_overrides_virtual"`
}

type BatteryConfig struct {
	ThresholdPercent int  `yaml:"threshold_percent"`
	AlarmCountsAsLow bool `yaml:"alarm_counts_as_low"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the YAML config file, applies defaults, and
// validates. Malformed duration expressions are not an error here; they fall
// back to defaults at resolution time.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Battery.ThresholdPercent == 0 {
		cfg.Battery.ThresholdPercent = defaultBatteryThreshold
	}
}

// Validate enforces invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Battery.ThresholdPercent < 0 || cfg.Battery.ThresholdPercent > 100 {
		return fmt.Errorf("battery.threshold_percent must be within 0..100, got %d", cfg.Battery.ThresholdPercent)
	}
	return nil
}

// ThresholdWindow resolves the freshness window. Bare numbers are minutes.
func (m MonitorConfig) ThresholdWindow() time.Duration {
	return timespan.Parse(m.Threshold, timespan.Minutes, defaultThreshold)
}

// WakeDelayDuration resolves the wake-then-verify delay. Bare numbers are
// seconds.
func (m MonitorConfig) WakeDelayDuration() time.Duration {
	return timespan.Parse(m.WakeDelay, timespan.Seconds, defaultWakeDelay)
}

// PollIntervalDuration resolves the interval between scheduled runs. Bare
// numbers are minutes.
func (m MonitorConfig) PollIntervalDuration() time.Duration {
	return timespan.Parse(m.PollInterval, timespan.Minutes, defaultPollInterval)
}

// RunTimeoutDuration resolves the per-run execution ceiling. Bare numbers are
// seconds.
func (m MonitorConfig) RunTimeoutDuration() time.Duration {
	return timespan.Parse(m.RunTimeout, timespan.Seconds, defaultRunTimeout)
}
