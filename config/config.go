// Package config loads coordination system settings from TOML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/logging"
	"github.com/vinayprograms/swarmkit/policy"
	"github.com/vinayprograms/swarmkit/swarm"
	"github.com/vinayprograms/swarmkit/telemetry"
)

// Duration is a time.Duration written as a string ("250ms", "1m") in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config is the full configuration of one coordination system.
type Config struct {
	Bus         BusConfig         `toml:"bus"`
	Coordinator CoordinatorConfig `toml:"coordinator"`
	Logging     LoggingConfig     `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
	Index       IndexConfig       `toml:"index"`
	Rules       []policy.RuleSpec `toml:"rule"`
}

// BusConfig configures the message bus.
type BusConfig struct {
	HistoryCapacity int `toml:"history_capacity"`
}

// CoordinatorConfig configures the swarm coordinator.
type CoordinatorConfig struct {
	TickInterval Duration `toml:"tick_interval"`
	AutoStart    bool     `toml:"auto_start"`
}

// LoggingConfig configures console logging.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Protocol    string `toml:"protocol"`
	ServiceName string `toml:"service_name"`
	Insecure    bool   `toml:"insecure"`
	Debug       bool   `toml:"debug"`
}

// IndexConfig configures the message search index.
type IndexConfig struct {
	Enabled bool `toml:"enabled"`

	// Path stores the index on disk; empty keeps it in memory.
	Path string `toml:"path"`
}

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			HistoryCapacity: bus.DefaultConfig().HistoryCapacity,
		},
		Coordinator: CoordinatorConfig{
			TickInterval: Duration(swarm.DefaultConfig().Interval),
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Telemetry: TelemetryConfig{
			Protocol: "grpc",
		},
	}
}

// Load reads a config file. Missing settings keep their defaults.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses TOML content over the defaults and validates the result.
func Parse(content string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(content, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.Bus.HistoryCapacity <= 0 {
		return fmt.Errorf("bus.history_capacity must be positive")
	}
	if c.Coordinator.TickInterval <= 0 {
		return fmt.Errorf("coordinator.tick_interval must be positive")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}

	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i+1, err)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %d: duplicate id %q", i+1, r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}

// BusSettings returns bus settings for this config.
func (c *Config) BusSettings() bus.Config {
	return bus.Config{HistoryCapacity: c.Bus.HistoryCapacity}
}

// CoordinatorSettings returns coordinator settings for this config.
func (c *Config) CoordinatorSettings() swarm.Config {
	return swarm.Config{Interval: time.Duration(c.Coordinator.TickInterval)}
}

// TelemetrySettings returns OpenTelemetry provider settings for this config.
func (c *Config) TelemetrySettings() telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName: c.Telemetry.ServiceName,
		Endpoint:    c.Telemetry.Endpoint,
		Protocol:    c.Telemetry.Protocol,
		Insecure:    c.Telemetry.Insecure,
		Debug:       c.Telemetry.Debug,
	}
}

// NewLogger builds a logger at the configured level.
func (c *Config) NewLogger() *logging.Logger {
	logger := logging.New()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
