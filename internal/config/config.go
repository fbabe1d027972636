// Package config holds the runtime configuration for a verification
// session, loaded from YAML with zero-value backfill.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AnalysisMode selects where monitor reduction runs.
type AnalysisMode string

const (
	// AnalysisInline runs the analyzer inside the tracer's own loop,
	// between two consecutive mailbox reads.
	AnalysisInline AnalysisMode = "inline"

	// AnalysisExternal runs the analyzer as a separate agent with its
	// own mailbox.
	AnalysisExternal AnalysisMode = "external"
)

// Valid reports whether m is a known analysis mode.
func (m AnalysisMode) Valid() bool {
	return m == AnalysisInline || m == AnalysisExternal
}

// LoggingConfig controls the logging backend.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TracerConfig sizes the tracer agents.
type TracerConfig struct {
	// MailboxSize is the buffered capacity of each tracer's mailbox.
	MailboxSize int `yaml:"mailbox_size"`

	// Analysis selects inline or external monitor reduction.
	Analysis AnalysisMode `yaml:"analysis"`
}

// Config is the top-level runtime configuration.
type Config struct {
	Name    string        `yaml:"name"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "detecter",
		Tracer: TracerConfig{
			MailboxSize: 256,
			Analysis:    AnalysisInline,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file and backfills zero values with
// defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if !cfg.Tracer.Analysis.Valid() {
		return nil, fmt.Errorf("unknown analysis mode %q", cfg.Tracer.Analysis)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Tracer.MailboxSize <= 0 {
		c.Tracer.MailboxSize = d.Tracer.MailboxSize
	}
	if c.Tracer.Analysis == "" {
		c.Tracer.Analysis = d.Tracer.Analysis
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}
