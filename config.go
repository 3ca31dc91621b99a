package dbkit

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-loadable counterpart of the functional options, for
// services that keep database settings in a config file.
type Config struct {
	Path        string        `yaml:"path"`
	Synchronous string        `yaml:"synchronous"`  // off | normal | full
	BusyTimeout time.Duration `yaml:"busy_timeout"` // e.g. "3m"
	AutoVacuum  *bool         `yaml:"auto_vacuum"`  // nil means enabled

	// TablePrefix feeds the tablename mapping; the core query path never
	// reads it.
	TablePrefix string `yaml:"table_prefix"`
}

func (c *Config) defaults() {
	if c.Synchronous == "" {
		c.Synchronous = "normal"
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Synchronous) {
	case "off", "normal", "full":
		return nil
	}
	return fmt.Errorf("dbkit: config: synchronous %q (want off, normal or full)", c.Synchronous)
}

// LoadConfigFile reads a YAML config file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("dbkit: config %s: %w", path, err)
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Options translates the config into the equivalent functional options.
func (c *Config) Options() []Option {
	opts := []Option{
		WithSynchronous(c.Synchronous),
		WithBusyTimeout(c.BusyTimeout),
	}
	if c.AutoVacuum != nil && !*c.AutoVacuum {
		opts = append(opts, WithoutAutoVacuum())
	}
	return opts
}
