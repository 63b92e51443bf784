// Package config holds application configuration with defaults and optional
// YAML file overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	LogLevel       string        `default:"info"`
	ScanTimeout    time.Duration `default:"10s"`
	ConnectTimeout time.Duration `default:"30s"`
	Adapter        int           `default:"-1"`
	MTU            int
	OutputFormat   string        `default:"table"` // table, json, watch
	Rate           time.Duration `default:"1s"`
}

// fileConfig mirrors Config for YAML decoding with human-readable durations.
type fileConfig struct {
	LogLevel       *string `yaml:"log_level"`
	ScanTimeout    *string `yaml:"scan_timeout"`
	ConnectTimeout *string `yaml:"connect_timeout"`
	Adapter        *int    `yaml:"adapter"`
	MTU            *int    `yaml:"mtu"`
	OutputFormat   *string `yaml:"output_format"`
	Rate           *string `yaml:"rate"`
}

// DefaultConfig returns configuration populated from default tags.
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	return c
}

// DefaultPath returns the conventional config file location, or "" when the
// user config directory cannot be determined.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "thingy", "config.yaml")
}

// Load reads a YAML config file and applies it over the defaults. A missing
// file is not an error; the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.apply(&fc); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(fc *fileConfig) error {
	if fc.LogLevel != nil {
		if _, err := logrus.ParseLevel(*fc.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
		c.LogLevel = *fc.LogLevel
	}
	if fc.ScanTimeout != nil {
		d, err := time.ParseDuration(*fc.ScanTimeout)
		if err != nil {
			return fmt.Errorf("scan_timeout: %w", err)
		}
		c.ScanTimeout = d
	}
	if fc.ConnectTimeout != nil {
		d, err := time.ParseDuration(*fc.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("connect_timeout: %w", err)
		}
		c.ConnectTimeout = d
	}
	if fc.Adapter != nil {
		c.Adapter = *fc.Adapter
	}
	if fc.MTU != nil {
		c.MTU = *fc.MTU
	}
	if fc.OutputFormat != nil {
		switch *fc.OutputFormat {
		case "table", "json", "watch":
			c.OutputFormat = *fc.OutputFormat
		default:
			return fmt.Errorf("output_format: unknown format %q", *fc.OutputFormat)
		}
	}
	if fc.Rate != nil {
		d, err := time.ParseDuration(*fc.Rate)
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		c.Rate = d
	}
	return nil
}

// NewLogger creates a logger configured from LogLevel.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
