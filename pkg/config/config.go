package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// NativeHostConfig describes how to launch the native messaging host
type NativeHostConfig struct {
	Path string   `yaml:"path"`
	Args []string `yaml:"args"`
}

// Config holds application configuration
type Config struct {
	LogLevel string `yaml:"log_level" default:"info"`
	Listen   string `yaml:"listen" default:"127.0.0.1:8765"`

	NativeHost NativeHostConfig `yaml:"native_host"`

	// RequestTimeout bounds each native command; 0 waits forever.
	RequestTimeout time.Duration `yaml:"request_timeout" default:"0s"`
	// DiscoveryTimeout bounds requestDevice; 0 waits until cancelled.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"0s"`

	// OutboxSize is the number of notifications buffered per WebSocket client.
	OutboxSize uint32 `yaml:"outbox_size" default:"256"`
	// FailPendingOnClose fails commands awaiting a reply when the native
	// host goes away.
	FailPendingOnClose bool `yaml:"fail_pending_on_close" default:"true"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	Metrics        bool     `yaml:"metrics" default:"true"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks field values that cannot be expressed by the types alone
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Listen == "" {
		return errors.New("listen address must not be empty")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative: %s", c.RequestTimeout)
	}
	if c.DiscoveryTimeout < 0 {
		return fmt.Errorf("discovery_timeout must not be negative: %s", c.DiscoveryTimeout)
	}
	if c.OutboxSize == 0 {
		return errors.New("outbox_size must be > 0")
	}
	return nil
}

// Level returns the parsed log level
func (c *Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	return level, nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, _ := c.Level()
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
