package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/pairing"
	"gopkg.in/yaml.v3"
)

// RetryConfig bounds repeated pairing attempts
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" default:"3"`
	InitialInterval time.Duration `yaml:"initial_interval" default:"1s"`
	MaxInterval     time.Duration `yaml:"max_interval" default:"30s"`
}

// Config holds application configuration
type Config struct {
	LogLevel       string        `yaml:"log_level" default:"info"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	StepTimeout    time.Duration `yaml:"step_timeout" default:"10s"`
	OpTimeout      time.Duration `yaml:"op_timeout" default:"5s"`

	// SyncSize is the number of history records requested once paired.
	SyncSize      int    `yaml:"sync_size" default:"360"`
	PeerKeyLayout string `yaml:"peer_key_layout" default:"fixed28"`
	LegacyCommand bool   `yaml:"legacy_command"`
	RecordBuffer  int    `yaml:"record_buffer" default:"256"`
	OutputFormat  string `yaml:"output_format" default:"text"` // text, json

	Retry RetryConfig `yaml:"retry"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the config file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Validate rejects values the pairing layer cannot work with.
func (c *Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Layout(); err != nil {
		return err
	}
	if err := pairing.Calculate(c.SyncSize).Validate(); err != nil {
		return fmt.Errorf("sync_size %d: %w", c.SyncSize, err)
	}
	if c.StepTimeout < 0 || c.OpTimeout < 0 || c.ConnectTimeout < 0 || c.ScanTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if c.RecordBuffer <= 0 {
		return fmt.Errorf("record_buffer must be positive, got %d", c.RecordBuffer)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	switch c.OutputFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", c.OutputFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (logrus.Level, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log_level: %w", err)
	}
	return lvl, nil
}

// Layout parses PeerKeyLayout.
func (c *Config) Layout() (pairing.Layout, error) {
	return pairing.ParseLayout(c.PeerKeyLayout)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := c.Level(); err == nil {
		logger.SetLevel(lvl)
	}

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// RunnerConfig returns the runner bounds.
func (c *Config) RunnerConfig() pairing.RunnerConfig {
	return pairing.RunnerConfig{
		StepTimeout:  c.StepTimeout,
		OpTimeout:    c.OpTimeout,
		RecordBuffer: c.RecordBuffer,
	}
}

// RetryPolicy returns the attempt policy.
func (c *Config) RetryPolicy() pairing.RetryPolicy {
	return pairing.RetryPolicy{
		MaxAttempts:     c.Retry.MaxAttempts,
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// MachineOptions returns state machine options. Call Validate first.
func (c *Config) MachineOptions(logger *logrus.Logger) pairing.Options {
	layout, _ := c.Layout()
	return pairing.Options{
		Layout:        layout,
		LegacyCommand: c.LegacyCommand,
		SyncSize:      c.SyncSize,
		Logger:        logger,
	}
}
