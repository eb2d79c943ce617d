// Package config loads the blflash tool configuration.
//
// Values are resolved in order: built-in defaults, then an optional YAML
// file, then BLFLASH_* environment variables. Command-line flags are applied
// on top by the caller.
package config

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/moffa90/go-blflash/session"
)

// EnvPrefix prefixes every environment variable, e.g. BLFLASH_PORT.
const EnvPrefix = "BLFLASH"

// Defaults used when neither the file nor the environment set a value.
const (
	DefaultBaudRate        = 1000000
	DefaultInitialBaudRate = 115200
	DefaultLogLevel        = "info"
)

// Config holds the tool configuration.
type Config struct {
	session.Connection `yaml:",inline"`

	// EflashLoader is the path of the eflash loader image uploaded before flash access
	EflashLoader string `yaml:"eflash_loader" envconfig:"EFLASH_LOADER"`

	// SkipEflashLoader talks to the boot ROM directly when no loader is set
	SkipEflashLoader bool `yaml:"skip_eflash_loader" envconfig:"SKIP_EFLASH_LOADER"`

	// Force writes the image even when the device already holds it
	Force bool `yaml:"force" envconfig:"FORCE"`

	// ResetAfterFlash restarts the chip into the application after a flash
	ResetAfterFlash bool `yaml:"reset_after_flash" envconfig:"RESET_AFTER_FLASH"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	// MetricsListenAddr serves Prometheus metrics while a command runs (optional)
	MetricsListenAddr string `yaml:"metrics_listen_addr" envconfig:"METRICS_LISTEN_ADDR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Connection: session.Connection{
			BaudRate:        DefaultBaudRate,
			InitialBaudRate: DefaultInitialBaudRate,
		},
		ResetAfterFlash: true,
		LogLevel:        DefaultLogLevel,
	}
}

// Load resolves the configuration from path and the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config file")
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(err, "read environment")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that can be checked before a command runs. The
// port is not required here: the ports command runs without one.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	if c.BaudRate == 0 {
		return errors.New("baud rate must be greater than zero")
	}
	if c.InitialBaudRate == 0 {
		return errors.New("initial baud rate must be greater than zero")
	}
	return nil
}
