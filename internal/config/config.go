// Package config provides configuration loading and structs for the stiefel
// command and service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

// Config holds all configuration for the application.
type Config struct {
	Log       LogConfig           `yaml:"log"`
	Server    ServerConfig        `yaml:"server"`
	Tolerance *manifold.Tolerance `yaml:"tolerance"`
	Telemetry TelemetryConfig     `yaml:"telemetry"`
	Cache     CacheConfig         `yaml:"cache"`
	Remote    RemoteConfig        `yaml:"remote"`
}

// LogConfig holds the zerolog level name.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds HTTP and Flight listener settings.
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	Flight        string `yaml:"flight"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

type TelemetryConfig struct {
	OTel bool `yaml:"otel"`
}

// CacheConfig bounds the number of constructed manifolds kept by the
// service.
type CacheConfig struct {
	MaxManifolds int `yaml:"max_manifolds"`
}

// RemoteConfig holds the Flight client settings used by remote-project.
type RemoteConfig struct {
	Addr           string        `yaml:"addr"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxFailures    uint32        `yaml:"max_failures"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the config file at path and applies defaults. An
// empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values ApplyDefaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Server.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("server.max_concurrent must be positive, got %d", c.Server.MaxConcurrent))
	}
	if c.Tolerance != nil && (c.Tolerance.Abs < 0 || c.Tolerance.Rel < 0) {
		errs = append(errs, fmt.Errorf("tolerance must be non-negative, got %+v", *c.Tolerance))
	}
	if c.Cache.MaxManifolds < 0 {
		errs = append(errs, fmt.Errorf("cache.max_manifolds must be non-negative, got %d", c.Cache.MaxManifolds))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level, falling back to info.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
