package config

import (
	"time"

	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.MaxConcurrent == 0 {
		cfg.Server.MaxConcurrent = 64
	}
	if cfg.Tolerance == nil {
		tol := manifold.DefaultTolerance
		cfg.Tolerance = &tol
	}
	if cfg.Cache.MaxManifolds == 0 {
		cfg.Cache.MaxManifolds = 256
	}
	if cfg.Remote.Timeout == 0 {
		cfg.Remote.Timeout = 60 * time.Second
	}
	if cfg.Remote.MaxFailures == 0 {
		cfg.Remote.MaxFailures = 5
	}
	if cfg.Remote.BreakerTimeout == 0 {
		cfg.Remote.BreakerTimeout = 30 * time.Second
	}
}
