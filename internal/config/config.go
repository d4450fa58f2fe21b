// Package config loads runtime configuration for hemescreen.
//
// Precedence, highest first: explicit runtime overrides (CLI flags),
// environment variables with the HEMESCREEN_ prefix, an optional
// config file, then built-in defaults.
package config

import (
	"time"
)

// Config is the merged runtime configuration.
type Config struct {
	Engine  Engine  `mapstructure:"engine"`
	Docking Docking `mapstructure:"docking"`
	Logging Logging `mapstructure:"logging"`
	Status  Status  `mapstructure:"status"`
}

// Engine configures the docking engine subprocess.
type Engine struct {
	// Command is the engine argv prefix.
	Command []string `mapstructure:"command"`

	// Home is the engine installation directory passed as -d.
	Home string `mapstructure:"home"`

	// KillGrace is how long a timed-out process group gets between
	// SIGTERM and SIGKILL.
	KillGrace time.Duration `mapstructure:"kill_grace"`
}

// Docking configures the worker pool defaults.
type Docking struct {
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
	LaunchRate float64       `mapstructure:"launch_rate"`
}

// Logging configures the CLI logger.
type Logging struct {
	Level      string `mapstructure:"level"`
	Structured bool   `mapstructure:"structured"`
}

// Status configures the optional HTTP status endpoint.
type Status struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}
