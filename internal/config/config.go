package config

import (
	"fmt"
	"time"

	"github.com/paceline/paceline/internal/core/engine"
)

// Config represents the complete application configuration
// following the Fulmen Forge Workhorse Standard three-layer pattern:
// Layer 1: Crucible defaults (config/paceline/v0/paceline-defaults.yaml)
// Layer 2: User overrides (~/.config/paceline/paceline/config.yaml)
// Layer 3: Environment variables and runtime overrides
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
	Debug     DebugConfig     `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RateLimitConfig contains the dual-window limiter settings.
//
// PerSecond and PerMinute are the raw provider caps; the effective capacity
// per window is the raw cap reduced by BufferPct percent. StarveAfter is the
// wait threshold after which a blocked acquire logs a starvation warning.
type RateLimitConfig struct {
	PerSecond   int           `mapstructure:"per_second"`
	PerMinute   int           `mapstructure:"per_minute"`
	BufferPct   float64       `mapstructure:"buffer_pct"`
	StarveAfter time.Duration `mapstructure:"starve_after"`
}

// Limits converts the section into the engine's limit type.
func (r RateLimitConfig) Limits() engine.Limits {
	return engine.Limits{
		PerSecond: r.PerSecond,
		PerMinute: r.PerMinute,
		BufferPct: r.BufferPct,
	}
}

// HTTPConfig contains the outbound client settings for request tasks.
type HTTPConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles per Fulmen Forge Workhorse Standard:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether metrics are exposed
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints are exposed
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	// Enabled controls whether debug mode is active
	Enabled bool `mapstructure:"enabled"`

	// PprofEnabled controls whether pprof endpoints are exposed
	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Validate fails fast on limiter settings that cannot produce a working
// bucket pair. Non-positive raw caps and buffers outside [0, 100) are
// rejected at load time, before anything is constructed from them.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := c.RateLimit.Limits().Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if c.RateLimit.StarveAfter < 0 {
		return fmt.Errorf("rate_limit: starve_after must not be negative")
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("http: timeout must not be negative")
	}
	return nil
}
