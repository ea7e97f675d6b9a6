// Package config provides configuration management for ComplyForge.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all ComplyForge configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Cloud       CloudConfig       `yaml:"cloud"`
	Remediation RemediationConfig `yaml:"remediation"`
	AI          AIConfig          `yaml:"ai"`
	Script      ScriptConfig      `yaml:"script"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
}

// RateLimitConfig holds API rate limiting settings. Rate limiting requires
// Redis and is skipped when Redis is disabled.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	IncludeHeaders    bool `yaml:"include_headers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings for the execution history store.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	HistoryTTL  time.Duration `yaml:"history_ttl"`
}

// CloudConfig holds cloud control-plane client settings.
type CloudConfig struct {
	Provider string `yaml:"provider"` // aws, memory
	Region   string `yaml:"region"`
}

// RemediationConfig holds remediation engine settings.
type RemediationConfig struct {
	// AutomatedRemediationEnabled is the global fail-closed gate. When false
	// every execution fails with a configuration error, regardless of finding
	// content.
	AutomatedRemediationEnabled bool `yaml:"automated_remediation_enabled"`

	MaxConcurrentRemediations int  `yaml:"max_concurrent_remediations"`
	RequireApproval           bool `yaml:"require_approval"`
	AutoValidate              bool `yaml:"auto_validate"`
	AutoRollback              bool `yaml:"auto_rollback"`
	SnapshotBeforeChange      bool `yaml:"snapshot_before_change"`
}

// AIConfig holds settings for the optional AI script-generation collaborator.
type AIConfig struct {
	Enabled   bool          `yaml:"enabled"`
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Model     string        `yaml:"model"`
	Dialect   string        `yaml:"dialect"` // target scripting dialect, e.g. bash
	Timeout   time.Duration `yaml:"timeout"`
}

// ScriptConfig holds sandboxed script executor settings.
type ScriptConfig struct {
	Shell      string        `yaml:"shell"`
	WorkDir    string        `yaml:"work_dir"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Sanitize   bool          `yaml:"sanitize"`
}

// TelemetryConfig holds tracing and metrics settings.
type TelemetryConfig struct {
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	MetricsPort    int     `yaml:"metrics_port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			HistoryTTL: 30 * 24 * time.Hour,
		},
		Cloud: CloudConfig{
			Provider: "memory",
			Region:   "us-east-1",
		},
		Remediation: RemediationConfig{
			AutomatedRemediationEnabled: true,
			MaxConcurrentRemediations:   5,
			RequireApproval:             false,
			AutoValidate:                true,
			AutoRollback:                true,
			SnapshotBeforeChange:        true,
		},
		AI: AIConfig{
			Enabled:   false,
			APIKeyEnv: "COMPLYFORGE_AI_API_KEY",
			Model:     "gpt-4o-mini",
			Dialect:   "bash",
			Timeout:   60 * time.Second,
		},
		Script: ScriptConfig{
			Shell:      "/bin/bash",
			Timeout:    5 * time.Minute,
			MaxRetries: 1,
			Sanitize:   true,
		},
		Telemetry: TelemetryConfig{
			TracingEnabled: false,
			SamplingRate:   0.1,
			MetricsEnabled: true,
			MetricsPort:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 120,
			IncludeHeaders:    true,
		},
	}
}
