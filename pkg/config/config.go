// Package config loads fixos settings from an optional YAML file and
// FIXOS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

type AgentMode string

const (
	// ModeHITL asks before every command.
	ModeHITL AgentMode = "hitl"
	// ModeAutonomous approves commands up to MaxAutoFixes.
	ModeAutonomous AgentMode = "autonomous"
)

const (
	DefaultSessionTimeout      = time.Hour
	DefaultCommandTimeout      = 2 * time.Minute
	DefaultMaxIterations       = 50
	DefaultMaxAttempts         = 3
	DefaultAutoAcceptThreshold = 0.90
	DefaultMaxAutoFixes        = 10
	DefaultLogLevel            = "warn"
	DefaultLogFormat           = "console"
)

type Config struct {
	// Provider selects the collaborator backend; empty falls back to LLM_PROVIDER, then claude.
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`

	AgentMode           AgentMode     `koanf:"agent_mode"`
	SessionTimeout      time.Duration `koanf:"session_timeout"`
	CommandTimeout      time.Duration `koanf:"command_timeout"`
	MaxIterations       int           `koanf:"max_iterations"`
	MaxAttempts         int           `koanf:"max_attempts"`
	AutoAcceptThreshold float64       `koanf:"auto_accept_threshold"`
	MaxAutoFixes        int           `koanf:"max_auto_fixes"`
	DryRun              bool          `koanf:"dry_run"`

	Modules    []string `koanf:"modules"`
	Kubeconfig string   `koanf:"kubeconfig"`
	Namespace  string   `koanf:"namespace"`

	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`
	MetricsFile string `koanf:"metrics_file"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.AgentMode == "" {
		cfg.AgentMode = ModeHITL
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AutoAcceptThreshold == 0 {
		cfg.AutoAcceptThreshold = DefaultAutoAcceptThreshold
	}
	if cfg.MaxAutoFixes == 0 {
		cfg.MaxAutoFixes = DefaultMaxAutoFixes
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
}

func (c *Config) Validate() error {
	switch c.AgentMode {
	case ModeHITL, ModeAutonomous:
	default:
		return fmt.Errorf("invalid agent_mode %q (must be hitl or autonomous)", c.AgentMode)
	}
	if c.SessionTimeout <= 0 {
		return errors.New("session_timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("command_timeout must be positive")
	}
	if c.CommandTimeout >= c.SessionTimeout {
		return fmt.Errorf("command_timeout (%s) must be shorter than session_timeout (%s)", c.CommandTimeout, c.SessionTimeout)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("invalid max_iterations: %d (must be >= 1)", c.MaxIterations)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("invalid max_attempts: %d (must be >= 1)", c.MaxAttempts)
	}
	if c.AutoAcceptThreshold < 0 || c.AutoAcceptThreshold > 1 {
		return fmt.Errorf("invalid auto_accept_threshold: %v (must be within [0,1])", c.AutoAcceptThreshold)
	}
	if c.MaxAutoFixes < 0 {
		return fmt.Errorf("invalid max_auto_fixes: %d", c.MaxAutoFixes)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format %q (must be console or json)", c.LogFormat)
	}
	return nil
}
