// Package config loads steer's layered TOML configuration: built-in
// defaults, overridden by ~/.steer/config.toml, overridden by the
// project's .steer/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration. Relative paths are resolved
// against the project directory.
type PathsConfig struct {
	WorkflowDir string `toml:"workflow_dir"`
	RunsDir     string `toml:"runs_dir"`
	LogsDir     string `toml:"logs_dir"`
	ClaimsDB    string `toml:"claims_db"`
}

// ModelConfig holds the model CLI invocation settings.
type ModelConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Name    string   `toml:"name"` // Passed through as --model when set
}

// PoolConfig bounds how many runs may execute concurrently across
// processes sharing the claims database.
type PoolConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

// EngineConfig holds execution tuning.
type EngineConfig struct {
	MaxWhileIterations int           `toml:"max_while_iterations"`
	RetryAttempts      int           `toml:"retry_attempts"`
	RetryDelay         time.Duration `toml:"retry_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for steer.
type Config struct {
	Version string        `toml:"version"`
	Paths   PathsConfig   `toml:"paths"`
	Model   ModelConfig   `toml:"model"`
	Pool    PoolConfig    `toml:"pool"`
	Engine  EngineConfig  `toml:"engine"`
	Logging LoggingConfig `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			WorkflowDir: ".steer/workflows",
			RunsDir:     ".steer/runs",
			LogsDir:     ".steer/logs",
			ClaimsDB:    "", // Resolved under ~/.steer when empty
		},
		Model: ModelConfig{
			Command: "claude",
			Args:    []string{"-p"},
		},
		Pool: PoolConfig{
			MaxConcurrent: 4,
		},
		Engine: EngineConfig{
			MaxWhileIterations: 25,
			RetryAttempts:      3,
			RetryDelay:         2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			File:   "",
		},
	}
}

// Load loads configuration from file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Use defaults if no config file
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard locations.
// Applies in order: defaults -> ~/.steer/config.toml -> <dir>/.steer/config.toml.
// Later configs override earlier ones.
func LoadFromDir(dir string) (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(home, ".steer", "config.toml")
		if data, err := os.ReadFile(globalConfig); err == nil {
			if _, err := toml.Decode(string(data), cfg); err != nil {
				return nil, fmt.Errorf("parsing global config: %w", err)
			}
		}
	}

	projectConfig := filepath.Join(dir, ".steer", "config.toml")
	if data, err := os.ReadFile(projectConfig); err == nil {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing project config: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config version is required")
	}
	if c.Paths.WorkflowDir == "" {
		return fmt.Errorf("workflow_dir is required")
	}
	if c.Paths.RunsDir == "" {
		return fmt.Errorf("runs_dir is required")
	}
	if c.Model.Command == "" {
		return fmt.Errorf("model command is required")
	}
	if c.Pool.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.Engine.MaxWhileIterations <= 0 {
		return fmt.Errorf("max_while_iterations must be positive")
	}
	if c.Engine.RetryAttempts <= 0 {
		return fmt.Errorf("retry_attempts must be positive")
	}
	return nil
}

// WorkflowDir returns the absolute workflow directory path.
func (c *Config) WorkflowDir(baseDir string) string {
	return c.absolute(c.Paths.WorkflowDir, baseDir)
}

// RunsDir returns the absolute runs directory path.
func (c *Config) RunsDir(baseDir string) string {
	return c.absolute(c.Paths.RunsDir, baseDir)
}

// LogsDir returns the absolute logs directory path.
func (c *Config) LogsDir(baseDir string) string {
	return c.absolute(c.Paths.LogsDir, baseDir)
}

// ClaimsDB returns the absolute claims database path. The default
// lives under the user's home so every project shares one pool.
func (c *Config) ClaimsDB(baseDir string) (string, error) {
	if c.Paths.ClaimsDB != "" {
		return c.absolute(c.Paths.ClaimsDB, baseDir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving claims database path: %w", err)
	}
	return filepath.Join(home, ".steer", "claims.db"), nil
}

// LogFile returns the absolute log file path, or "" when file logging
// is disabled.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	if filepath.IsAbs(c.Logging.File) {
		return c.Logging.File
	}
	return filepath.Join(c.LogsDir(baseDir), c.Logging.File)
}

func (c *Config) absolute(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
