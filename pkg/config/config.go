// Package config provides configuration management for facegate.
// It loads the agent configuration from a YAML file; a missing or malformed
// file is a startup error, not something an attempt can recover from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SystemConfigPath is where the packaged configuration lives.
	SystemConfigPath = "/etc/facegate/facegate.yaml"
	// SystemEnvPath is an optional env file read before the configuration.
	SystemEnvPath = "/etc/facegate/facegate.env"
	// EnvConfigPath overrides the configuration location.
	EnvConfigPath = "FACEGATE_CONFIG"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all facegate configuration.
type Config struct {
	Core        CoreConfig        `yaml:"core"`
	Video       VideoConfig       `yaml:"video"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CoreConfig holds the gating and messaging flags.
type CoreConfig struct {
	Disabled        bool `yaml:"disabled"`
	IgnoreSSH       bool `yaml:"ignore_ssh"`
	IgnoreClosedLid bool `yaml:"ignore_closed_lid"`
	DetectionNotice bool `yaml:"detection_notice"`
	SuppressUnknown bool `yaml:"suppress_unknown"`
	SuppressTimeout bool `yaml:"suppress_timeout"`
	NoConfirmation  bool `yaml:"no_confirmation"`
	UseCNN          bool `yaml:"use_cnn"`
}

// VideoConfig holds capture and matching parameters.
type VideoConfig struct {
	// Certainty is the maximum descriptor distance accepted as a match.
	// Smaller is stricter.
	Certainty      float64 `yaml:"certainty"`
	Timeout        int     `yaml:"timeout"`
	Device         int     `yaml:"device"`
	MaxHeight      int     `yaml:"max_height"`
	TickIntervalMs int     `yaml:"tick_interval_ms"`
}

// RecognitionConfig holds recognizer model settings.
type RecognitionConfig struct {
	ModelPath string `yaml:"model_path"`
}

// StorageConfig holds template storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			IgnoreSSH:       true,
			IgnoreClosedLid: true,
		},
		Video: VideoConfig{
			Certainty:      0.4,
			Timeout:        5,
			Device:         0,
			MaxHeight:      320,
			TickIntervalMs: 10,
		},
		Recognition: RecognitionConfig{
			ModelPath: "/usr/share/facegate/models",
		},
		Storage: StorageConfig{
			DataDir:           "/var/lib/facegate",
			EncryptionEnabled: false,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "/var/log/facegate.log",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	config.ExpandPaths()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ResolvePath returns the configuration path to use: $FACEGATE_CONFIG if set,
// the system path otherwise.
func ResolvePath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return ExpandPath(p)
	}
	return SystemConfigPath
}

// LoadDefault loads the configuration from ResolvePath.
func LoadDefault() (*Config, error) {
	return Load(ResolvePath())
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Video.Certainty <= 0 {
		return fmt.Errorf("%w: certainty must be positive, got %f", ErrInvalid, c.Video.Certainty)
	}
	if c.Video.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %d", ErrInvalid, c.Video.Timeout)
	}
	if c.Video.Device < 0 {
		return fmt.Errorf("%w: device index must not be negative, got %d", ErrInvalid, c.Video.Device)
	}
	if c.Video.MaxHeight <= 0 {
		return fmt.Errorf("%w: max_height must be positive, got %d", ErrInvalid, c.Video.MaxHeight)
	}
	if c.Video.TickIntervalMs < 0 {
		return fmt.Errorf("%w: tick_interval_ms must not be negative, got %d", ErrInvalid, c.Video.TickIntervalMs)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug, info, warn, or error)", ErrInvalid, c.Logging.Level)
	}

	return nil
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// TemplateDir returns the directory holding per-user template files.
func (c *Config) TemplateDir() string {
	return filepath.Join(c.Storage.DataDir, "models")
}
