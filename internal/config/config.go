// Package config provides configuration loading for projmetad.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. All settings have working defaults so a bare `projmetad` start
// needs no config file at all.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete projmetad configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// IDPolicy controls what happens when a persisted project identifier
// fails to parse as a UUID.
type IDPolicy string

const (
	// IDPolicyFail surfaces a hard error from Project.ID().
	IDPolicyFail IDPolicy = "fail"
	// IDPolicyRegenerate silently replaces the corrupt identifier.
	IDPolicyRegenerate IDPolicy = "regenerate"
)

// StoreConfig holds per-project metadata store configuration.
type StoreConfig struct {
	// MetadataDir is the name of the project-local metadata directory.
	MetadataDir string `koanf:"metadata_dir"`

	// FlushDelay is the debounce window between the first dirty signal
	// of a burst and the metadata flush.
	FlushDelay Duration `koanf:"flush_delay"`

	// BackupGenerations is how many backup files are kept per metadata file.
	BackupGenerations int `koanf:"backup_generations"`

	// IDPolicy selects the recovery behavior for a corrupt stored project ID.
	IDPolicy IDPolicy `koanf:"id_policy"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	ExportInterval Duration `koanf:"export_interval"`
}

// NewDefault returns a Config with working defaults.
func NewDefault() *Config {
	return &Config{
		Store: StoreConfig{
			MetadataDir:       ".projmeta",
			FlushDelay:        Duration(100 * time.Millisecond),
			BackupGenerations: 1,
			IDPolicy:          IDPolicyFail,
		},
		Server: ServerConfig{
			Port:            9610,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "projmetad",
			ServiceVersion: "0.1.0",
			Insecure:       true,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Store.MetadataDir == "" {
		return errors.New("store metadata_dir cannot be empty")
	}
	if c.Store.FlushDelay.Duration() <= 0 {
		return errors.New("store flush_delay must be positive")
	}
	if c.Store.BackupGenerations < 0 {
		return fmt.Errorf("store backup_generations must be >= 0, got %d", c.Store.BackupGenerations)
	}
	switch c.Store.IDPolicy {
	case IDPolicyFail, IDPolicyRegenerate:
	default:
		return fmt.Errorf("store id_policy must be %q or %q, got %q", IDPolicyFail, IDPolicyRegenerate, c.Store.IDPolicy)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown_timeout must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry endpoint required when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry service_name required when telemetry is enabled")
		}
		if c.Telemetry.ExportInterval.Duration() <= 0 {
			return errors.New("telemetry export_interval must be positive")
		}
	}

	return nil
}
