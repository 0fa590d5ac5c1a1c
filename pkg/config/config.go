// Package config provides configuration for kanjidb
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Update   UpdateConfig   `toml:"update" yaml:"update"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
}

// DatabaseConfig holds the local database and data source settings
type DatabaseConfig struct {
	Path    string `toml:"path" yaml:"path"`
	BaseURL string `toml:"base_url" yaml:"base_url"`
	Lang    string `toml:"lang" yaml:"lang"`
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port int `toml:"port" yaml:"port"`
}

// UpdateConfig holds download settings
type UpdateConfig struct {
	// Schedule is a cron spec for periodic updates in serve mode; empty
	// disables them.
	Schedule    string        `toml:"schedule" yaml:"schedule"`
	HTTPTimeout time.Duration `toml:"http_timeout" yaml:"http_timeout"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:    "kanjidb.db",
			BaseURL: "https://d907hooix29fi.cloudfront.net",
			Lang:    "en",
		},
		Server: ServerConfig{Port: 8080},
		Update: UpdateConfig{
			Schedule:    "@daily",
			HTTPTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from an optional .env file, the file named by
// KANJIDB_CONFIG if set, and environment variables, in that order of
// increasing precedence.
func Load() (*Config, error) {
	// Try to load .env file (optional)
	godotenv.Load()

	cfg := Default()
	if path := os.Getenv("KANJIDB_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// LoadFile merges a TOML or YAML file into c, chosen by extension.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("KANJIDB_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("KANJIDB_BASE_URL"); v != "" {
		c.Database.BaseURL = v
	}
	if v := os.Getenv("KANJIDB_LANG"); v != "" {
		c.Database.Lang = v
	}
	if v := os.Getenv("KANJIDB_HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid KANJIDB_HTTP_TIMEOUT: %w", err)
		}
		c.Update.HTTPTimeout = d
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("UPDATE_SCHEDULE"); v != "" {
		c.Update.Schedule = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var langPattern = regexp.MustCompile(`^[a-z]{2}$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Database.Path == "" {
		errs = append(errs, ValidationError{Field: "database.path", Message: "is required"})
	}
	if c.Database.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "database.base_url", Message: "is required"})
	} else if u, err := url.Parse(c.Database.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{Field: "database.base_url", Message: "must be an http(s) URL"})
	}
	if !langPattern.MatchString(c.Database.Lang) {
		errs = append(errs, ValidationError{Field: "database.lang", Message: fmt.Sprintf("invalid language code %q", c.Database.Lang)})
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: fmt.Sprintf("out of range: %d", c.Server.Port)})
	}
	if c.Update.Schedule != "" {
		if _, err := cron.ParseStandard(c.Update.Schedule); err != nil {
			errs = append(errs, ValidationError{Field: "update.schedule", Message: err.Error()})
		}
	}
	if c.Update.HTTPTimeout < 0 {
		errs = append(errs, ValidationError{Field: "update.http_timeout", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
