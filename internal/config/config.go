// Package config loads the jobloop YAML configuration, applies defaults and
// environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/aceteam-ai/jobloop/internal/logging"
)

// ErrInvalid wraps validation failures.
var ErrInvalid = errors.New("config: invalid")

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config is the whole configuration file.
type Config struct {
	Log      logging.Config `yaml:"log"`
	Runner   RunnerConfig   `yaml:"runner"`
	Store    StoreConfig    `yaml:"store"`
	Control  ControlConfig  `yaml:"control"`
	Usage    UsageConfig    `yaml:"usage"`
	Handlers HandlersConfig `yaml:"handlers"`
}

type RunnerConfig struct {
	TickRate time.Duration `yaml:"tick_rate" validate:"gt=0"`
}

type StoreConfig struct {
	Driver     string        `yaml:"driver" validate:"oneof=sqlite redis memory"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=1"`
	RetryDelay time.Duration `yaml:"retry_delay" validate:"gt=0"`
	SQLite     SQLiteConfig  `yaml:"sqlite"`
	Redis      RedisConfig   `yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	// ClaimIdle is how long an unacknowledged job may sit with a dead
	// consumer before it is taken over.
	ClaimIdle time.Duration `yaml:"claim_idle" validate:"gte=0"`
}

// ControlConfig configures the HTTP control API.
type ControlConfig struct {
	Addr        string  `yaml:"addr" validate:"required"`
	SubmitRPS   float64 `yaml:"submit_rps" validate:"gt=0"`
	SubmitBurst int     `yaml:"submit_burst" validate:"gte=1"`

	// TrustProxyHeaders rate-limits by X-Forwarded-For instead of the peer
	// address. Only for deployments behind a reverse proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// UsageConfig configures the local outcome history.
type UsageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type HandlersConfig struct {
	Shell ShellConfig `yaml:"shell"`
}

type ShellConfig struct {
	Enabled         bool          `yaml:"enabled"`
	AllowedCommands []string      `yaml:"allowed_commands"`
	Timeout         time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Dir returns the jobloop state directory, $HOME/.jobloop.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobloop"
	}
	return filepath.Join(home, ".jobloop")
}

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := Dir()
	return Config{
		Log: logging.Config{Level: "info", Format: "console"},
		Runner: RunnerConfig{
			TickRate: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:     DriverSQLite,
			MaxRetries: 3,
			RetryDelay: 30 * time.Second,
			SQLite:     SQLiteConfig{Path: filepath.Join(dir, "jobs.db")},
			Redis: RedisConfig{
				URL:       "redis://localhost:6379",
				Stream:    "jobs:v1:default",
				Group:     "jobloop-workers",
				ClaimIdle: 15 * time.Minute,
			},
		},
		Control: ControlConfig{
			Addr:        "127.0.0.1:7070",
			SubmitRPS:   10,
			SubmitBurst: 20,
		},
		Usage: UsageConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "usage.db"),
		},
		Handlers: HandlersConfig{
			Shell: ShellConfig{Timeout: 5 * time.Minute},
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. An empty path means DefaultPath, which may be absent; an
// explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) applyEnv() {
	c.Store.Driver = getEnvOrDefault("JOBLOOP_STORE", c.Store.Driver)
	c.Store.SQLite.Path = getEnvOrDefault("JOBLOOP_SQLITE_PATH", c.Store.SQLite.Path)
	c.Store.Redis.URL = getEnvOrDefault("REDIS_URL", c.Store.Redis.URL)
	c.Store.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Store.Redis.Password)
	c.Control.Addr = getEnvOrDefault("JOBLOOP_API_ADDR", c.Control.Addr)
	c.Log.Level = getEnvOrDefault("JOBLOOP_LOG_LEVEL", c.Log.Level)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and driver-specific requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("%w: store.sqlite.path is required for the sqlite driver", ErrInvalid)
		}
	case DriverRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("%w: store.redis.url is required for the redis driver", ErrInvalid)
		}
	}
	if c.Usage.Enabled && c.Usage.Path == "" {
		return fmt.Errorf("%w: usage.path is required when usage is enabled", ErrInvalid)
	}
	if c.Handlers.Shell.Enabled && len(c.Handlers.Shell.AllowedCommands) == 0 {
		return fmt.Errorf("%w: handlers.shell.allowed_commands must not be empty", ErrInvalid)
	}
	return nil
}
