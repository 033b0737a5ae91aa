package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration read from ~/.affnet/config.toml.
type Config struct {
	API        APIConfig        `toml:"api"`
	Database   DatabaseConfig   `toml:"database"`
	Log        LogConfig        `toml:"log"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Tracing    TracingConfig    `toml:"tracing"`
	Inactivity InactivityConfig `toml:"inactivity"`
}

type APIConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	// Dir holds affnet.db. Empty means $AFFNET_HOME or ~/.affnet.
	Dir string `toml:"dir"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

type TracingConfig struct {
	Enabled  bool `toml:"enabled"`
	MaxSpans int  `toml:"max_spans"`
}

type InactivityConfig struct {
	// Schedule starts the daily runner with serve.
	Schedule bool   `toml:"schedule"`
	RunAt    string `toml:"run_at"`   // HH:MM
	Timezone string `toml:"timezone"` // IANA name, also used to count days
	Workers  int    `toml:"workers"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		API:      APIConfig{Host: "127.0.0.1", Port: 8470},
		Database: DatabaseConfig{},
		Log:      LogConfig{Level: "info", Format: "json"},
		Metrics:  MetricsConfig{Enabled: true},
		Tracing:  TracingConfig{Enabled: true, MaxSpans: 1000},
		Inactivity: InactivityConfig{
			Schedule: true,
			RunAt:    "03:00",
			Timezone: "America/Sao_Paulo",
			Workers:  4,
		},
	}
}

// HomeDir returns $AFFNET_HOME or ~/.affnet.
func HomeDir() string {
	if env := os.Getenv("AFFNET_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".affnet")
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(HomeDir(), "config.toml")
}

// LoadConfig reads path over the defaults and applies AFFNET_* environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.Database.Dir == "" {
		cfg.Database.Dir = HomeDir()
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"AFFNET_HOST":                &c.API.Host,
		"AFFNET_DB_DIR":              &c.Database.Dir,
		"AFFNET_LOG_LEVEL":           &c.Log.Level,
		"AFFNET_LOG_FORMAT":          &c.Log.Format,
		"AFFNET_INACTIVITY_RUN_AT":   &c.Inactivity.RunAt,
		"AFFNET_INACTIVITY_TIMEZONE": &c.Inactivity.Timezone,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	// Railway/Render style PORT wins over AFFNET_PORT.
	for _, key := range []string{"AFFNET_PORT", "PORT"} {
		if v, ok := os.LookupEnv(key); ok {
			p, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s=%q: %w", key, v, err)
			}
			c.API.Port = p
		}
	}
	if v, ok := os.LookupEnv("AFFNET_METRICS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AFFNET_METRICS=%q: %w", v, err)
		}
		c.Metrics.Enabled = b
	}
	return nil
}

// Validate checks values the daemon cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.API.Port <= 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if _, err := time.Parse("15:04", c.Inactivity.RunAt); err != nil {
		errs = append(errs, fmt.Errorf("inactivity.run_at %q: want HH:MM", c.Inactivity.RunAt))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Inactivity.Workers < 1 {
		errs = append(errs, fmt.Errorf("inactivity.workers must be at least 1, got %d", c.Inactivity.Workers))
	}
	return errors.Join(errs...)
}

// Location resolves the inactivity timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Inactivity.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Inactivity.Timezone)
	if err != nil {
		return nil, fmt.Errorf("inactivity.timezone %q: %w", c.Inactivity.Timezone, err)
	}
	return loc, nil
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
