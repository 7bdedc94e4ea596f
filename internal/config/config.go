package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"cald/internal/atomicfile"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Both cald and the calendar client read the same file.

const (
	DefaultDatabase     = "./cald_db.csv"
	DefaultPipe         = "/tmp/cald_pipe"
	DefaultLink         = "/tmp/calendar_link"
	DefaultErrorLog     = "/tmp/cald_err.log"
	DefaultPollInterval = 250 * time.Millisecond
	DefaultDrainTimeout = 2 * time.Second
	DefaultBackupKeep   = 7
)

// BackupConfig controls periodic snapshots of the backing file.
type BackupConfig struct {
	// Schedule is a cron-style schedule string (e.g. "0 3 * * *").
	// Empty disables backups.
	Schedule string `yaml:"schedule"`
	// Dir receives backup copies. Defaults to "<database dir>/backups".
	Dir string `yaml:"dir"`
	// Keep is how many of the newest copies survive pruning.
	Keep int `yaml:"keep"`
}

// StatusConfig controls the read-only status HTTP server.
type StatusConfig struct {
	// Listen is the HTTP listen address, e.g. "127.0.0.1:9321". Empty
	// disables the server.
	Listen string `yaml:"listen"`
}

// ExportConfig controls iCalendar export and import.
type ExportConfig struct {
	// Timezone is the IANA zone used to resolve all-day dates (e.g. "Asia/Seoul").
	Timezone  string `yaml:"timezone"`
	ProductID string `yaml:"product_id"`
}

// Config is the top-level application configuration.
type Config struct {
	// Database is the backing file. Relative paths are resolved against the
	// daemon's working directory before the link file is published.
	Database string `yaml:"database"`

	// Pipe is the named pipe carrying ADD/DEL/UPD requests.
	Pipe string `yaml:"pipe"`

	// Link is the file advertising the absolute database path to clients.
	Link string `yaml:"link"`

	// ErrorLog is where the daemon writes its diagnostics.
	ErrorLog string `yaml:"error_log"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// PollInterval bounds how long a pipe read waits before re-checking for
	// shutdown.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DrainTimeout bounds how long shutdown waits for a partially received
	// message to complete.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	Backup BackupConfig `yaml:"backup"`
	Status StatusConfig `yaml:"status"`
	Export ExportConfig `yaml:"export"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Database:     DefaultDatabase,
		Pipe:         DefaultPipe,
		Link:         DefaultLink,
		ErrorLog:     DefaultErrorLog,
		LogLevel:     "info",
		LogFormat:    "text",
		PollInterval: DefaultPollInterval,
		DrainTimeout: DefaultDrainTimeout,
		Backup:       BackupConfig{Keep: DefaultBackupKeep},
		Export:       ExportConfig{Timezone: "Local", ProductID: "-//cald//calendar//EN"},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.Pipe == "" {
		c.Pipe = DefaultPipe
	}
	if c.Link == "" {
		c.Link = DefaultLink
	}
	if c.ErrorLog == "" {
		c.ErrorLog = DefaultErrorLog
	}
	switch c.LogLevel {
	case "debug", "info", "error":
		// ok
	default:
		c.LogLevel = "info"
	}
	if c.LogFormat != "json" {
		c.LogFormat = "text"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.Backup.Keep <= 0 {
		c.Backup.Keep = DefaultBackupKeep
	}
	if c.Export.Timezone == "" {
		c.Export.Timezone = "Local"
	}
	if c.Export.ProductID == "" {
		c.Export.ProductID = "-//cald//calendar//EN"
	}
}

// BackupDir returns the effective backup directory.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(filepath.Dir(c.Database), "backups")
}

// Location resolves Export.Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Export.Timezone == "" || c.Export.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Export.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If path is empty, the defaults are returned and nothing is written.
//   - If the file does not exist:
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically,
// with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.Write(afero.NewOsFs(), path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
