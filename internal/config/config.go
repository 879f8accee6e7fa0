// Package config loads snapferry settings from defaults, a YAML file,
// environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/blackwell-systems/snapferry/internal/retention"
)

// Dir returns the snapferry config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/snapferry if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "snapferry"), nil
}

// DefaultPath returns the config file used when --config is not given.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Config is the complete snapferry configuration.
type Config struct {
	Source      string          `koanf:"source"`
	Destination string          `koanf:"destination"`
	Btrfs       BtrfsConfig     `koanf:"btrfs"`
	Retention   RetentionConfig `koanf:"retention"`
	Watch       WatchConfig     `koanf:"watch"`
	Logging     LoggingConfig   `koanf:"logging"`
	State       StateConfig     `koanf:"state"`
}

type BtrfsConfig struct {
	Binary string `koanf:"binary"`
	DryRun bool   `koanf:"dry_run"`
}

type RetentionConfig struct {
	MaxAge        time.Duration `koanf:"max_age"`
	KeepLast      int           `koanf:"keep_last"`
	ProtectShared bool          `koanf:"protect_shared"`
}

// Policy converts the section into a retention policy.
func (r RetentionConfig) Policy() retention.Policy {
	return retention.Policy{
		MaxAge:        r.MaxAge,
		KeepLast:      r.KeepLast,
		ProtectShared: r.ProtectShared,
	}
}

type WatchConfig struct {
	Schedule string        `koanf:"schedule"` // standard 5-field cron spec, empty disables
	Debounce time.Duration `koanf:"debounce"`
	Cleanup  bool          `koanf:"cleanup"` // prune the source after each backup
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // "debug", "info", "warn", "error"
	Format string `koanf:"format"` // "text" or "json"
}

type StateConfig struct {
	Database    string `koanf:"database"`     // empty means ~/.snapferry/snapferry.db
	MetricsFile string `koanf:"metrics_file"` // empty disables the textfile export
}

// Default returns the built-in configuration.
func Default() *Config {
	policy := retention.DefaultPolicy()
	return &Config{
		Btrfs: BtrfsConfig{Binary: "btrfs"},
		Retention: RetentionConfig{
			MaxAge:        policy.MaxAge,
			KeepLast:      policy.KeepLast,
			ProtectShared: policy.ProtectShared,
		},
		Watch:   WatchConfig{Debounce: 5 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// defaultMap flattens Default into koanf keys.
func defaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"source":                   d.Source,
		"destination":              d.Destination,
		"btrfs.binary":             d.Btrfs.Binary,
		"btrfs.dry_run":            d.Btrfs.DryRun,
		"retention.max_age":        d.Retention.MaxAge.String(),
		"retention.keep_last":      d.Retention.KeepLast,
		"retention.protect_shared": d.Retention.ProtectShared,
		"watch.schedule":           d.Watch.Schedule,
		"watch.debounce":           d.Watch.Debounce.String(),
		"watch.cleanup":            d.Watch.Cleanup,
		"logging.level":            d.Logging.Level,
		"logging.format":           d.Logging.Format,
		"state.database":           d.State.Database,
		"state.metrics_file":       d.State.MetricsFile,
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs error
	if c.Source == "" {
		errs = multierr.Append(errs, errors.New("source is required"))
	}
	if c.Destination == "" {
		errs = multierr.Append(errs, errors.New("destination is required"))
	}
	if c.Source != "" && filepath.Clean(c.Source) == filepath.Clean(c.Destination) {
		errs = multierr.Append(errs, fmt.Errorf("source and destination must differ: %s", c.Source))
	}
	if c.Btrfs.Binary == "" {
		errs = multierr.Append(errs, errors.New("btrfs.binary must not be empty"))
	}
	if c.Retention.MaxAge < 0 {
		errs = multierr.Append(errs, fmt.Errorf("retention.max_age must not be negative: %s", c.Retention.MaxAge))
	}
	if c.Retention.KeepLast < 0 {
		errs = multierr.Append(errs, fmt.Errorf("retention.keep_last must not be negative: %d", c.Retention.KeepLast))
	}
	if c.Watch.Debounce < 0 {
		errs = multierr.Append(errs, fmt.Errorf("watch.debounce must not be negative: %s", c.Watch.Debounce))
	}
	if c.Watch.Schedule != "" {
		if _, err := cron.ParseStandard(c.Watch.Schedule); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid watch.schedule %q: %w", c.Watch.Schedule, err))
		}
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("logging.format must be text or json: %q", c.Logging.Format))
	}
	return errs
}

// document is the on-disk layout. Durations are written as strings.
type document struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Btrfs       struct {
		Binary string `yaml:"binary"`
		DryRun bool   `yaml:"dry_run"`
	} `yaml:"btrfs"`
	Retention struct {
		MaxAge        string `yaml:"max_age"`
		KeepLast      int    `yaml:"keep_last"`
		ProtectShared bool   `yaml:"protect_shared"`
	} `yaml:"retention"`
	Watch struct {
		Schedule string `yaml:"schedule"`
		Debounce string `yaml:"debounce"`
		Cleanup  bool   `yaml:"cleanup"`
	} `yaml:"watch"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	State struct {
		Database    string `yaml:"database"`
		MetricsFile string `yaml:"metrics_file"`
	} `yaml:"state"`
}

// Marshal renders the configuration as YAML that Load reads back.
func (c *Config) Marshal() ([]byte, error) {
	var doc document
	doc.Source = c.Source
	doc.Destination = c.Destination
	doc.Btrfs.Binary = c.Btrfs.Binary
	doc.Btrfs.DryRun = c.Btrfs.DryRun
	doc.Retention.MaxAge = c.Retention.MaxAge.String()
	doc.Retention.KeepLast = c.Retention.KeepLast
	doc.Retention.ProtectShared = c.Retention.ProtectShared
	doc.Watch.Schedule = c.Watch.Schedule
	doc.Watch.Debounce = c.Watch.Debounce.String()
	doc.Watch.Cleanup = c.Watch.Cleanup
	doc.Logging.Level = c.Logging.Level
	doc.Logging.Format = c.Logging.Format
	doc.State.Database = c.State.Database
	doc.State.MetricsFile = c.State.MetricsFile

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Write saves cfg to path. An existing file is only replaced when force is
// set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
