package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix.
const DefaultEnvPrefix = "SNAPFERRY_"

// Loader merges configuration sources. Later sources win:
// defaults, config file, environment, overrides.
type Loader struct {
	k         *koanf.Koanf
	envPrefix string
	filePath  string
	explicit  bool
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithConfigFile reads path instead of the default file. The file must exist.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		if path != "" {
			l.filePath = path
			l.explicit = true
		}
	}
}

// WithOverrides sets values that take precedence over every other source,
// keyed like "retention.max_age".
func WithOverrides(values map[string]any) Option {
	return func(l *Loader) {
		for k, v := range values {
			l.overrides[k] = v
		}
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		k:         koanf.New("."),
		envPrefix: DefaultEnvPrefix,
		overrides: make(map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the config file the loader reads, if any.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load merges all sources and returns the configuration. It does not
// validate it.
func (l *Loader) Load() (*Config, error) {
	if err := l.setAll(defaultMap()); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadFile(); err != nil {
		return nil, err
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := l.setAll(l.overrides); err != nil {
		return nil, fmt.Errorf("failed to apply overrides: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) loadFile() error {
	if l.filePath == "" {
		path, err := DefaultPath()
		if err != nil {
			return nil
		}
		l.filePath = path
	}

	if _, err := os.Stat(l.filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !l.explicit {
			l.filePath = ""
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := l.k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", l.filePath, err)
	}
	return nil
}

// loadEnv maps SNAPFERRY_RETENTION__MAX_AGE to retention.max_age.
func (l *Loader) loadEnv() error {
	transform := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}
	return l.k.Load(env.Provider(l.envPrefix, ".", transform), nil)
}

func (l *Loader) setAll(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := l.k.Set(k, values[k]); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}
