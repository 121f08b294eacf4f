package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the application configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// ScratchRoot is where per-site scratch directories are created.
	// Empty means the system temp directory.
	ScratchRoot string `toml:"scratch_root"`

	Runner RunnerConfig `toml:"runner"`
	Watch  WatchConfig  `toml:"watch"`
}

// RunnerConfig controls site workers.
type RunnerConfig struct {
	// Python is the fallback interpreter for projects without a virtualenv.
	Python string `toml:"python"`

	// Script is the worker entry point. Empty means pelican-runner.py next
	// to the executable.
	Script string `toml:"script"`

	StartTimeout Duration `toml:"start_timeout"`
	QuitTimeout  Duration `toml:"quit_timeout"`
	GracePeriod  Duration `toml:"grace_period"`

	// MaxWorkers caps concurrently running worker processes. 0 is unlimited.
	MaxWorkers int `toml:"max_workers"`
}

// WatchConfig controls rebuild-on-change.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"`

	// Ignore holds base-name glob patterns that are never watched.
	Ignore []string `toml:"ignore"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Runner: RunnerConfig{
			Python:       "python3",
			StartTimeout: Duration{60 * time.Second},
			QuitTimeout:  Duration{5 * time.Second},
			GracePeriod:  Duration{5 * time.Second},
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration{300 * time.Millisecond},
			Ignore:   []string{".*", "__pycache__", "*.pyc", "*~", "output"},
		},
	}
}

// DefaultPath returns the user configuration file path,
// $XDG_CONFIG_HOME/pelicide/config.toml or ~/.config/pelicide/config.toml.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pelicide", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pelicide", "config.toml")
}

// Load builds the configuration from defaults, the TOML file at path and
// PELICIDE_* environment variables, in that order. A missing file is not
// an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := NewEnvLoader(EnvPrefix).Apply(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile decodes the file at path over cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		pe := &ParseError{Path: path, Message: err.Error(), Err: err}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			pe.Line, pe.Column = decErr.Position()
		}
		return pe
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	for name, d := range map[string]Duration{
		"runner.start_timeout": c.Runner.StartTimeout,
		"runner.quit_timeout":  c.Runner.QuitTimeout,
		"runner.grace_period":  c.Runner.GracePeriod,
	} {
		if d.Duration <= 0 {
			errs = append(errs, &ValidationError{Key: name, Message: "must be positive"})
		}
	}
	if c.Runner.MaxWorkers < 0 {
		errs = append(errs, &ValidationError{Key: "runner.max_workers", Message: "must not be negative"})
	}
	if c.Watch.Debounce.Duration < 0 {
		errs = append(errs, &ValidationError{Key: "watch.debounce", Message: "must not be negative"})
	}
	for _, pattern := range c.Watch.Ignore {
		if _, err := filepath.Match(pattern, ""); err != nil {
			errs = append(errs, &ValidationError{Key: "watch.ignore", Message: fmt.Sprintf("bad pattern %q", pattern)})
		}
	}
	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// ScriptPath returns the worker entry point, defaulting to
// pelican-runner.py in the executable's directory.
func (c *Config) ScriptPath() (string, error) {
	if c.Runner.Script != "" {
		return filepath.Abs(c.Runner.Script)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "pelican-runner.py"), nil
}

// ParseLevel parses a log level name.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, &ValidationError{Key: "log_level", Message: fmt.Sprintf("unknown level %q", s)}
	}
	return level, nil
}

// Duration is a time.Duration written as a string such as "5s" or "250ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
