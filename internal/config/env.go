package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "PELICIDE_"

// envSetter applies one environment value to a Config.
type envSetter func(c *Config, value string) error

// EnvLoader overlays environment variables onto a Config.
type EnvLoader struct {
	prefix  string
	lookup  func(string) (string, bool)
	mapping map[string]envSetter
}

// NewEnvLoader creates a loader for variables starting with prefix.
// The prefix should include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		lookup:  os.LookupEnv,
		mapping: defaultEnvMapping(),
	}
}

// defaultEnvMapping maps variable names, without prefix, to setters.
func defaultEnvMapping() map[string]envSetter {
	return map[string]envSetter{
		"LOG_LEVEL":    setString(func(c *Config) *string { return &c.LogLevel }),
		"SCRATCH_ROOT": setString(func(c *Config) *string { return &c.ScratchRoot }),

		"RUNNER_PYTHON":        setString(func(c *Config) *string { return &c.Runner.Python }),
		"RUNNER_SCRIPT":        setString(func(c *Config) *string { return &c.Runner.Script }),
		"RUNNER_START_TIMEOUT": setDuration(func(c *Config) *Duration { return &c.Runner.StartTimeout }),
		"RUNNER_QUIT_TIMEOUT":  setDuration(func(c *Config) *Duration { return &c.Runner.QuitTimeout }),
		"RUNNER_GRACE_PERIOD":  setDuration(func(c *Config) *Duration { return &c.Runner.GracePeriod }),
		"RUNNER_MAX_WORKERS":   setInt(func(c *Config) *int { return &c.Runner.MaxWorkers }),

		"WATCH_ENABLED":  setBool(func(c *Config) *bool { return &c.Watch.Enabled }),
		"WATCH_DEBOUNCE": setDuration(func(c *Config) *Duration { return &c.Watch.Debounce }),
		"WATCH_IGNORE": func(c *Config, value string) error {
			c.Watch.Ignore = splitList(value)
			return nil
		},
	}
}

// Apply sets every mapped variable that is present. Empty values count as set.
func (l *EnvLoader) Apply(c *Config) error {
	for name, set := range l.mapping {
		env := l.prefix + name
		value, ok := l.lookup(env)
		if !ok {
			continue
		}
		if err := set(c, value); err != nil {
			return fmt.Errorf("environment %s: %w", env, err)
		}
	}
	return nil
}

func setString(field func(*Config) *string) envSetter {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func setDuration(field func(*Config) *Duration) envSetter {
	return func(c *Config, value string) error {
		return field(c).UnmarshalText([]byte(value))
	}
}

func setInt(field func(*Config) *int) envSetter {
	return func(c *Config, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

// setBool also accepts yes/no and on/off.
func setBool(field func(*Config) *bool) envSetter {
	return func(c *Config, value string) error {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "yes", "on":
			*field(c) = true
			return nil
		case "no", "off":
			*field(c) = false
			return nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
