package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "python3", cfg.Runner.Python)
	assert.Equal(t, 60*time.Second, cfg.Runner.StartTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Runner.QuitTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Runner.GracePeriod.Duration)
	assert.True(t, cfg.Watch.Enabled)
	assert.Contains(t, cfg.Watch.Ignore, "__pycache__")
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
scratch_root = "/var/tmp/pelicide"

[runner]
python = "/opt/python/bin/python3"
start_timeout = "90s"
grace_period = "250ms"
max_workers = 4

[watch]
enabled = false
ignore = ["*.swp"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.Level())
	assert.Equal(t, "/var/tmp/pelicide", cfg.ScratchRoot)
	assert.Equal(t, "/opt/python/bin/python3", cfg.Runner.Python)
	assert.Equal(t, 90*time.Second, cfg.Runner.StartTimeout.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Runner.GracePeriod.Duration)
	assert.Equal(t, 4, cfg.Runner.MaxWorkers)
	// Unset keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Runner.QuitTimeout.Duration)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, []string{"*.swp"}, cfg.Watch.Ignore)
}

func TestLoad_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "log_level = \n"},
		{"unknown key", "log_levle = \"debug\"\n"},
		{"bad duration", "[runner]\nstart_timeout = \"soon\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Contains(t, pe.Error(), "config.toml")
		})
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	path := writeConfig(t, `
log_level = "loud"

[runner]
quit_timeout = "0s"
max_workers = -1
`)

	_, err := Load(path)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "runner.quit_timeout")
	assert.Contains(t, err.Error(), "runner.max_workers")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"

[runner]
start_timeout = "90s"
`)
	t.Setenv("PELICIDE_LOG_LEVEL", "warn")
	t.Setenv("PELICIDE_RUNNER_START_TIMEOUT", "2m")
	t.Setenv("PELICIDE_RUNNER_SCRIPT", "/srv/pelican-runner.py")
	t.Setenv("PELICIDE_RUNNER_MAX_WORKERS", " 2 ")
	t.Setenv("PELICIDE_WATCH_ENABLED", "off")
	t.Setenv("PELICIDE_WATCH_IGNORE", "output, cache ,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.Runner.StartTimeout.Duration)
	assert.Equal(t, "/srv/pelican-runner.py", cfg.Runner.Script)
	assert.Equal(t, 2, cfg.Runner.MaxWorkers)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, []string{"output", "cache"}, cfg.Watch.Ignore)
}

func TestLoad_BadEnv(t *testing.T) {
	for _, name := range []string{"PELICIDE_WATCH_DEBOUNCE", "PELICIDE_RUNNER_MAX_WORKERS"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "fast")

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), name)
		})
	}
}

func TestEnvLoader_Bool(t *testing.T) {
	tests := []struct {
		value   string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"1", true, false},
		{"yes", true, false},
		{"ON", true, false},
		{"false", false, false},
		{"0", false, false},
		{"no", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			l := NewEnvLoader(EnvPrefix)
			l.lookup = func(name string) (string, bool) {
				if name == "PELICIDE_WATCH_ENABLED" {
					return tt.value, true
				}
				return "", false
			}

			cfg := Default()
			cfg.Watch.Enabled = !tt.want
			err := l.Apply(&cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Watch.Enabled)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "pelicide", "config.toml"), DefaultPath())
}

func TestScriptPath(t *testing.T) {
	cfg := Default()

	path, err := cfg.ScriptPath()
	require.NoError(t, err)
	assert.Equal(t, "pelican-runner.py", filepath.Base(path))

	cfg.Runner.Script = "/srv/runner.py"
	path, err = cfg.ScriptPath()
	require.NoError(t, err)
	assert.Equal(t, "/srv/runner.py", path)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("90")))
}
