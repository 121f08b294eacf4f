package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

// newSite lays out a project directory with a pelicanconf and a venv.
func newSite(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "pelicanconf.py"), "SITENAME = 'Test'\n")
	writeFile(t, filepath.Join(home, ".venv", "bin", "python"), "#!/bin/sh\n")
	return home
}

func isolatedResolver(opts ...Option) *Resolver {
	return NewResolver(append([]Option{WithGlobalConfigDir("")}, opts...)...)
}

func TestResolve_Directory(t *testing.T) {
	home := newSite(t)

	p, err := isolatedResolver().Resolve(home)
	require.NoError(t, err)

	assert.Equal(t, home, p.Home)
	assert.Equal(t, filepath.Join(home, ".venv", "bin", "python"), p.Interpreter)
	assert.Equal(t, filepath.Join(home, "pelicanconf.py"), p.PelicanConf)
	assert.Empty(t, p.File)
	assert.Equal(t, filepath.Base(home), p.Name())
}

func TestResolve_VenvPreference(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "pelicanconf.py"), "")
	writeFile(t, filepath.Join(home, "venv", "bin", "python"), "")

	p, err := isolatedResolver().Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "venv", "bin", "python"), p.Interpreter)

	// .venv wins over venv.
	writeFile(t, filepath.Join(home, ".venv", "bin", "python"), "")
	p, err = isolatedResolver().Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".venv", "bin", "python"), p.Interpreter)
}

func TestResolve_PelicanConfLocator(t *testing.T) {
	home := newSite(t)
	publish := writeFile(t, filepath.Join(home, "publishconf.py"), "")

	p, err := isolatedResolver().Resolve(publish)
	require.NoError(t, err)

	assert.Equal(t, home, p.Home)
	assert.Equal(t, publish, p.PelicanConf)
}

func TestResolve_TOMLProjectFile(t *testing.T) {
	home := newSite(t)
	writeFile(t, filepath.Join(home, "env", "python3"), "")
	writeFile(t, filepath.Join(home, "conf", "site.py"), "")
	file := writeFile(t, filepath.Join(home, "pelicide.toml"),
		"python = \"env/python3\"\npelicanconf = \"conf/site.py\"\n")

	p, err := isolatedResolver().Resolve(home)
	require.NoError(t, err)

	assert.Equal(t, file, p.File)
	assert.Equal(t, filepath.Join(home, "env", "python3"), p.Interpreter)
	assert.Equal(t, filepath.Join(home, "conf", "site.py"), p.PelicanConf)
}

func TestResolve_YAMLProjectFileLocator(t *testing.T) {
	home := newSite(t)
	writeFile(t, filepath.Join(home, "other.py"), "")
	file := writeFile(t, filepath.Join(home, "pelicide.yml"), "pelicanconf: other.py\n")

	p, err := isolatedResolver().Resolve(file)
	require.NoError(t, err)

	assert.Equal(t, file, p.File)
	assert.Equal(t, filepath.Join(home, "other.py"), p.PelicanConf)
	// Unset keys keep the discovered defaults.
	assert.Equal(t, filepath.Join(home, ".venv", "bin", "python"), p.Interpreter)
}

func TestResolve_GlobalFileLayering(t *testing.T) {
	home := newSite(t)
	global := t.TempDir()
	writeFile(t, filepath.Join(home, "global.py"), "")
	writeFile(t, filepath.Join(home, "local.py"), "")
	writeFile(t, filepath.Join(global, "pelicide.toml"), "pelicanconf = \"global.py\"\n")

	r := NewResolver(WithGlobalConfigDir(global))

	p, err := r.Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "global.py"), p.PelicanConf)

	// The project's own file overrides the global one.
	writeFile(t, filepath.Join(home, "pelicide.toml"), "pelicanconf = \"local.py\"\n")
	p, err = r.Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "local.py"), p.PelicanConf)

	// A locator naming a configuration overrides both.
	p, err = r.Resolve(filepath.Join(home, "pelicanconf.py"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pelicanconf.py"), p.PelicanConf)
}

func TestResolve_InterpreterFromPath(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "pelicanconf.py"), "")

	p, err := isolatedResolver(WithDefaultInterpreter("sh")).Resolve(home)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p.Interpreter), "interpreter %q should be absolute", p.Interpreter)
}

func TestResolve_Errors(t *testing.T) {
	t.Run("missing locator", func(t *testing.T) {
		_, err := isolatedResolver().Resolve(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, ErrInvalidLocator)
	})

	t.Run("missing interpreter", func(t *testing.T) {
		home := t.TempDir()
		writeFile(t, filepath.Join(home, "pelicanconf.py"), "")

		_, err := isolatedResolver(WithDefaultInterpreter("/nonexistent/python3")).Resolve(home)
		assert.ErrorIs(t, err, ErrInterpreterNotFound)
	})

	t.Run("interpreter not in PATH", func(t *testing.T) {
		home := t.TempDir()
		writeFile(t, filepath.Join(home, "pelicanconf.py"), "")

		_, err := isolatedResolver(WithDefaultInterpreter("pelicide-no-such-python")).Resolve(home)
		assert.ErrorIs(t, err, ErrInterpreterNotFound)
	})

	t.Run("missing pelicanconf", func(t *testing.T) {
		home := t.TempDir()
		writeFile(t, filepath.Join(home, ".venv", "bin", "python"), "")

		_, err := isolatedResolver().Resolve(home)
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("malformed project file", func(t *testing.T) {
		home := newSite(t)
		writeFile(t, filepath.Join(home, "pelicide.toml"), "python = [\n")

		_, err := isolatedResolver().Resolve(home)
		var fileErr *FileError
		require.ErrorAs(t, err, &fileErr)
		assert.Equal(t, filepath.Join(home, "pelicide.toml"), fileErr.Path)
	})

	t.Run("unknown toml key", func(t *testing.T) {
		home := newSite(t)
		writeFile(t, filepath.Join(home, "pelicide.toml"), "pyhton = \"x\"\n")

		_, err := isolatedResolver().Resolve(home)
		var fileErr *FileError
		assert.ErrorAs(t, err, &fileErr)
	})
}

func TestResolve_INIProjectFile(t *testing.T) {
	home := newSite(t)
	writeFile(t, filepath.Join(home, "publishconf.py"), "")
	writeFile(t, filepath.Join(home, "env", "bin", "python"), "")
	writeFile(t, filepath.Join(home, "pelicide.ini"), `[pelicide]
python = %(here)s/env/bin/python
pelicanconf = publishconf.py
`)

	p, err := isolatedResolver().Resolve(home)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "pelicide.ini"), p.File)
	assert.Equal(t, filepath.Join(home, "env", "bin", "python"), p.Interpreter)
	assert.Equal(t, filepath.Join(home, "publishconf.py"), p.PelicanConf)

	// The same file named as the locator.
	p, err = isolatedResolver().Resolve(filepath.Join(home, "pelicide.ini"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "publishconf.py"), p.PelicanConf)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		want    File
	}{
		{"toml", "a.toml", "python = \"py\"\npelicanconf = \"c.py\"\n", File{Python: "py", PelicanConf: "c.py"}},
		{"yaml", "a.yaml", "python: py\n", File{Python: "py"}},
		{"yml", "a.yml", "pelicanconf: c.py\n", File{PelicanConf: "c.py"}},
		{"empty toml", "b.toml", "", File{}},
		{"ini", "a.ini", "[pelicide]\npython = %(here)s/env/bin/python\npelicanconf = c.py\n",
			File{Python: "/srv/blog/env/bin/python", PelicanConf: "c.py"}},
		{"ini own here", "b.ini", "[DEFAULT]\nhere = /elsewhere\n\n[pelicide]\npelicanconf = %(here)s/c.py\n",
			File{PelicanConf: "/elsewhere/c.py"}},
		{"ini other section", "c.ini", "[pelican]\npython = py\n", File{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, filepath.Join(dir, tt.file), tt.content)
			got, err := LoadFile(path, "/srv/blog")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := LoadFile(filepath.Join(dir, "missing.toml"), dir)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
