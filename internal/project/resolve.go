package project

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultPelicanConf is the configuration file used when nothing else is set.
const DefaultPelicanConf = "pelicanconf.py"

// venvInterpreters are tried, relative to the project directory, before
// falling back to the resolver's default interpreter.
var venvInterpreters = []string{
	filepath.Join(".venv", "bin", "python.exe"),
	filepath.Join(".venv", "bin", "python"),
	filepath.Join("venv", "bin", "python.exe"),
	filepath.Join("venv", "bin", "python"),
}

// Project is a resolved pelican site.
type Project struct {
	// Home is the project directory.
	Home string

	// Interpreter is the absolute path of the Python interpreter.
	Interpreter string

	// PelicanConf is the absolute path of the pelican configuration.
	PelicanConf string

	// File is the project file that was applied, if any.
	File string
}

// Name returns the project directory's base name.
func (p *Project) Name() string {
	return filepath.Base(p.Home)
}

// Resolver turns project locators into Projects.
type Resolver struct {
	globalDir string
	python    string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithGlobalConfigDir sets the directory searched for the global project
// file. An empty dir disables the global file.
func WithGlobalConfigDir(dir string) Option {
	return func(r *Resolver) {
		r.globalDir = dir
	}
}

// WithDefaultInterpreter sets the interpreter used when the project has no
// virtualenv and no file names one. A bare name is looked up in PATH.
func WithDefaultInterpreter(python string) Option {
	return func(r *Resolver) {
		r.python = python
	}
}

// NewResolver creates a Resolver. By default the global file is read from
// the "pelicide" directory under the user config dir and the fallback
// interpreter is python3 from PATH.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{python: "python3"}
	if dir, err := os.UserConfigDir(); err == nil {
		r.globalDir = filepath.Join(dir, "pelicide")
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves locator, which is one of:
//   - a project directory, optionally holding a project file
//   - a pelican configuration (*.py), whose directory is the project
//   - a project file, whose directory is the project
//
// Settings are layered: discovered defaults, then the global project file,
// then the project's own file, then a configuration named by the locator.
func (r *Resolver) Resolve(locator string) (*Project, error) {
	abs, err := filepath.Abs(locator)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", locator, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidLocator, locator, err)
	}

	var home, projectFile, pelicanConf string
	switch {
	case info.IsDir():
		home = abs
		if projectFile, err = findFile(home); err != nil {
			return nil, err
		}
	case strings.EqualFold(filepath.Ext(abs), ".py"):
		home = filepath.Dir(abs)
		pelicanConf = abs
	case info.Mode().IsRegular():
		home = filepath.Dir(abs)
		projectFile = abs
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidLocator, locator)
	}

	settings := File{
		Python:      r.discoverInterpreter(home),
		PelicanConf: DefaultPelicanConf,
	}

	if r.globalDir != "" {
		global, err := findFile(r.globalDir)
		if err != nil {
			return nil, err
		}
		if global != "" {
			f, err := LoadFile(global, home)
			if err != nil {
				return nil, err
			}
			settings.merge(f)
		}
	}

	if projectFile != "" {
		f, err := LoadFile(projectFile, home)
		if err != nil {
			return nil, err
		}
		settings.merge(f)
	}

	if pelicanConf != "" {
		settings.PelicanConf = pelicanConf
	}

	p := &Project{Home: home, File: projectFile}

	if p.Interpreter, err = resolveInterpreter(home, settings.Python); err != nil {
		return nil, err
	}

	p.PelicanConf = resolvePath(home, settings.PelicanConf)
	if info, err := os.Stat(p.PelicanConf); err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, p.PelicanConf)
	}

	return p, nil
}

// Resolve resolves locator with a default Resolver.
func Resolve(locator string) (*Project, error) {
	return NewResolver().Resolve(locator)
}

func (r *Resolver) discoverInterpreter(home string) string {
	for _, candidate := range venvInterpreters {
		path := filepath.Join(home, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return r.python
}

// resolveInterpreter finds python. Bare command names are looked up in PATH,
// anything else is a path relative to home.
func resolveInterpreter(home, python string) (string, error) {
	if python == "" {
		return "", ErrInterpreterNotFound
	}

	if !strings.ContainsRune(python, filepath.Separator) && !strings.HasPrefix(python, "~") {
		path, err := exec.LookPath(python)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, python)
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		return path, nil
	}

	path := resolvePath(home, python)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrInterpreterNotFound, path)
	}
	return path, nil
}

// resolvePath expands a leading "~" and anchors relative paths at home.
func resolvePath(home, path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if userHome, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(userHome, strings.TrimPrefix(path, "~"))
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(home, path)
	}
	return filepath.Clean(path)
}
