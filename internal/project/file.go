package project

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// FileNames lists the project file names looked up in a project directory,
// in order of preference.
var FileNames = []string{"pelicide.toml", "pelicide.yaml", "pelicide.yml", "pelicide.ini"}

// iniSection holds the settings in an INI project file.
const iniSection = "pelicide"

// File is the content of a pelicide project file.
//
//	python = ".venv/bin/python"
//	pelicanconf = "publishconf.py"
//
// Relative paths are resolved against the project directory; "~" expands to
// the user's home directory.
type File struct {
	Python      string `toml:"python" yaml:"python"`
	PelicanConf string `toml:"pelicanconf" yaml:"pelicanconf"`
}

// merge overlays the non-empty fields of other.
func (f *File) merge(other File) {
	if other.Python != "" {
		f.Python = other.Python
	}
	if other.PelicanConf != "" {
		f.PelicanConf = other.PelicanConf
	}
}

// LoadFile reads a project file. The format follows the extension: .yaml and
// .yml are YAML, .ini is INI, anything else is TOML.
//
// INI files keep their settings in a [pelicide] section, where %(here)s
// expands to home unless the file's default section sets "here" itself:
//
//	[pelicide]
//	python = %(here)s/env/bin/python
//	pelicanconf = publishconf.py
func LoadFile(path, home string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, &FileError{Path: path, Err: err}
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	case ".ini":
		f, err = decodeINI(data, home)
	default:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&f)
	}
	if err != nil {
		return File{}, &FileError{Path: path, Err: fmt.Errorf("parse: %w", err)}
	}
	return f, nil
}

func decodeINI(data []byte, home string) (File, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return File{}, err
	}
	if defaults := cfg.Section(ini.DefaultSection); !defaults.HasKey("here") {
		defaults.Key("here").SetValue(home)
	}

	sec, err := cfg.GetSection(iniSection)
	if err != nil {
		return File{}, nil
	}
	return File{
		Python:      sec.Key("python").String(),
		PelicanConf: sec.Key("pelicanconf").String(),
	}, nil
}

// findFile returns the first project file present in dir, or "" if none.
func findFile(dir string) (string, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", &FileError{Path: path, Err: err}
		}
	}
	return "", nil
}
