package site

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
)

// defaultMimeType is reported for files whose type cannot be guessed.
const defaultMimeType = "application/octet-stream"

// mimeOverrides maps extensions the system tables often lack or get wrong.
var mimeOverrides = map[string]string{
	".html":     "text/html",
	".css":      "text/css",
	".js":       "application/javascript",
	".woff2":    "application/font-woff2",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".mkd":      "text/markdown",
	".mdown":    "text/markdown",
	".rst":      "text/x-rst",
	".asc":      "text/x-asciidoc",
	".adoc":     "text/x-asciidoc",
	".asciidoc": "text/x-asciidoc",
}

// ThemeFile is one file below the site's theme directory.
type ThemeFile struct {
	Path     []string `json:"path"`
	Name     string   `json:"name"`
	MimeType string   `json:"mimetype"`
}

// Files is the combined listing of a site's content and theme.
type Files struct {
	Content []ContentFile `json:"content"`
	Theme   []ThemeFile   `json:"theme"`
}

// ThemeFiles lists every regular file below the theme directory the worker
// reported, in lexical order. A site without a theme has no theme files.
func (s *Site) ThemeFiles() ([]ThemeFile, error) {
	settings, err := s.Settings()
	if err != nil {
		return nil, err
	}
	files := []ThemeFile{}
	if settings.Theme == "" {
		return files, nil
	}

	root := settings.Theme
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		dir := []string{}
		if rel != "." {
			dir = strings.Split(rel, string(filepath.Separator))
		}
		files = append(files, ThemeFile{
			Path:     dir,
			Name:     d.Name(),
			MimeType: guessMimeType(d.Name()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list theme %s: %w", root, err)
	}
	return files, nil
}

// Files lists the site's content, as scanned by the worker, and its theme.
func (s *Site) Files(ctx context.Context) (*Files, error) {
	content, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	theme, err := s.ThemeFiles()
	if err != nil {
		return nil, err
	}
	return &Files{Content: content, Theme: theme}, nil
}

func guessMimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mimeOverrides[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if base, _, found := strings.Cut(t, ";"); found {
			return strings.TrimSpace(base)
		}
		return t
	}
	return defaultMimeType
}
