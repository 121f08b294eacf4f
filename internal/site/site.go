package site

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"

	"github.com/dshills/pelicide/internal/project"
	"github.com/dshills/pelicide/internal/runner"
)

// Worker is the site's view of a worker lifecycle manager.
// *runner.Runner implements it.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Command(ctx context.Context, name string, args any) (json.RawMessage, error)
	Settings() json.RawMessage
	State() runner.State
}

var _ Worker = (*runner.Runner)(nil)

// Site is one registered project with its worker and scratch directory.
// The scratch directory outlives worker restarts.
type Site struct {
	ID      string
	Project *project.Project
	Dir     string
	Worker  Worker

	lock   *flock.Flock
	logger *slog.Logger

	// rebuildMu serializes Rebuild.
	rebuildMu sync.Mutex
}

// Settings is the subset of the worker's ready settings the service uses.
type Settings struct {
	SiteName string     `json:"SITENAME"`
	Formats  []string   `json:"FORMATS"`
	Content  string     `json:"CONTENT"`
	Theme    string     `json:"THEME"`
	Articles [][]string `json:"ARTICLES"`
	Pages    [][]string `json:"PAGES"`
}

// Settings decodes the settings reported by the worker's last ready reply.
func (s *Site) Settings() (Settings, error) {
	var settings Settings
	raw := s.Worker.Settings()
	if len(raw) == 0 {
		return settings, runner.ErrNotRunning
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("decode settings of site %s: %w", s.ID, err)
	}
	return settings, nil
}

// OutputPath is where the worker writes the built site.
func (s *Site) OutputPath() string {
	return filepath.Join(s.Dir, "output")
}

// URLPath is the URL prefix the site is served under.
func (s *Site) URLPath() string {
	return "/site/" + s.ID
}

// Command sends a raw command to the site's worker.
func (s *Site) Command(ctx context.Context, name string, args any) (json.RawMessage, error) {
	return s.Worker.Command(ctx, name, args)
}

// BuildPath names one content file for a selective build, as its directory
// components relative to the content root and its file name.
type BuildPath struct {
	Dir  []string
	Name string
}

// MarshalJSON encodes the path as [[dir...], name].
func (p BuildPath) MarshalJSON() ([]byte, error) {
	dir := p.Dir
	if dir == nil {
		dir = []string{}
	}
	return json.Marshal([]any{dir, p.Name})
}

// UnmarshalJSON decodes [[dir...], name].
func (p *BuildPath) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("build path: want [dir, name], got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &p.Dir); err != nil {
		return fmt.Errorf("build path dir: %w", err)
	}
	return json.Unmarshal(parts[1], &p.Name)
}

// Build builds the site. With no paths the whole site is built; otherwise
// the worker reports the URL of each named file. The result maps content
// paths to URLs.
func (s *Site) Build(ctx context.Context, paths []BuildPath) (map[string]string, error) {
	var args any
	if len(paths) > 0 {
		args = paths
	}
	raw, err := s.Worker.Command(ctx, "build", args)
	if err != nil {
		return nil, err
	}
	urls := map[string]string{}
	if err := decodeResult(raw, &urls); err != nil {
		return nil, fmt.Errorf("decode build result: %w", err)
	}
	return urls, nil
}

// ContentFile is one entry of a scan.
type ContentFile struct {
	Path     []string       `json:"path"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	URL      string         `json:"url,omitempty"`
	Status   string         `json:"status,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
	MimeType string         `json:"mimetype,omitempty"`
}

// Scan lists the site's content as the worker sees it.
func (s *Site) Scan(ctx context.Context) ([]ContentFile, error) {
	raw, err := s.Worker.Command(ctx, "scan", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Content []ContentFile `json:"content"`
	}
	if err := decodeResult(raw, &result); err != nil {
		return nil, fmt.Errorf("decode scan result: %w", err)
	}
	return result.Content, nil
}

// Rendered is the result of rendering a document.
type Rendered struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Render renders content written in format, which must be one of the
// formats the worker reported when it became ready.
func (s *Site) Render(ctx context.Context, format, content string) (*Rendered, error) {
	settings, err := s.Settings()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(settings.Formats, format) {
		return nil, fmt.Errorf("%w: %s", ErrFormatNotSupported, format)
	}

	raw, err := s.Worker.Command(ctx, "render", []string{format, content})
	if err != nil {
		return nil, err
	}
	var rendered Rendered
	if err := decodeResult(raw, &rendered); err != nil {
		return nil, fmt.Errorf("decode render result: %w", err)
	}
	return &rendered, nil
}

// Setting reads a pelican setting, or sets it when value is given.
// The worker returns the setting's resulting value.
func (s *Site) Setting(ctx context.Context, key string, value ...any) (json.RawMessage, error) {
	args := []any{key}
	if len(value) > 0 {
		args = append(args, value[0])
	}
	return s.Worker.Command(ctx, "setting", args)
}

// Slugify converts text to a slug using the site's slug settings.
func (s *Site) Slugify(ctx context.Context, text string) (string, error) {
	raw, err := s.Worker.Command(ctx, "slugify", []string{text})
	if err != nil {
		return "", err
	}
	var result struct {
		Slug string `json:"slug"`
	}
	if err := decodeResult(raw, &result); err != nil {
		return "", fmt.Errorf("decode slugify result: %w", err)
	}
	return result.Slug, nil
}

// Extensions lists the file extensions the worker can read.
func (s *Site) Extensions(ctx context.Context) ([]string, error) {
	raw, err := s.Worker.Command(ctx, "extensions", nil)
	if err != nil {
		return nil, err
	}
	var exts []string
	if err := decodeResult(raw, &exts); err != nil {
		return nil, fmt.Errorf("decode extensions: %w", err)
	}
	return exts, nil
}

// decodeResult unmarshals a worker payload; null leaves v untouched.
func decodeResult(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
