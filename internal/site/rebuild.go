package site

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Rebuild brings the site's output up to date after the given files
// changed. A change to the pelican configuration restarts the worker so the
// new configuration is loaded, then rebuilds everything. If every changed
// path is an existing file under the content directory, only those files
// are built; any other change rebuilds the whole site.
func (s *Site) Rebuild(ctx context.Context, changed []string) (map[string]string, error) {
	if len(changed) == 0 {
		return nil, nil
	}

	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if s.configChanged(changed) {
		s.logger.Info("configuration changed, restarting worker")
		if err := s.Worker.Restart(ctx); err != nil {
			return nil, fmt.Errorf("restart worker: %w", err)
		}
		return s.Build(ctx, nil)
	}

	settings, err := s.Settings()
	if err != nil {
		return nil, err
	}

	paths, ok := buildPaths(settings.Content, changed)
	if !ok {
		s.logger.Debug("full rebuild", "changed", len(changed))
		return s.Build(ctx, nil)
	}
	s.logger.Debug("selective rebuild", "paths", len(paths))
	return s.Build(ctx, paths)
}

func (s *Site) configChanged(changed []string) bool {
	conf := filepath.Clean(s.Project.PelicanConf)
	for _, p := range changed {
		if filepath.Clean(p) == conf {
			return true
		}
	}
	return false
}

// buildPaths maps changed files to build descriptors relative to the content
// root. It reports false if any path cannot be built selectively.
func buildPaths(content string, changed []string) ([]BuildPath, bool) {
	if content == "" {
		return nil, false
	}

	paths := make([]BuildPath, 0, len(changed))
	for _, p := range changed {
		rel, err := filepath.Rel(content, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, false
		}

		// Removed files and directories need a full build.
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			return nil, false
		}

		dir, name := filepath.Split(rel)
		bp := BuildPath{Dir: []string{}, Name: name}
		if dir = strings.TrimSuffix(dir, string(filepath.Separator)); dir != "" {
			bp.Dir = strings.Split(dir, string(filepath.Separator))
		}
		paths = append(paths, bp)
	}
	return paths, true
}
