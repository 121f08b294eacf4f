package site

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/dshills/pelicide/internal/project"
	"github.com/dshills/pelicide/internal/runner"
)

// Resolver turns a project locator into a project.
// *project.Resolver implements it.
type Resolver interface {
	Resolve(locator string) (*project.Project, error)
}

// WorkerFactory builds the worker for a site from its runner configuration.
type WorkerFactory func(cfg runner.Config) Worker

// SiteInfo summarizes a registered site.
type SiteInfo struct {
	ID      string   `json:"site_id"`
	Name    string   `json:"name"`
	Formats []string `json:"formats"`
}

// Registry owns the registered sites: their workers, scratch directories
// and project locks.
//
// Lookups are safe for concurrent use. Register and Teardown are expected
// to be called from one goroutine.
type Registry struct {
	mu    sync.RWMutex
	sites map[string]*Site
	order []string

	resolver    Resolver
	factory     WorkerFactory
	template    runner.Config
	scratchRoot string
	lockDir     string
	logger      *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver sets the project resolver.
func WithResolver(r Resolver) Option {
	return func(reg *Registry) {
		reg.resolver = r
	}
}

// WithWorkerFactory sets how site workers are created.
func WithWorkerFactory(f WorkerFactory) Option {
	return func(reg *Registry) {
		reg.factory = f
	}
}

// WithRunnerConfig sets the worker settings shared by all sites: entry
// point script, timeouts and environment. Per-site fields are filled in by
// Register.
func WithRunnerConfig(cfg runner.Config) Option {
	return func(reg *Registry) {
		reg.template = cfg
	}
}

// WithScratchRoot sets the parent directory of site scratch directories.
func WithScratchRoot(dir string) Option {
	return func(reg *Registry) {
		reg.scratchRoot = dir
	}
}

// WithLockDir sets where project lock files are kept.
func WithLockDir(dir string) Option {
	return func(reg *Registry) {
		reg.lockDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(reg *Registry) {
		reg.logger = logger
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sites:  make(map[string]*Site),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resolver == nil {
		r.resolver = project.NewResolver()
	}
	if r.factory == nil {
		logger := r.logger
		r.factory = func(cfg runner.Config) Worker {
			return runner.New(cfg, runner.WithLogger(logger))
		}
	}
	if r.lockDir == "" {
		root := r.scratchRoot
		if root == "" {
			root = os.TempDir()
		}
		r.lockDir = filepath.Join(root, "pelicide-locks")
	}
	return r
}

// Register resolves locator, starts a worker for it and builds the site
// once. It returns the new site's id. On failure nothing is left behind:
// the worker is stopped, the scratch directory removed and the project
// lock released.
func (r *Registry) Register(ctx context.Context, locator string) (id string, err error) {
	proj, err := r.resolver.Resolve(locator)
	if err != nil {
		return "", fmt.Errorf("resolve project %s: %w", locator, err)
	}

	lock, err := r.lockProject(proj)
	if err != nil {
		return "", err
	}
	defer func() {
		if err != nil {
			_ = lock.Unlock()
		}
	}()

	dir, err := os.MkdirTemp(r.scratchRoot, "pelicide-")
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				r.logger.Warn("remove scratch directory", "dir", dir, "error", rmErr)
			}
		}
	}()

	s := &Site{
		ID:      uuid.NewString(),
		Project: proj,
		Dir:     dir,
		lock:    lock,
	}
	s.logger = r.logger.With("site", s.ID, "project", proj.Name())

	if err := os.Mkdir(s.OutputPath(), 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	cfg := r.template
	cfg.Name = proj.Name()
	cfg.Interpreter = proj.Interpreter
	cfg.ConfigPath = proj.PelicanConf
	cfg.Dir = proj.Home
	cfg.InitSettings = map[string]any{
		"OUTPUT_PATH":   s.OutputPath(),
		"SITEURL":       s.URLPath(),
		"RELATIVE_URLS": true,
	}
	s.Worker = r.factory(cfg)

	if err := s.Worker.Start(ctx); err != nil {
		return "", fmt.Errorf("start worker for %s: %w", proj.Name(), err)
	}
	if _, err := s.Build(ctx, nil); err != nil {
		if stopErr := s.Worker.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			s.logger.Warn("stop worker", "error", stopErr)
		}
		return "", fmt.Errorf("initial build of %s: %w", proj.Name(), err)
	}

	r.mu.Lock()
	r.sites[s.ID] = s
	r.order = append(r.order, s.ID)
	r.mu.Unlock()

	s.logger.Info("site registered", "dir", dir, "config", proj.PelicanConf)
	return s.ID, nil
}

// lockProject takes the per-project lock without blocking.
func (r *Registry) lockProject(proj *project.Project) (*flock.Flock, error) {
	if err := os.MkdirAll(r.lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	sum := sha256.Sum256([]byte(proj.Home))
	lock := flock.New(filepath.Join(r.lockDir, hex.EncodeToString(sum[:8])+".lock"))

	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock project %s: %w", proj.Home, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrProjectLocked, proj.Home)
	}
	return lock, nil
}

// Get returns the site registered under id.
func (r *Registry) Get(id string) (*Site, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sites[id]
	return s, ok
}

// Command sends a command to the worker of site id.
func (r *Registry) Command(ctx context.Context, id, name string, args any) (json.RawMessage, error) {
	s, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, id)
	}
	return s.Worker.Command(ctx, name, args)
}

// Sites returns the registered sites in registration order.
func (r *Registry) Sites() []*Site {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sites := make([]*Site, 0, len(r.order))
	for _, id := range r.order {
		sites = append(sites, r.sites[id])
	}
	return sites
}

// List summarizes the registered sites in registration order.
func (r *Registry) List() []SiteInfo {
	sites := r.Sites()
	infos := make([]SiteInfo, 0, len(sites))
	for _, s := range sites {
		info := SiteInfo{ID: s.ID}
		if settings, err := s.Settings(); err == nil {
			info.Name = settings.SiteName
			info.Formats = settings.Formats
		} else {
			s.logger.Debug("site settings unavailable", "error", err)
		}
		infos = append(infos, info)
	}
	return infos
}

// Teardown stops every worker, removes every scratch directory and releases
// every project lock. A failure on one site does not prevent cleanup of the
// others; all failures are returned joined.
func (r *Registry) Teardown(ctx context.Context) error {
	r.mu.Lock()
	sites := make([]*Site, 0, len(r.order))
	for _, id := range r.order {
		sites = append(sites, r.sites[id])
	}
	r.sites = make(map[string]*Site)
	r.order = nil
	r.mu.Unlock()

	var errs []error
	for _, s := range sites {
		if err := s.Worker.Stop(ctx); err != nil {
			s.logger.Error("failed to stop worker", "error", err)
			errs = append(errs, fmt.Errorf("stop site %s: %w", s.ID, err))
		}
		if err := os.RemoveAll(s.Dir); err != nil {
			s.logger.Error("failed to remove scratch directory", "dir", s.Dir, "error", err)
			errs = append(errs, fmt.Errorf("remove scratch directory of site %s: %w", s.ID, err))
		}
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock project of site %s: %w", s.ID, err))
		}
		s.logger.Info("site torn down")
	}
	return errors.Join(errs...)
}
