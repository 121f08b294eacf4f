package site

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dshills/pelicide/internal/project"
	"github.com/dshills/pelicide/internal/runner"
)

type commandRecord struct {
	Name string
	Args string
}

// fakeWorker records commands and answers them from a table.
type fakeWorker struct {
	cfg runner.Config

	mu       sync.Mutex
	state    runner.State
	settings json.RawMessage
	commands []commandRecord
	starts   int
	restarts int
	stops    int

	startErr error
	stopErr  error
	replies  map[string]json.RawMessage
	failures map[string]error
}

func newFakeWorker(cfg runner.Config) *fakeWorker {
	return &fakeWorker{
		cfg:      cfg,
		settings: json.RawMessage(`{"SITENAME":"Fake","FORMATS":["md","rst"],"CONTENT":"/content"}`),
		replies:  map[string]json.RawMessage{"build": json.RawMessage(`{}`)},
		failures: map[string]error{},
	}
}

func (w *fakeWorker) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	if w.startErr != nil {
		return w.startErr
	}
	w.state = runner.StateRunning
	return nil
}

func (w *fakeWorker) Stop(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	w.state = runner.StateStopped
	return w.stopErr
}

func (w *fakeWorker) Restart(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restarts++
	w.state = runner.StateRunning
	return nil
}

func (w *fakeWorker) Command(_ context.Context, name string, args any) (json.RawMessage, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != runner.StateRunning {
		return nil, runner.ErrNotRunning
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	w.commands = append(w.commands, commandRecord{Name: name, Args: string(data)})
	if err := w.failures[name]; err != nil {
		return nil, err
	}
	if reply, ok := w.replies[name]; ok {
		return reply, nil
	}
	return json.RawMessage("null"), nil
}

func (w *fakeWorker) Settings() json.RawMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

func (w *fakeWorker) State() runner.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *fakeWorker) recorded() []commandRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]commandRecord(nil), w.commands...)
}

// staticResolver resolves every locator to a project rooted at the locator.
type staticResolver struct{}

func (staticResolver) Resolve(locator string) (*project.Project, error) {
	if _, err := os.Stat(locator); err != nil {
		return nil, errors.Join(project.ErrInvalidLocator, err)
	}
	return &project.Project{
		Home:        locator,
		Interpreter: "/usr/bin/python3",
		PelicanConf: filepath.Join(locator, "pelicanconf.py"),
	}, nil
}

// harness builds a registry whose workers are fakes, configured by setup.
type harness struct {
	registry *Registry
	scratch  string

	mu      sync.Mutex
	workers []*fakeWorker
	setup   func(n int, w *fakeWorker)
}

func newHarness(t *testing.T, setup func(n int, w *fakeWorker)) *harness {
	t.Helper()
	h := &harness{scratch: t.TempDir(), setup: setup}
	h.registry = NewRegistry(
		WithResolver(staticResolver{}),
		WithScratchRoot(h.scratch),
		WithLockDir(t.TempDir()),
		WithRunnerConfig(runner.Config{Script: "/opt/pelican-runner.py"}),
		WithWorkerFactory(func(cfg runner.Config) Worker {
			h.mu.Lock()
			defer h.mu.Unlock()
			w := newFakeWorker(cfg)
			h.workers = append(h.workers, w)
			if h.setup != nil {
				h.setup(len(h.workers), w)
			}
			return w
		}),
	)
	t.Cleanup(func() { _ = h.registry.Teardown(context.Background()) })
	return h
}

func (h *harness) worker(i int) *fakeWorker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.workers[i]
}

// scratchEntries lists the scratch directories left under the scratch root.
func (h *harness) scratchEntries(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
