package site

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/pelicide/internal/runner"
)

func TestRegistry_Register(t *testing.T) {
	h := newHarness(t, nil)
	home := t.TempDir()
	ctx := context.Background()

	id, err := h.registry.Register(ctx, home)
	require.NoError(t, err)

	s, ok := h.registry.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, s.ID)
	assert.Equal(t, "/site/"+id, s.URLPath())
	assert.True(t, strings.HasPrefix(s.Dir, h.scratch))
	assert.DirExists(t, s.OutputPath())

	w := h.worker(0)
	assert.Equal(t, 1, w.starts)
	assert.Equal(t, "/usr/bin/python3", w.cfg.Interpreter)
	assert.Equal(t, "/opt/pelican-runner.py", w.cfg.Script)
	assert.Equal(t, home+"/pelicanconf.py", w.cfg.ConfigPath)
	assert.Equal(t, home, w.cfg.Dir)
	assert.Equal(t, map[string]any{
		"OUTPUT_PATH":   s.OutputPath(),
		"SITEURL":       "/site/" + id,
		"RELATIVE_URLS": true,
	}, w.cfg.InitSettings)

	assert.Equal(t, []commandRecord{{Name: "build", Args: "null"}}, w.recorded())

	assert.Equal(t, []SiteInfo{{ID: id, Name: "Fake", Formats: []string{"md", "rst"}}}, h.registry.List())
}

func TestRegistry_RegisterResolveFailure(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.registry.Register(context.Background(), "/nonexistent/project")
	require.Error(t, err)
	assert.Empty(t, h.scratchEntries(t))
	assert.Empty(t, h.registry.List())
}

func TestRegistry_RegisterStartFailureUnwinds(t *testing.T) {
	startErr := &runner.StartupError{Err: errors.New("no module named pelican")}
	h := newHarness(t, func(n int, w *fakeWorker) {
		if n == 1 {
			w.startErr = startErr
		}
	})
	home := t.TempDir()
	ctx := context.Background()

	_, err := h.registry.Register(ctx, home)
	require.ErrorIs(t, err, startErr)
	assert.Empty(t, h.scratchEntries(t), "scratch directory left behind")
	assert.Empty(t, h.registry.Sites())

	// The project lock was released.
	_, err = h.registry.Register(ctx, home)
	require.NoError(t, err)
}

func TestRegistry_RegisterBuildFailureStopsWorker(t *testing.T) {
	buildErr := &runner.CommandError{Command: "build", Payload: []byte(`"template missing"`)}
	h := newHarness(t, func(n int, w *fakeWorker) {
		w.failures["build"] = buildErr
	})

	_, err := h.registry.Register(context.Background(), t.TempDir())

	var cmdErr *runner.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "template missing", cmdErr.Message())
	assert.Equal(t, 1, h.worker(0).stops)
	assert.Empty(t, h.scratchEntries(t))
}

func TestRegistry_ProjectLocked(t *testing.T) {
	h := newHarness(t, nil)
	home := t.TempDir()
	ctx := context.Background()

	_, err := h.registry.Register(ctx, home)
	require.NoError(t, err)

	_, err = h.registry.Register(ctx, home)
	require.ErrorIs(t, err, ErrProjectLocked)
	assert.Len(t, h.registry.Sites(), 1)
	assert.Len(t, h.scratchEntries(t), 1)
}

func TestRegistry_CommandUnknownSite(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.registry.Command(context.Background(), "missing", "scan", nil)
	assert.ErrorIs(t, err, ErrSiteNotFound)
}

func TestRegistry_CommandRoutesToSite(t *testing.T) {
	h := newHarness(t, func(n int, w *fakeWorker) {
		w.replies["scan"] = []byte(`{"content":[]}`)
	})
	ctx := context.Background()

	first, err := h.registry.Register(ctx, t.TempDir())
	require.NoError(t, err)
	second, err := h.registry.Register(ctx, t.TempDir())
	require.NoError(t, err)

	_, err = h.registry.Command(ctx, second, "scan", nil)
	require.NoError(t, err)

	assert.Len(t, h.worker(0).recorded(), 1, "first site saw only its initial build")
	assert.Equal(t, "scan", h.worker(1).recorded()[1].Name)
	assert.NotEqual(t, first, second)
}

func TestRegistry_TeardownContinuesPastFailures(t *testing.T) {
	stopErr := errors.New("worker hung")
	h := newHarness(t, func(n int, w *fakeWorker) {
		if n == 1 {
			w.stopErr = stopErr
		}
	})
	ctx := context.Background()

	first, err := h.registry.Register(ctx, t.TempDir())
	require.NoError(t, err)
	second, err := h.registry.Register(ctx, t.TempDir())
	require.NoError(t, err)

	s1, _ := h.registry.Get(first)
	s2, _ := h.registry.Get(second)

	err = h.registry.Teardown(ctx)
	require.ErrorIs(t, err, stopErr)
	assert.Contains(t, err.Error(), first)

	assert.Equal(t, 1, h.worker(0).stops)
	assert.Equal(t, 1, h.worker(1).stops)
	assert.NoDirExists(t, s1.Dir)
	assert.NoDirExists(t, s2.Dir)
	assert.Empty(t, h.registry.Sites())

	_, ok := h.registry.Get(first)
	assert.False(t, ok)

	// Locks were released even for the site whose stop failed.
	_, err = h.registry.Register(ctx, s1.Project.Home)
	assert.NoError(t, err)
}

func TestRegistry_TeardownEmpty(t *testing.T) {
	h := newHarness(t, nil)
	assert.NoError(t, h.registry.Teardown(context.Background()))
}

func TestRegistry_ListWithoutSettings(t *testing.T) {
	h := newHarness(t, nil)
	id, err := h.registry.Register(context.Background(), t.TempDir())
	require.NoError(t, err)

	h.worker(0).mu.Lock()
	h.worker(0).settings = nil
	h.worker(0).mu.Unlock()

	assert.Equal(t, []SiteInfo{{ID: id}}, h.registry.List())
}

func TestNewRegistry_DefaultLockDir(t *testing.T) {
	root := t.TempDir()
	r := NewRegistry(WithScratchRoot(root))
	assert.Equal(t, root+string(os.PathSeparator)+"pelicide-locks", r.lockDir)
}
