package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/pelicide/internal/site"
	"github.com/dshills/pelicide/internal/watcher"
)

func newServeCmd(a *app) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve PROJECT...",
		Short: "Run workers for projects and rebuild them on change",
		Long: `Register every PROJECT, build it and keep it built: changes under the
project directory trigger a rebuild, and a change to the pelican
configuration restarts the project's worker. Runs until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if noWatch {
				a.cfg.Watch.Enabled = false
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd, args)
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not rebuild on file changes")
	return cmd
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command, locators []string) (err error) {
	svc, err := a.newServices()
	if err != nil {
		return err
	}
	defer func() {
		a.logger.Info("shutting down")
		err = errors.Join(err, svc.close(context.WithoutCancel(ctx)))
	}()

	for _, locator := range locators {
		if _, err := svc.registry.Register(ctx, locator); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, s := range svc.registry.Sites() {
		info, _ := s.Settings()
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", s.ID, info.SiteName, s.URLPath(), s.OutputPath())
	}

	var wg sync.WaitGroup
	if a.cfg.Watch.Enabled {
		for _, s := range svc.registry.Sites() {
			w, err := watcher.New(
				watcher.WithDebounce(a.cfg.Watch.Debounce.Duration),
				watcher.WithIgnore(a.cfg.Watch.Ignore...),
				watcher.WithLogger(a.logger),
			)
			if err != nil {
				return err
			}
			defer w.Close()

			if err := w.AddRecursive(s.Project.Home); err != nil {
				return fmt.Errorf("watch %s: %w", s.Project.Home, err)
			}
			a.logger.Debug("watching project", "site", s.ID, "home", s.Project.Home, "dirs", len(w.Dirs()))

			wg.Add(1)
			go func(s *site.Site, w *watcher.Watcher) {
				defer wg.Done()
				a.rebuildLoop(ctx, s, w)
			}(s, w)
		}
	}

	a.logger.Info("serving", "sites", len(locators), "watch", a.cfg.Watch.Enabled)
	<-ctx.Done()
	wg.Wait()
	return nil
}

// rebuildLoop rebuilds s for every batch of changes until ctx is done.
func (a *app) rebuildLoop(ctx context.Context, s *site.Site, w *watcher.Watcher) {
	logger := a.logger.With("site", s.ID)
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Batches():
			if !ok {
				return
			}
			logger.Debug("files changed", "paths", batch)
			urls, err := s.Rebuild(ctx, batch)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("rebuild failed", "error", err)
				}
				continue
			}
			logger.Info("rebuilt", "files", len(urls))
		}
	}
}
