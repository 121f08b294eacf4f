// Package cli implements the pelicide command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/pelicide/internal/config"
	"github.com/dshills/pelicide/internal/process"
	"github.com/dshills/pelicide/internal/project"
	"github.com/dshills/pelicide/internal/runner"
	"github.com/dshills/pelicide/internal/site"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	logLevel    string
	python      string
	script      string
	scratchRoot string
}

// app carries what a command needs once flags and configuration are loaded.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	stderr io.Writer
}

// newRootCmd builds the command tree. stderr receives log output.
func newRootCmd(stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	a := &app{stderr: stderr}

	root := &cobra.Command{
		Use:   "pelicide",
		Short: "Pelican site workers for live editing",
		Long: `pelicide runs one pelican worker process per project and keeps its
output built while you edit.

Projects are given as a directory, a pelican configuration file or a
pelicide.toml/pelicide.yaml project file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd, flags)
		},
	}
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", config.DefaultPath(), "configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.python, "python", "", "fallback python interpreter")
	pf.StringVar(&flags.script, "script", "", "worker entry point (pelican-runner.py)")
	pf.StringVar(&flags.scratchRoot, "scratch-root", "", "parent directory for site scratch directories")

	root.AddCommand(
		newServeCmd(a),
		newScanCmd(a),
		newRenderCmd(a),
		newSettingCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration, applies flags that were set explicitly and
// builds the logger.
func (a *app) load(cmd *cobra.Command, flags *globalFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	fs := cmd.Flags()
	if fs.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if fs.Changed("python") {
		cfg.Runner.Python = flags.python
	}
	if fs.Changed("script") {
		cfg.Runner.Script = flags.script
	}
	if fs.Changed("scratch-root") {
		cfg.ScratchRoot = flags.scratchRoot
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	return nil
}

// services is the per-invocation wiring of supervisor and registry.
type services struct {
	supervisor *process.Supervisor
	registry   *site.Registry
	grace      time.Duration
}

// newServices wires a registry whose workers run under one supervisor.
func (a *app) newServices() (*services, error) {
	script, err := a.cfg.ScriptPath()
	if err != nil {
		return nil, err
	}

	logger := a.logger
	supervisor := process.NewSupervisor(
		process.WithLogger(logger),
		process.WithMaxProcesses(a.cfg.Runner.MaxWorkers),
		process.WithProcessExitCallback(a.logWorkerExit),
	)
	launcher := runner.NewExecLauncher(supervisor)

	registry := site.NewRegistry(
		site.WithLogger(logger),
		site.WithScratchRoot(a.cfg.ScratchRoot),
		site.WithResolver(project.NewResolver(project.WithDefaultInterpreter(a.cfg.Runner.Python))),
		site.WithRunnerConfig(runner.Config{
			Script:       script,
			StartTimeout: a.cfg.Runner.StartTimeout.Duration,
			QuitTimeout:  a.cfg.Runner.QuitTimeout.Duration,
			GracePeriod:  a.cfg.Runner.GracePeriod.Duration,
		}),
		site.WithWorkerFactory(func(cfg runner.Config) site.Worker {
			return runner.New(cfg,
				runner.WithLauncher(launcher),
				runner.WithLogger(logger),
				runner.WithStateCallback(func(from, to runner.State) {
					logger.Debug("worker state", "worker", cfg.Name, "from", from.String(), "to", to.String())
				}),
			)
		}),
	)

	return &services{
		supervisor: supervisor,
		registry:   registry,
		grace:      a.cfg.Runner.GracePeriod.Duration,
	}, nil
}

// logWorkerExit logs every worker exit; non-zero codes are logged at info.
func (a *app) logWorkerExit(p *process.Process) {
	level := slog.LevelDebug
	if p.ExitCode() != 0 {
		level = slog.LevelInfo
	}
	a.logger.Log(context.Background(), level, "worker process exited",
		"worker", p.Name,
		"pid", p.PID(),
		"code", p.ExitCode(),
		"runtime", p.Runtime().Round(time.Millisecond),
	)
}

// close tears down every site and then any worker process still alive.
func (s *services) close(ctx context.Context) error {
	err := s.registry.Teardown(ctx)
	s.supervisor.Shutdown(s.grace)
	return err
}

// withSite registers one project, runs fn against it and tears it down.
func (a *app) withSite(ctx context.Context, locator string, fn func(context.Context, *site.Site) error) (err error) {
	svc, err := a.newServices()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	id, err := svc.registry.Register(ctx, locator)
	if err != nil {
		return err
	}
	s, _ := svc.registry.Get(id)
	return fn(ctx, s)
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := newRootCmd(os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "pelicide: %v\n", err)
		return 1
	}
	return 0
}
