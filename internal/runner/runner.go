package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Runner.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Config defines how to start a worker.
type Config struct {
	// Name labels the worker in logs.
	Name string

	// Interpreter runs the worker entry point (e.g. a venv python).
	Interpreter string

	// Script is the worker entry point.
	Script string

	// ConfigPath locates the project configuration handed to the worker.
	ConfigPath string

	// InitSettings are serialized to JSON and passed as the last argument.
	InitSettings map[string]any

	// Dir is the worker's working directory.
	Dir string

	// Env holds extra KEY=VALUE pairs for the worker.
	Env []string

	// StartTimeout bounds the wait for the ready reply (default: 60s).
	StartTimeout time.Duration

	// QuitTimeout bounds the wait for the quit acknowledgement (default: 5s).
	QuitTimeout time.Duration

	// GracePeriod is how long the worker may take to exit before it is
	// killed (default: 5s).
	GracePeriod time.Duration
}

// Args returns the worker's argument list.
func (c Config) Args() ([]string, error) {
	init := c.InitSettings
	if init == nil {
		init = map[string]any{}
	}
	data, err := json.Marshal(init)
	if err != nil {
		return nil, fmt.Errorf("marshal init settings: %w", err)
	}
	return []string{c.Interpreter, c.Script, c.ConfigPath, string(data)}, nil
}

// Option configures a Runner.
type Option func(*Runner)

// WithLauncher sets the launcher used to start worker processes.
func WithLauncher(l Launcher) Option {
	return func(r *Runner) {
		r.launcher = l
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStateCallback registers a callback invoked after every state change.
// It runs on the goroutine that caused the change and must not block.
func WithStateCallback(fn func(from, to State)) Option {
	return func(r *Runner) {
		r.onState = fn
	}
}

// Runner owns the lifecycle of one worker. It exposes a stable handle that
// outlives individual worker processes: Start, Stop and Restart replace the
// underlying Session while Command always talks to the current one.
//
// Runner is safe for concurrent use.
type Runner struct {
	config   Config
	launcher Launcher
	logger   *slog.Logger
	onState  func(from, to State)

	// opMu serializes Start, Stop and Restart.
	opMu sync.Mutex

	mu          sync.Mutex
	session     *Session
	cancel      context.CancelFunc
	abortStart  context.CancelCauseFunc
	monitorDone chan struct{}
	settings    json.RawMessage

	state atomic.Int32
}

// New creates a stopped runner.
func New(config Config, opts ...Option) *Runner {
	if config.StartTimeout <= 0 {
		config.StartTimeout = 60 * time.Second
	}
	if config.QuitTimeout <= 0 {
		config.QuitTimeout = 5 * time.Second
	}
	if config.GracePeriod <= 0 {
		config.GracePeriod = 5 * time.Second
	}
	if config.Name == "" {
		config.Name = "worker"
	}

	r := &Runner{
		config: config,
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.launcher == nil {
		r.launcher = NewExecLauncher(nil)
	}
	r.logger = r.logger.With("worker", config.Name)
	r.state.Store(int32(StateStopped))
	return r
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Settings returns the settings from the most recent ready reply.
func (r *Runner) Settings() json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Start launches a worker and waits for its ready reply.
// It fails with ErrAlreadyStarted unless the runner is stopped, and with a
// *StartupError if the worker never becomes ready.
func (r *Runner) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.startLocked(ctx)
}

// Stop asks the worker to quit, tears the session down and waits for the
// process to exit. Teardown runs to completion even if ctx is cancelled;
// ctx only bounds the quit handshake. Stop is a no-op when already stopped.
//
// A Start in progress is aborted and fails with ErrStartAborted.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	abort := r.abortStart
	r.mu.Unlock()
	if abort != nil && r.transition(StateStarting, StateStopping) {
		abort(ErrStartAborted)
	}

	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.stopLocked(ctx)
}

// Restart stops the current worker, if any, and starts a fresh one.
// Commands issued while it runs fail with ErrNotRunning.
func (r *Runner) Restart(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	if err := r.stopLocked(ctx); err != nil {
		return err
	}
	return r.startLocked(ctx)
}

// Command sends a command to the running worker and waits for its reply.
// It fails immediately with ErrNotRunning when no session is active. A
// worker-reported failure is returned as *CommandError.
func (r *Runner) Command(ctx context.Context, name string, args any) (json.RawMessage, error) {
	if r.State() != StateRunning {
		return nil, ErrNotRunning
	}

	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session == nil {
		return nil, ErrNotRunning
	}

	call, err := session.Submit(ctx, name, args)
	if err != nil {
		return nil, err
	}
	return call.Result(ctx)
}

func (r *Runner) startLocked(ctx context.Context) error {
	if r.State() != StateStopped {
		return ErrAlreadyStarted
	}

	// A crashed session's monitor may still be finishing up.
	r.mu.Lock()
	prev := r.monitorDone
	r.monitorDone = nil
	r.mu.Unlock()
	if prev != nil {
		<-prev
	}

	startCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	r.mu.Lock()
	r.abortStart = abort
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.abortStart = nil
		r.mu.Unlock()
	}()

	r.setState(StateStarting)

	args, err := r.config.Args()
	if err != nil {
		r.setState(StateStopped)
		return &StartupError{Err: err}
	}

	conn, err := r.launcher.Launch(startCtx, LaunchSpec{
		Name: r.config.Name,
		Args: args,
		Dir:  r.config.Dir,
		Env:  r.config.Env,
	})
	if err != nil {
		r.setState(StateStopped)
		return &StartupError{Err: startCause(startCtx, err)}
	}

	session := NewSession(NewChannel(conn),
		WithGracePeriod(r.config.GracePeriod),
		WithSessionLogger(r.logger),
	)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	r.mu.Lock()
	r.session = session
	r.cancel = cancel
	r.monitorDone = done
	r.mu.Unlock()

	go r.monitor(runCtx, session, done)

	readyCtx, cancelReady := context.WithTimeout(startCtx, r.config.StartTimeout)
	defer cancelReady()

	settings, err := session.Ready(readyCtx)
	if err != nil {
		r.abandon(cancel, done)
		return &StartupError{Err: startCause(startCtx, err)}
	}

	r.mu.Lock()
	r.settings = settings
	r.mu.Unlock()

	if !r.transition(StateStarting, StateRunning) {
		// Either the worker died right after becoming ready or Stop
		// aborted the start.
		r.abandon(cancel, done)
		return &StartupError{Err: startCause(startCtx, ErrSessionTerminated)}
	}
	r.logger.Info("worker ready")
	return nil
}

// abandon tears down a session that never reached Running.
func (r *Runner) abandon(cancel context.CancelFunc, done chan struct{}) {
	cancel()
	<-done
	r.mu.Lock()
	r.monitorDone = nil
	r.mu.Unlock()
	r.setState(StateStopped)
}

// startCause reports ErrStartAborted when Stop interrupted the start.
func startCause(startCtx context.Context, err error) error {
	if cause := context.Cause(startCtx); errors.Is(cause, ErrStartAborted) {
		return cause
	}
	return err
}

func (r *Runner) stopLocked(ctx context.Context) error {
	r.mu.Lock()
	session, cancel, done := r.session, r.cancel, r.monitorDone
	r.mu.Unlock()

	if done == nil {
		r.setState(StateStopped)
		return nil
	}

	accepting := r.transition(StateRunning, StateStopping)

	if accepting && session != nil {
		quitCtx, cancelQuit := context.WithTimeout(ctx, r.config.QuitTimeout)
		if call, err := session.Submit(quitCtx, quitCommand, nil); err == nil {
			if _, err := call.Result(quitCtx); err != nil {
				r.logger.Debug("quit not acknowledged", "error", err)
			}
		}
		cancelQuit()
	}

	if cancel != nil {
		cancel()
	}
	<-done

	r.mu.Lock()
	r.monitorDone = nil
	r.mu.Unlock()
	r.setState(StateStopped)
	return nil
}

// monitor runs the session and records its end.
func (r *Runner) monitor(ctx context.Context, session *Session, done chan struct{}) {
	defer close(done)

	err := session.Run(ctx)

	r.mu.Lock()
	current := r.session == session
	if current {
		r.session = nil
		r.cancel = nil
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("worker exited", "error", err)
	} else {
		r.logger.Debug("worker stopped")
	}

	if current {
		r.setState(StateStopped)
	}
}

func (r *Runner) setState(to State) {
	from := State(r.state.Swap(int32(to)))
	if from != to && r.onState != nil {
		r.onState(from, to)
	}
}

func (r *Runner) transition(from, to State) bool {
	if !r.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if r.onState != nil {
		r.onState(from, to)
	}
	return true
}
