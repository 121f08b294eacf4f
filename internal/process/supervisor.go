package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Spec describes a worker process to launch.
type Spec struct {
	// Name labels the process in logs and lookups.
	Name string

	// Args is the full argument list; Args[0] is the executable.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
}

// Supervisor launches worker processes and tracks them until they exit.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	closed atomic.Bool

	// wg tracks monitor goroutines so Shutdown can wait for cleanup.
	wg sync.WaitGroup

	// maxProcesses limits concurrent processes (0 = unlimited).
	maxProcesses int

	logger        *slog.Logger
	onProcessExit func(p *Process)
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses sets the maximum number of concurrent processes.
// A value of 0 (default) means unlimited.
func WithMaxProcesses(max int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = max
	}
}

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// WithLogger sets the logger that receives worker stderr and exit events.
func WithLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch builds a command from spec and starts it.
func (s *Supervisor) Launch(spec Spec) (*Process, error) {
	if len(spec.Args) == 0 {
		return nil, errors.New("launch: empty argument list")
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	name := spec.Name
	if name == "" {
		name = spec.Args[0]
	}
	return s.track(uuid.NewString(), name, cmd)
}

// track starts cmd and records it under id until it exits.
// It fails with ErrSupervisorShutdown once Shutdown has begun and with
// ErrProcessLimit when the configured limit is reached.
func (s *Supervisor) track(id, name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := NewProcess(id, name, cmd)
	if err := proc.start(); err != nil {
		return nil, err
	}

	s.processes[id] = proc
	s.logger.Debug("process started", "name", name, "id", id, "pid", proc.PID())

	s.wg.Add(2)
	go s.forwardStderr(proc)
	go s.monitorProcess(proc)

	return proc, nil
}

// forwardStderr logs each stderr line of the worker.
func (s *Supervisor) forwardStderr(proc *Process) {
	defer s.wg.Done()
	defer proc.stderr.Close()

	scanner := bufio.NewScanner(proc.stderr)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("worker stderr", "name", proc.Name, "line", scanner.Text())
	}
}

// monitorProcess waits for exit and stops tracking the process.
func (s *Supervisor) monitorProcess(proc *Process) {
	defer s.wg.Done()
	<-proc.Done()

	s.logger.Debug("process exited",
		"name", proc.Name,
		"id", proc.ID,
		"code", proc.ExitCode(),
		"state", proc.State().String(),
		"runtime", proc.Runtime(),
	)

	if s.onProcessExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("process exit callback panicked", "panic", r)
				}
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// List returns all tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Shutdown stops accepting new processes, sends SIGTERM to every tracked
// process, waits up to timeout and kills whatever is left. It blocks until
// all processes have exited and been untracked.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	already := s.closed.Swap(true)
	s.mu.Unlock()
	if already {
		return
	}

	procs := s.List()
	if len(procs) > 0 {
		s.logger.Debug("stopping processes", "count", len(procs))
	}
	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			if err := p.Stop(timeout); err != nil {
				s.logger.Warn("stop process", "name", p.Name, "error", err)
			}
		}(p)
	}
	wg.Wait()
	s.wg.Wait()
}

// Sentinel errors.
var (
	// ErrProcessLimit is returned when the process limit is reached.
	ErrProcessLimit = errors.New("process limit reached")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")
)
