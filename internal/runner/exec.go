package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/pelicide/internal/process"
)

// ExecLauncher starts workers as OS processes tracked by a process.Supervisor.
type ExecLauncher struct {
	supervisor *process.Supervisor
}

// NewExecLauncher creates a launcher backed by supervisor. A nil supervisor
// gets a private one.
func NewExecLauncher(supervisor *process.Supervisor) *ExecLauncher {
	if supervisor == nil {
		supervisor = process.NewSupervisor()
	}
	return &ExecLauncher{supervisor: supervisor}
}

// Launch implements Launcher. The worker is not tied to ctx beyond the
// launch itself; it lives until stopped.
func (l *ExecLauncher) Launch(ctx context.Context, spec LaunchSpec) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proc, err := l.supervisor.Launch(process.Spec{
		Name: spec.Name,
		Args: spec.Args,
		Dir:  spec.Dir,
		Env:  spec.Env,
	})
	if err != nil {
		return nil, fmt.Errorf("launch %s: %w", spec.Name, err)
	}
	return &execConn{proc: proc}, nil
}

// execConn adapts a supervised process to Conn.
type execConn struct {
	proc *process.Process
}

func (c *execConn) Read(p []byte) (int, error) {
	return c.proc.Stdout.Read(p)
}

func (c *execConn) Write(p []byte) (int, error) {
	return c.proc.Stdin.Write(p)
}

func (c *execConn) Close() error {
	return c.proc.Stdin.Close()
}

func (c *execConn) Wait() error {
	<-c.proc.Done()
	err := c.proc.ExitError()
	_ = c.proc.Close()
	return err
}

func (c *execConn) Stop(grace time.Duration) error {
	return c.proc.Stop(grace)
}
