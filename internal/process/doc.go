// Package process launches and supervises worker subprocesses.
//
// A Supervisor starts each worker with its own stdin/stdout pipes, forwards
// the worker's stderr to a structured logger line by line, and tracks every
// live process so that stragglers can be cleaned up at shutdown.
//
//	supervisor := process.NewSupervisor(process.WithLogger(logger))
//	defer supervisor.Shutdown(5 * time.Second)
//
//	proc, err := supervisor.Launch(process.Spec{
//	    Name: "site",
//	    Args: []string{"python3", "runner.py", "pelicanconf.py", "{}"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer proc.Stop(5 * time.Second)
//
// # Pipes
//
// Stdout and stderr are backed by os.Pipe rather than exec.Cmd's pipe
// helpers, so reaping the process never closes the read side under a reader
// that is still draining buffered output. Readers see io.EOF once the worker
// has exited and its output is consumed.
//
// # Stopping
//
// Process.Stop sends SIGTERM, waits up to the grace period and then sends
// SIGKILL. Supervisor.Shutdown does the same for every tracked process.
//
// # Thread Safety
//
// Both Supervisor and Process are safe for concurrent use.
package process
