// Package runner bridges a long-lived service to an isolated worker
// subprocess that speaks a newline-delimited command protocol.
//
// # Protocol
//
// Every message is one UTF-8 line. Requests carry a correlation ID, a
// command name and a JSON array or value of arguments:
//
//	7 build null
//	8 render ["markdown","# hi"]
//
// Replies echo the ID followed by "+" for success or "-" for failure and a
// JSON payload:
//
//	7 + {"index.md":"/index.html"}
//	8 - "unsupported format"
//
// The worker's first output line is the reply to the implicit request 0 and
// carries its initial settings.
//
// # Layers
//
//   - Channel owns the worker's byte streams and encodes/decodes lines.
//   - Session multiplexes concurrent callers onto the channel. A single
//     writer goroutine drains a one-slot submission queue so commands reach
//     the worker in submission order; a single reader goroutine resolves
//     replies by ID in any order. When the worker exits or the session is
//     cancelled, every outstanding Call fails with ErrSessionTerminated.
//   - Runner owns the Stopped → Starting → Running → Stopping lifecycle and
//     replaces sessions across Start, Stop and Restart.
//
// # Usage
//
//	r := runner.New(runner.Config{
//	    Interpreter: "/project/.venv/bin/python",
//	    Script:      "/usr/share/pelicide/pelican-runner.py",
//	    ConfigPath:  "/project/pelicanconf.py",
//	    InitSettings: map[string]any{"OUTPUT_PATH": out},
//	})
//	if err := r.Start(ctx); err != nil {
//	    return err
//	}
//	defer r.Stop(context.Background())
//
//	result, err := r.Command(ctx, "build", nil)
//
// Nothing is retried automatically. A crashed worker leaves the Runner
// stopped; callers decide whether to Start it again.
package runner
