package runner

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Standard errors returned by the runner.
var (
	// ErrNotRunning indicates a command was issued while no worker session is active.
	ErrNotRunning = errors.New("runner not running")

	// ErrAlreadyStarted indicates Start was called on a runner that is not stopped.
	ErrAlreadyStarted = errors.New("runner already started")

	// ErrStartAborted indicates Stop was called while the worker was starting.
	ErrStartAborted = errors.New("worker start aborted")

	// ErrSessionTerminated indicates the worker session ended before a reply arrived.
	ErrSessionTerminated = errors.New("worker session terminated")

	// ErrWorkerExited indicates the worker process exited without being asked to.
	ErrWorkerExited = errors.New("worker exited unexpectedly")

	// ErrUnknownID indicates a reply referenced a correlation ID with no pending request.
	ErrUnknownID = errors.New("reply for unknown request id")

	// ErrEmptyCommand indicates a command name was empty.
	ErrEmptyCommand = errors.New("empty command name")
)

// CommandError is a failure reported by the worker for a single command.
type CommandError struct {
	Command string
	ID      int64
	Payload json.RawMessage
}

// Error implements the error interface.
func (e *CommandError) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("command %s (#%d) failed: %s", e.Command, e.ID, msg)
	}
	return fmt.Sprintf("command %s (#%d) failed: %s", e.Command, e.ID, string(e.Payload))
}

// Message returns the payload as a string when the worker sent a JSON string.
func (e *CommandError) Message() string {
	var msg string
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return ""
	}
	return msg
}

// StartupError indicates the worker never produced its ready reply.
type StartupError struct {
	Err error
}

// Error implements the error interface.
func (e *StartupError) Error() string {
	return fmt.Sprintf("worker startup: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StartupError) Unwrap() error {
	return e.Err
}

// ProtocolError is a fatal violation of the line protocol by the worker.
type ProtocolError struct {
	Line string
	Err  error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v (line %q)", e.Err, e.Line)
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}
