package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// quitCommand asks the worker to exit cleanly.
const quitCommand = "quit"

// submission is one queued command waiting for the writer.
type submission struct {
	command string
	args    json.RawMessage
	call    *Call
}

// Call is a submitted command awaiting its reply.
// It is resolved exactly once.
type Call struct {
	Command string

	id      atomic.Int64
	session *Session

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newCall(s *Session, command string) *Call {
	c := &Call{
		Command: command,
		session: s,
		done:    make(chan struct{}),
	}
	c.id.Store(-1)
	return c
}

// ID returns the correlation ID, or -1 if the call has not been written yet.
func (c *Call) ID() int64 {
	return c.id.Load()
}

// Done returns a channel that is closed when the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result waits for the reply. Cancelling ctx only abandons the wait; the
// command itself is not withdrawn from the worker.
func (c *Call) Result(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.session.done:
		// Written calls are resolved before done closes; anything left was
		// still queued when the session ended.
		select {
		case <-c.done:
			return c.result, c.err
		default:
		}
		return nil, c.session.terminalError()
	}
}

func (c *Call) resolve(result json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithGracePeriod sets how long the worker may take to exit after a stop
// request before it is killed.
func WithGracePeriod(d time.Duration) SessionOption {
	return func(s *Session) {
		s.grace = d
	}
}

// WithSessionLogger sets the session logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session multiplexes concurrent callers onto one serial worker
// conversation. Commands are written in submission order by a single writer
// goroutine; replies are matched to callers by correlation ID in whatever
// order the worker emits them.
type Session struct {
	ch     *Channel
	logger *slog.Logger
	grace  time.Duration

	// queue holds at most one submitted-but-unwritten command.
	queue chan submission

	mu      sync.Mutex
	pending map[int64]*Call
	nextID  int64
	closed  bool
	err     error

	ready    *Call
	quitting atomic.Bool
	started  atomic.Bool
	done     chan struct{}
}

// NewSession creates a session over ch. The worker's ready line is
// registered as the implicit request 0; call Run to start the conversation.
func NewSession(ch *Channel, opts ...SessionOption) *Session {
	s := &Session{
		ch:      ch,
		logger:  discardLogger(),
		grace:   5 * time.Second,
		queue:   make(chan submission, 1),
		pending: make(map[int64]*Call),
		nextID:  readyID + 1,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ready = newCall(s, "ready")
	s.ready.id.Store(readyID)
	s.pending[readyID] = s.ready
	return s
}

// Ready waits for the worker's initial settings.
func (s *Session) Ready(ctx context.Context) (json.RawMessage, error) {
	return s.ready.Result(ctx)
}

// Done returns a channel that is closed once the session has terminated
// and every outstanding call has been resolved.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session terminated, or nil while it is running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Submit queues a command. It blocks while another submission is waiting to
// be written. The returned Call resolves with the worker's reply.
func (s *Session) Submit(ctx context.Context, command string, args any) (*Call, error) {
	if err := validateCommand(command); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", command, err)
	}

	select {
	case <-s.done:
		return nil, s.terminalError()
	default:
	}

	call := newCall(s, command)

	select {
	case s.queue <- submission{command: command, args: raw, call: call}:
		return call, nil
	case <-s.done:
		return nil, s.terminalError()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the conversation until the worker's output ends, a protocol
// violation occurs or ctx is cancelled. On return the worker has exited and
// every outstanding call has failed with ErrSessionTerminated.
//
// Run returns nil when the session ended on request (ctx cancelled or the
// worker acknowledged quit), and the cause otherwise.
func (s *Session) Run(ctx context.Context) error {
	if s.started.Swap(true) {
		return errors.New("session already running")
	}

	readDone := make(chan error, 1)
	go func() {
		readDone <- s.readLoop()
	}()

	writeCtx, stopWriter := context.WithCancel(context.Background())
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeLoop(writeCtx)
	}()

	var cause error
	cancelled := false
	select {
	case cause = <-readDone:
	case <-ctx.Done():
		cancelled = true
	}

	// A worker whose output ended is usually exiting on its own.
	if !cancelled && errors.Is(cause, io.EOF) {
		s.awaitExit()
	}

	// The worker is stopped before the writer is waited on: a hung worker
	// that stopped reading stdin would otherwise block the writer forever.
	if err := s.ch.Stop(s.grace); err != nil {
		s.logger.Debug("stop worker", "error", err)
	}
	if cancelled {
		cause = <-readDone
	}
	stopWriter()
	<-writeDone

	exitErr := s.ch.Wait()

	var result error
	switch {
	case cancelled:
		result = nil
	case errors.Is(cause, io.EOF):
		if !s.quitting.Load() {
			if exitErr != nil {
				result = fmt.Errorf("%w: %v", ErrWorkerExited, exitErr)
			} else {
				result = ErrWorkerExited
			}
		}
	default:
		result = cause
	}

	s.terminate(result)
	return result
}

// awaitExit gives the worker up to the grace period to exit by itself.
func (s *Session) awaitExit() {
	exited := make(chan struct{})
	go func() {
		_ = s.ch.Wait()
		close(exited)
	}()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
	}
}

// writeLoop hands queued submissions to the channel in order.
func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-s.queue:
			id, ok := s.register(sub.call)
			if !ok {
				sub.call.resolve(nil, s.terminalError())
				continue
			}
			if err := s.ch.WriteRequest(id, sub.command, sub.args); err != nil {
				s.mu.Lock()
				delete(s.pending, id)
				s.mu.Unlock()
				sub.call.resolve(nil, fmt.Errorf("%w: %v", ErrSessionTerminated, err))
				s.logger.Debug("write request failed", "id", id, "command", sub.command, "error", err)
				continue
			}
			// Run reads this only after the writer has exited.
			if sub.command == quitCommand {
				s.quitting.Store(true)
			}
		}
	}
}

// register assigns the next correlation ID and records the pending entry
// before the request reaches the wire.
func (s *Session) register(call *Call) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false
	}
	id := s.nextID
	s.nextID++
	call.id.Store(id)
	s.pending[id] = call
	return id, true
}

// readLoop resolves pending calls until the output ends or breaks protocol.
func (s *Session) readLoop() error {
	for {
		reply, err := s.ch.ReadReply()
		if err != nil {
			return err
		}

		s.mu.Lock()
		call, ok := s.pending[reply.ID]
		if ok {
			delete(s.pending, reply.ID)
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Warn("reply for unknown request", "id", reply.ID)
			return &ProtocolError{
				Line: fmt.Sprintf("%d %s", reply.ID, reply.Payload),
				Err:  ErrUnknownID,
			}
		}

		if reply.OK {
			call.resolve(reply.Payload, nil)
		} else {
			call.resolve(nil, &CommandError{
				Command: call.Command,
				ID:      reply.ID,
				Payload: reply.Payload,
			})
		}
	}
}

// terminate fails every outstanding call and marks the session done.
func (s *Session) terminate(cause error) {
	s.mu.Lock()
	s.closed = true
	s.err = cause
	pending := s.pending
	s.pending = make(map[int64]*Call)
	s.mu.Unlock()

	failure := s.terminalError()
	for _, call := range pending {
		call.resolve(nil, failure)
	}

drain:
	for {
		select {
		case sub := <-s.queue:
			sub.call.resolve(nil, failure)
		default:
			break drain
		}
	}

	close(s.done)
}

// terminalError is the error handed to callers once the session is over.
func (s *Session) terminalError() error {
	s.mu.Lock()
	cause := s.err
	s.mu.Unlock()

	if cause == nil {
		return ErrSessionTerminated
	}
	return fmt.Errorf("%w: %v", ErrSessionTerminated, cause)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
