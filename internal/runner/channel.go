package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// Conn is a launched worker: its stdout is read through Read, its stdin is
// written through Write and closed through Close.
type Conn interface {
	io.Reader
	io.WriteCloser

	// Wait blocks until the worker process has exited and returns its exit error.
	Wait() error

	// Stop asks the worker to exit and kills it if it is still alive after grace.
	// It returns once the process is gone.
	Stop(grace time.Duration) error
}

// LaunchSpec describes how to start one worker process.
type LaunchSpec struct {
	// Name labels the process in logs.
	Name string

	// Args is the full argument list; Args[0] is the executable.
	Args []string

	// Dir is the working directory of the worker.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Conn, error)
}

// Channel owns one worker conversation and speaks the line protocol over it.
// Writes are flushed per line. Reads are line buffered and not safe for
// concurrent use; a session has exactly one reader.
type Channel struct {
	conn Conn
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
}

// NewChannel wraps a launched worker.
func NewChannel(conn Conn) *Channel {
	return &Channel{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 64*1024),
		w:    bufio.NewWriter(conn),
	}
}

// WriteRequest writes a single request line and flushes it.
func (c *Channel) WriteRequest(id int64, command string, args json.RawMessage) error {
	line, err := encodeRequest(id, command, args)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, err := c.w.Write(line); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush request: %w", err)
	}
	return nil
}

// ReadReply blocks for the next reply line. It returns io.EOF once the
// worker's output is closed and a *ProtocolError for malformed lines.
func (c *Channel) ReadReply() (Reply, error) {
	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) > 0 && !isBlank(line) {
			return decodeReply(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return Reply{}, io.EOF
			}
			return Reply{}, fmt.Errorf("read reply: %w", err)
		}
	}
}

// CloseInput closes the worker's stdin.
func (c *Channel) CloseInput() error {
	return c.conn.Close()
}

// Stop terminates the worker, waiting up to grace before killing it.
func (c *Channel) Stop(grace time.Duration) error {
	_ = c.conn.Close()
	return c.conn.Stop(grace)
}

// Wait blocks until the worker exits.
func (c *Channel) Wait() error {
	return c.conn.Wait()
}

func isBlank(line []byte) bool {
	for _, b := range line {
		if b != '\n' && b != '\r' && b != ' ' && b != '\t' {
			return false
		}
	}
	return true
}
