// Package handler drives an RPC library under test through a handler process.
// The handler hosts the client and server of the library and speaks a line
// oriented JSON protocol on its stdin and stdout.
package handler

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const maxLineSize = 4 * 1024 * 1024

var (
	// ErrHandlerTimeout indicates the handler did not respond within the timeout
	ErrHandlerTimeout = errors.New("handler timeout")
	// ErrHandlerClosed indicates the handler closed stdout unexpectedly
	ErrHandlerClosed = errors.New("handler closed unexpectedly")
)

// Config configures a handler process
type Config struct {
	Path string
	Args []string
	Env  []string
	// Timeout bounds each ReadLine. Zero waits indefinitely.
	Timeout time.Duration
}

// Handler manages a handler process communicating via stdin/stdout
type Handler struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser
	timeout time.Duration
}

// NewHandler spawns a new handler process with the given configuration
func NewHandler(cfg Config) (*Handler, error) {
	cmd := exec.Command(cfg.Path, cfg.Args...)
	if cfg.Env != nil {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	// Start() closes all pipes on failure
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start handler: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &Handler{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  scanner,
		stderr:  stderr,
		timeout: cfg.Timeout,
	}, nil
}

// SendLine writes a line to the handler's stdin
func (h *Handler) SendLine(line []byte) error {
	_, err := h.stdin.Write(append(line, '\n'))
	return err
}

// ReadLine reads a line from the handler's stdout. The returned slice is only
// valid until the next call.
func (h *Handler) ReadLine() ([]byte, error) {
	var baseErr error
	if h.timeout <= 0 {
		if h.stdout.Scan() {
			return h.stdout.Bytes(), nil
		}
		if err := h.stdout.Err(); err != nil {
			return nil, err
		}
		baseErr = ErrHandlerClosed
	} else {
		scanDone := make(chan bool, 1)
		go func() {
			scanDone <- h.stdout.Scan()
		}()

		select {
		case ok := <-scanDone:
			if ok {
				return h.stdout.Bytes(), nil
			}
			if err := h.stdout.Err(); err != nil {
				return nil, err
			}
			baseErr = ErrHandlerClosed
		case <-time.After(h.timeout):
			baseErr = ErrHandlerTimeout
		}
	}

	// Kill the process so stderr closes; a handler can close stdout and keep
	// stderr open, which would block the read below.
	if h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}

	if stderrOut, err := io.ReadAll(h.stderr); err == nil && len(stderrOut) > 0 {
		return nil, fmt.Errorf("%w: %s", baseErr, bytes.TrimSpace(stderrOut))
	}
	return nil, baseErr
}

// Close closes stdin and waits for the handler to exit with a 5-second timeout.
// If the handler doesn't exit within the timeout, it is killed.
func (h *Handler) Close() {
	if h.stdin != nil {
		// The handler exits cleanly when stdin closes
		h.stdin.Close()
	}
	if h.cmd != nil {
		done := make(chan error, 1)
		go func() {
			done <- h.cmd.Wait()
		}()

		select {
		case err := <-done:
			if err != nil {
				slog.Warn("Handler exit with error", "error", err)
			}
		case <-time.After(5 * time.Second):
			slog.Warn("Handler did not exit within a 5-second timeout, killing process")
			if h.cmd.Process != nil {
				h.cmd.Process.Kill()
				h.cmd.Wait()
			}
		}
	}
}
