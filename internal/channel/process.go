package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// shutdownGrace is how long Close waits for the native host to exit after
// its stdin has been closed before killing it.
const shutdownGrace = 2 * time.Second

// Process is a Channel to a launched native host.
type Process struct {
	*Stream

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *io.PipeWriter
	tail   *stderrTail
	logger *logrus.Logger

	waitOnce sync.Once
	waitErr  error
}

// ConnectNative launches the native host at path and attaches a Stream to its
// stdin/stdout. Anything the host writes to stderr is logged, and the last
// few kilobytes are kept for Stderr.
func ConnectNative(ctx context.Context, path string, args []string, logger *logrus.Logger) (*Process, error) {
	if path == "" {
		return nil, errors.New("native host path is not configured")
	}
	if logger == nil {
		logger = logrus.New()
	}

	cmd := exec.Command(path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open native host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open native host stdout: %w", err)
	}

	stderr := logger.WithField("native_host", path).WriterLevel(logrus.WarnLevel)
	tail := newStderrTail(defaultStderrTail)
	cmd.Stderr = io.MultiWriter(stderr, tail)

	if err := cmd.Start(); err != nil {
		_ = stderr.Close()
		return nil, fmt.Errorf("failed to start native host %q: %w", path, err)
	}

	logger.WithFields(logrus.Fields{
		"path": path,
		"pid":  cmd.Process.Pid,
	}).Info("Native host started")

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		tail:   tail,
		logger: logger,
	}
	p.Stream = NewStream(ctx, stdout, stdin, closerFunc(p.shutdown), logger)
	return p, nil
}

// Pid returns the process id of the native host.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stderr returns the tail of what the native host wrote to stderr.
func (p *Process) Stderr() string {
	return p.tail.String()
}

// Wait blocks until the native host has exited.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		_ = p.stderr.Close()

		entry := p.logger.WithError(p.waitErr).WithField("pid", p.cmd.Process.Pid)
		if tail := p.tail.String(); tail != "" && p.waitErr != nil {
			entry = entry.WithField("stderr", tail)
		}
		entry.Info("Native host exited")
	})
	return p.waitErr
}

func (p *Process) shutdown() error {
	// EOF on stdin is the host's signal to exit.
	_ = p.stdin.Close()

	exited := make(chan error, 1)
	go func() { exited <- p.Wait() }()

	select {
	case err := <-exited:
		return ignoreExitError(err)
	case <-time.After(shutdownGrace):
		p.logger.WithField("pid", p.cmd.Process.Pid).Warn("Native host did not exit, killing it")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill native host: %w", err)
		}
		return ignoreExitError(<-exited)
	}
}

func ignoreExitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
