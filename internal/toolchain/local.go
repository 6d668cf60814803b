package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var _ Runner = (*Local)(nil)

// Local runs commands as child processes of the server.
type Local struct {
	logger *slog.Logger
	// waitDelay bounds how long Wait blocks on inherited pipes after a kill.
	waitDelay time.Duration
}

// NewLocal creates a Local runner.
func NewLocal(logger *slog.Logger) *Local {
	return &Local{logger: logger, waitDelay: 2 * time.Second}
}

// lockedBuffer lets stdout and stderr share one buffer. exec only serialises
// writes when both point at the same *os.File, which is not the case once
// the buffer is behind an io.MultiWriter.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	out io.Writer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out != nil {
		if _, err := b.out.Write(p); err != nil {
			return 0, err
		}
	}
	return b.buf.Write(p)
}

// Run starts cmd and waits for it to exit or time out.
func (l *Local) Run(ctx context.Context, cmd Command) (*Result, error) {
	runCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = l.waitDelay
	c.Env = os.Environ()
	for k, v := range cmd.Env {
		c.Env = append(c.Env, k+"="+v)
	}

	sink := &lockedBuffer{}
	if cmd.OutputFile != "" {
		f, err := os.Create(cmd.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		sink.out = f
	}
	c.Stdout = sink
	c.Stderr = sink

	l.logger.Debug("running command",
		slog.String("dir", cmd.Dir),
		slog.String("name", cmd.Name),
		slog.Any("args", cmd.Args),
		slog.Duration("timeout", cmd.Timeout),
	)

	start := time.Now()
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", cmd.Name, err)
	}
	err := c.Wait()

	res := &Result{Duration: time.Since(start)}
	sink.mu.Lock()
	res.Output = sink.buf.String()
	sink.mu.Unlock()

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = TimeoutExitCode
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			res.ExitCode = -1
		}
	}

	return res, nil
}
