// Package docker runs toolchain commands inside pre-warmed Docker containers.
//
// Each container bind-mounts the sandbox temp root and the shared
// node_modules directory at their host paths. A command therefore runs with
// WorkingDir set to the session directory exactly as the local runner would,
// and whatever tsc or jest writes lands in the host workspace. A container
// serves one command and is force-removed afterwards, which is also how a
// timed-out command is killed.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/tsbox/internal/toolchain"
)

var _ toolchain.Runner = (*Runner)(nil)

// Runner implements toolchain.Runner using Docker.
type Runner struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New creates a Runner, pulls the image and starts the container pool.
func New(cfg Config, logger *slog.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	// Make sure the image is pulled
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	io.Copy(io.Discard, reader)
	logger.Info("docker image is ready")

	r := &Runner{
		cli:    cli,
		config: cfg,
		logger: logger,
	}

	r.pool = NewPool(cli, cfg, logger)
	r.pool.Start()

	return r, nil
}

// Close shuts down the pool and the docker client.
func (r *Runner) Close() error {
	r.pool.Stop()
	return r.cli.Close()
}

// Run executes cmd inside a pooled container.
func (r *Runner) Run(ctx context.Context, cmd toolchain.Command) (*toolchain.Result, error) {
	start := time.Now()

	containerID, err := r.pool.GetContainer(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}

	// Always remove the container we acquired. For a timed-out command this
	// is the hard kill.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), containerTimeout)
		defer cancel()

		err := r.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			r.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	executeCtx := ctx
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		executeCtx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	execResp, err := r.cli.ContainerExecCreate(executeCtx, containerID, container.ExecOptions{
		User:         r.config.User,
		AttachStdout: true,
		AttachStderr: true,
		WorkingDir:   cmd.Dir,
		Env:          envList(cmd.Env),
		Cmd:          append([]string{cmd.Name}, cmd.Args...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := r.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var merged lockedBuffer
	var sink io.Writer = &merged
	if cmd.OutputFile != "" {
		f, err := os.Create(cmd.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		sink = io.MultiWriter(f, &merged)
	}
	// StdCopy writes frames from a single goroutine, so stdout and stderr can
	// share the sink and keep their relative order.
	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(sink, sink, attachResp.Reader)
		close(done)
	}()

	res := &toolchain.Result{}

	select {
	case <-done:
		inspectResp, err := r.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			res.ExitCode = -1
		} else {
			res.ExitCode = inspectResp.ExitCode
		}
	case <-executeCtx.Done():
		res.TimedOut = true
		res.ExitCode = toolchain.TimeoutExitCode
		// Unblock StdCopy before reading the buffer.
		attachResp.Close()
		<-done
	}

	res.Output = merged.String()
	res.Duration = time.Since(start)
	return res, nil
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}
