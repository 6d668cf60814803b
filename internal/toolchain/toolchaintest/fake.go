// Package toolchaintest provides a scriptable toolchain.Runner for tests.
package toolchaintest

import (
	"context"
	"os"
	"sync"

	"github.com/sakif/tsbox/internal/toolchain"
)

// HandlerFunc decides what a fake command does. It may touch the filesystem
// (e.g. write the compiled file tsc would have produced).
type HandlerFunc func(cmd toolchain.Command) (*toolchain.Result, error)

// Runner records every command and answers with Handler. A nil Handler
// succeeds with empty output.
type Runner struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []toolchain.Command
}

var _ toolchain.Runner = (*Runner)(nil)

// Run implements toolchain.Runner. Like the real runners, it writes the
// returned output to cmd.OutputFile when one is set.
func (r *Runner) Run(_ context.Context, cmd toolchain.Command) (*toolchain.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	if r.Handler == nil {
		return &toolchain.Result{}, nil
	}
	res, err := r.Handler(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.OutputFile != "" && res != nil {
		if werr := os.WriteFile(cmd.OutputFile, []byte(res.Output), 0o644); werr != nil {
			return nil, werr
		}
	}
	return res, nil
}

// Calls returns a copy of the recorded commands.
func (r *Runner) Calls() []toolchain.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toolchain.Command(nil), r.calls...)
}

// Exit is a shorthand for a finished command.
func Exit(code int, output string) *toolchain.Result {
	return &toolchain.Result{ExitCode: code, Output: output}
}
