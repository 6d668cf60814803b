// Package toolchain launches the external Node.js tools (npm, tsc, jest)
// against a session workspace.
//
// Every stage that shells out goes through the Runner interface, so the
// stages never care whether the command runs as a local child process or
// inside a pooled container (see the docker subpackage), and tests can swap
// in a fake.
//
// TIMEOUTS ARE HARD:
// A Command's Timeout is enforced by killing the process (or removing the
// container). There is no cooperative cancellation here.
package toolchain

import (
	"context"
	"time"
)

// TimeoutExitCode is reported when a command was killed by its timeout,
// matching the convention of coreutils `timeout`.
const TimeoutExitCode = 124

// Command describes one external tool invocation.
type Command struct {
	// Dir is the working directory, always a session workspace.
	Dir  string
	Name string
	Args []string
	// Env is added on top of the runner's base environment.
	Env     map[string]string
	Timeout time.Duration
	// OutputFile, when set, receives the merged stdout+stderr stream as it
	// is produced. The same bytes are also returned in Result.Output.
	OutputFile string
}

// Result is what came out of a command that was started.
type Result struct {
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// OK reports a clean zero exit.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// Runner executes a Command. It returns an error only when the command could
// not be started at all; a non-zero exit or a timeout is a Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}
