package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/toolchain"
)

// OutcomeKind tags the result of one Strategy attempt.
type OutcomeKind int

const (
	// OutcomeContinue hands over to the next strategy.
	OutcomeContinue OutcomeKind = iota
	// OutcomeSuccess stops the chain with a usable artifact.
	OutcomeSuccess
	// OutcomeFatal stops the chain with no artifact.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFatal:
		return "fatal"
	default:
		return "continue"
	}
}

// Outcome is what a Strategy reports. Artifact is set only on success and is
// relative to the workspace; Reason explains a continue or a fatal stop.
type Outcome struct {
	Kind     OutcomeKind
	Artifact string
	Reason   string
}

func Success(artifact string) Outcome { return Outcome{Kind: OutcomeSuccess, Artifact: artifact} }
func Continue(reason string) Outcome  { return Outcome{Kind: OutcomeContinue, Reason: reason} }
func Fatal(reason string) Outcome     { return Outcome{Kind: OutcomeFatal, Reason: reason} }

// Strategy is one way of producing runnable JavaScript from the workspace.
// files are the discovered TypeScript sources, relative to the workspace.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, s *model.Session, files []string) Outcome
}

// Strategy names, also used as metric labels.
const (
	StrategyTSC         = "tsc"
	StrategyRelaxed     = "tsc-relaxed"
	StrategyCopyThrough = "copy-through"
)

// tscStrategy compiles each discovered file on its own with fixed flags.
type tscStrategy struct {
	runner  toolchain.Runner
	timeout time.Duration
}

func (t *tscStrategy) Name() string { return StrategyTSC }

func (t *tscStrategy) Attempt(ctx context.Context, s *model.Session, files []string) Outcome {
	for _, f := range files {
		res, err := t.runner.Run(ctx, toolchain.Command{
			Dir:     s.Dir,
			Name:    "npx",
			Args:    []string{"tsc", f, "--esModuleInterop", "--target", "es2018", "--module", "commonjs"},
			Timeout: t.timeout,
		})
		if out := stop(ctx, res, err); out != nil {
			return *out
		}
		if !res.OK() {
			return Continue(fmt.Sprintf("tsc %s: %s", f, describe(res)))
		}
	}
	return Success(model.CompiledFile)
}

// relaxedStrategy compiles only the source file, skipping library checks and
// writing into dist/.
type relaxedStrategy struct {
	runner  toolchain.Runner
	timeout time.Duration
}

func (r *relaxedStrategy) Name() string { return StrategyRelaxed }

func (r *relaxedStrategy) Attempt(ctx context.Context, s *model.Session, _ []string) Outcome {
	res, err := r.runner.Run(ctx, toolchain.Command{
		Dir:     s.Dir,
		Name:    "npx",
		Args:    []string{"tsc", model.SourceFile, "--skipLibCheck", "--allowJs", "--outDir", "dist"},
		Timeout: r.timeout,
	})
	if out := stop(ctx, res, err); out != nil {
		return *out
	}
	if !res.OK() {
		return Continue("relaxed tsc: " + describe(res))
	}
	return Success(filepath.Join("dist", model.CompiledFile))
}

// copyThrough copies code.ts to code.js unchanged. Type annotations stay in,
// so the artifact only runs if the source was plain JavaScript already, but
// ts-jest compiles the test imports on its own.
type copyThrough struct{}

func (copyThrough) Name() string { return StrategyCopyThrough }

func (copyThrough) Attempt(ctx context.Context, s *model.Session, _ []string) Outcome {
	if err := ctx.Err(); err != nil {
		return Fatal(err.Error())
	}
	if err := copyFile(s.SourcePath(), s.CompiledPath()); err != nil {
		return Continue("copy source: " + err.Error())
	}
	return Success(model.CompiledFile)
}

// stop turns a cancelled context into Fatal and a start failure into Continue.
// It returns nil when the command ran.
func stop(ctx context.Context, res *toolchain.Result, err error) *Outcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		out := Fatal(ctxErr.Error())
		return &out
	}
	if err != nil {
		out := Continue(err.Error())
		return &out
	}
	if res == nil {
		out := Continue("no result")
		return &out
	}
	return nil
}

func describe(res *toolchain.Result) string {
	if res.TimedOut {
		return "timed out"
	}
	msg := fmt.Sprintf("exit code %d", res.ExitCode)
	if out := strings.TrimSpace(res.Output); out != "" {
		msg += ": " + firstLine(out)
	}
	return msg
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
