// Package testrun runs the Jest suite of a built workspace.
package testrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/toolchain"
)

// requiredModules must resolve from the workspace for ts-jest to run the
// suite; missing ones are linked from the shared directory.
var requiredModules = []string{"ts-jest", "jest", "lodash", "moment"}

// Workspace is what the test runner needs from the workspace manager.
type Workspace interface {
	SharedModules() string
	LinkModule(s *model.Session, name string) bool
}

// Runner runs the Test Stage.
type Runner struct {
	ws      Workspace
	runner  toolchain.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewRunner creates a Runner. timeout bounds the Jest child process.
func NewRunner(ws Workspace, runner toolchain.Runner, timeout time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		ws:      ws,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

var jestArgs = []string{"jest", "--no-watchman", "--no-cache", "--verbose", "--config", model.JestOverrideFile}

// Run executes the suite and returns whatever Jest printed. Failing tests are
// a normal report, not an error.
//
// Output recovery, first non-empty wins:
//  1. test-results.txt, written while Jest runs
//  2. the output captured from the process
//  3. a description of the failure itself
func (r *Runner) Run(ctx context.Context, s *model.Session) model.TestReport {
	log := r.logger.With(slog.String("session", s.ID))

	if err := r.writeConfig(s); err != nil {
		// Jest falls back to jest.config.js discovery and fails loudly.
		log.Error("writing jest override config failed", slog.String("error", err.Error()))
	}
	for _, mod := range requiredModules {
		if !r.ws.LinkModule(s, mod) {
			log.Warn("test module unavailable", slog.String("module", mod))
		}
	}

	resultsFile := s.Path(model.TestResultsFile)
	log.Info("running tests")
	res, err := r.runner.Run(ctx, toolchain.Command{
		Dir:        s.Dir,
		Name:       "npx",
		Args:       jestArgs,
		Env:        map[string]string{"NODE_PATH": r.ws.SharedModules()},
		Timeout:    r.timeout,
		OutputFile: resultsFile,
	})

	report := model.TestReport{ExitCode: -1}
	if err != nil {
		log.Error("jest could not be started",
			slog.String("kind", apperror.ErrRunnerFailure.Error()),
			slog.String("error", err.Error()),
		)
	}
	if res != nil {
		report.ExitCode = res.ExitCode
		report.TimedOut = res.TimedOut
		report.Passed = res.OK()
	}

	if out, readErr := os.ReadFile(resultsFile); readErr == nil && len(strings.TrimSpace(string(out))) > 0 {
		report.Output = string(out)
	} else if res != nil && strings.TrimSpace(res.Output) != "" {
		report.Output = res.Output
	} else {
		report.Output = failureText(err, res, r.timeout)
	}

	log.Info("tests finished",
		slog.Bool("passed", report.Passed),
		slog.Int("exit_code", report.ExitCode),
		slog.Bool("timed_out", report.TimedOut),
	)
	return report
}

// writeConfig writes the Jest override config and the ts-jest options file.
// Module resolution looks in the workspace first, then the shared directory.
func (r *Runner) writeConfig(s *model.Session) error {
	override := map[string]any{
		"verbose":         true,
		"testEnvironment": "node",
		"preset":          "ts-jest",
		"reporters":       []string{"default"},
		"transform": map[string]any{
			`^.+\.tsx?$`: []any{"ts-jest", map[string]any{
				"tsconfig": s.Path(model.CompilerConfig),
			}},
		},
		"moduleDirectories":       []string{"node_modules", s.ModulesPath()},
		"modulePaths":             []string{s.ModulesPath(), r.ws.SharedModules()},
		"transformIgnorePatterns": []string{"/node_modules/(?!(lodash|moment)/)"},
	}
	if err := writeJSON(s.Path(model.JestOverrideFile), override); err != nil {
		return err
	}

	tsJest := map[string]any{
		"isolatedModules": true,
		"esModuleInterop": true,
		"allowJs":         true,
	}
	return writeJSON(s.Path(model.TSJestConfigFile), tsJest)
}

func failureText(err error, res *toolchain.Result, timeout time.Duration) string {
	switch {
	case err != nil:
		return "error while running tests: " + err.Error()
	case res != nil && res.TimedOut:
		return fmt.Sprintf("error while running tests: timed out after %s", timeout)
	case res != nil && res.ExitCode != 0:
		return fmt.Sprintf("error while running tests: jest exited with code %d and no output", res.ExitCode)
	default:
		return ""
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
