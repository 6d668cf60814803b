package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/build"
	"github.com/sakif/tsbox/internal/executor"
	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/workspace"
)

// =========================================================================
// FAKE STAGES
// =========================================================================
//
// The workspace is the real manager over t.TempDir(), so every test can check
// that the session directory is gone afterwards. The other stages are fakes
// whose behaviour each test sets.

type fakeInstaller struct {
	err    error
	called bool
}

func (f *fakeInstaller) Install(_ context.Context, _ *model.Session, _ []string) error {
	f.called = true
	return f.err
}

type fakeBuilder struct {
	report  build.Report
	panics  bool
	called  bool
	syntax  *build.SyntaxResult
	session *model.Session
}

func (f *fakeBuilder) Compile(_ context.Context, s *model.Session) build.Report {
	f.called = true
	f.session = s
	if f.panics {
		panic("compiler exploded")
	}
	return f.report
}

func (f *fakeBuilder) CheckSyntax(_ context.Context, _ string, _ build.SyntaxOptions) (*build.SyntaxResult, error) {
	return f.syntax, nil
}

type fakeTests struct {
	report model.TestReport
	called bool
	state  model.State
}

func (f *fakeTests) Run(_ context.Context, s *model.Session) model.TestReport {
	f.called = true
	f.state = s.State
	return f.report
}

type fakeExecutor struct {
	result *executor.ExecutionResult
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, _ executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	return f.result, f.err
}

type fixture struct {
	svc       *PipelineService
	tempRoot  string
	installer *fakeInstaller
	builder   *fakeBuilder
	tests     *fakeTests
	exec      *fakeExecutor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	shared := filepath.Join(base, "node_modules")
	require.NoError(t, os.MkdirAll(shared, 0o755))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tempRoot := filepath.Join(base, "temp")
	ws := workspace.NewManager(workspace.Config{
		TempRoot:      tempRoot,
		SharedModules: shared,
		JestConfig:    "module.exports = {};",
	}, logger)

	f := &fixture{
		tempRoot:  tempRoot,
		installer: &fakeInstaller{},
		builder:   &fakeBuilder{report: build.Report{Result: model.BuildCompiled, Strategy: build.StrategyTSC}},
		tests:     &fakeTests{report: model.TestReport{Output: "PASS code.test.ts", Passed: true}},
		exec:      &fakeExecutor{},
	}
	f.svc = NewPipelineService(ws, f.installer, f.builder, f.tests, f.exec, logger)
	return f
}

// assertNoWorkspaces checks that every session directory was destroyed.
func (f *fixture) assertNoWorkspaces(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.tempRoot)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace left behind")
}

var validRequest = model.TestRunRequest{
	TSCode:   "export function test() { return true; }",
	TestCode: "import { test as t } from './code'; it('works', () => expect(t()).toBe(true));",
}

func TestRunTest_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RunTest(context.Background(), validRequest)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, MsgTestsPassed, res.Message)
	assert.Equal(t, "PASS code.test.ts", res.Result)
	assert.Empty(t, res.Stage)
	assert.Equal(t, model.StateBuilt, f.tests.state, "tests run after the build")
	assert.Equal(t, model.StateSucceeded, f.builder.session.State)
	f.assertNoWorkspaces(t)
}

func TestRunTest_WritesArtifacts(t *testing.T) {
	f := newFixture(t)
	var seen []string
	f.tests.report = model.TestReport{Output: "ok", Passed: true}
	f.builder.report = build.Report{Result: model.BuildCompiled}

	req := validRequest
	req.TSConfig = map[string]any{"compilerOptions": map[string]any{"strict": true}}
	wrapped := &inspectingBuilder{fakeBuilder: f.builder, inspect: func(s *model.Session) {
		for _, name := range []string{model.SourceFile, model.TestFile, model.JestConfigFile, model.ManifestFile, model.CompilerConfig} {
			if _, err := os.Stat(s.Path(name)); err == nil {
				seen = append(seen, name)
			}
		}
	}}
	f.svc.builder = wrapped

	_, err := f.svc.RunTest(context.Background(), req)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{model.SourceFile, model.TestFile, model.JestConfigFile, model.ManifestFile, model.CompilerConfig}, seen)
	f.assertNoWorkspaces(t)
}

type inspectingBuilder struct {
	*fakeBuilder
	inspect func(s *model.Session)
}

func (b *inspectingBuilder) Compile(ctx context.Context, s *model.Session) build.Report {
	b.inspect(s)
	return b.fakeBuilder.Compile(ctx, s)
}

func TestRunTest_FailingTestsAreASuccessfulResponse(t *testing.T) {
	f := newFixture(t)
	f.tests.report = model.TestReport{Output: "FAIL code.test.ts", ExitCode: 1}

	res, err := f.svc.RunTest(context.Background(), validRequest)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, MsgTestsFailed, res.Message)
	assert.Equal(t, "FAIL code.test.ts", res.Result)
	f.assertNoWorkspaces(t)
}

func TestRunTest_EmptyOutputReplaced(t *testing.T) {
	f := newFixture(t)
	f.tests.report = model.TestReport{Output: "  \n", Passed: true}

	res, err := f.svc.RunTest(context.Background(), validRequest)
	require.NoError(t, err)
	assert.Equal(t, MsgEmptyOutput, res.Result)
}

func TestRunTest_DegradedBuildStillTests(t *testing.T) {
	f := newFixture(t)
	f.builder.report = build.Report{Result: model.BuildDegraded, Strategy: build.StrategyCopyThrough}

	res, err := f.svc.RunTest(context.Background(), validRequest)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, f.tests.called)
}

func TestRunTest_InstallFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid name", apperror.InvalidDependency("; rm -rf /")},
		{"install failed", apperror.DependencyInstall("could not install the requested packages", errors.New("link failed"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.installer.err = tt.err
			req := validRequest
			req.Packages = []string{"left-pad"}

			res, err := f.svc.RunTest(context.Background(), req)
			require.NoError(t, err)

			assert.False(t, res.Success)
			assert.Equal(t, MsgInstallFailed, res.Message)
			assert.Equal(t, tt.err.Error(), res.Error)
			assert.Equal(t, model.StateDependenciesResolved, res.Stage)
			assert.False(t, f.builder.called)
			assert.False(t, f.tests.called)
			f.assertNoWorkspaces(t)
		})
	}
}

func TestRunTest_InstallInfrastructureError(t *testing.T) {
	f := newFixture(t)
	f.installer.err = apperror.Filesystem("write", "package.json", errors.New("disk full"))

	res, err := f.svc.RunTest(context.Background(), validRequest)

	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperror.ErrFilesystem))
	f.assertNoWorkspaces(t)
}

func TestRunTest_BuildFailure(t *testing.T) {
	f := newFixture(t)
	f.builder.report = build.Report{Result: model.BuildFailed, Strategy: build.StrategyCopyThrough, Reason: "every build strategy failed"}

	res, err := f.svc.RunTest(context.Background(), validRequest)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, MsgBuildFailed, res.Message)
	assert.Equal(t, "every build strategy failed", res.Error)
	assert.Equal(t, model.StateBuilt, res.Stage)
	assert.False(t, f.tests.called, "tests never run on a failed build")
	f.assertNoWorkspaces(t)
}

func TestRunTest_PanicStillDestroysWorkspace(t *testing.T) {
	f := newFixture(t)
	f.builder.panics = true

	assert.Panics(t, func() {
		_, _ = f.svc.RunTest(context.Background(), validRequest)
	})
	f.assertNoWorkspaces(t)
}

func TestRunTest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   model.TestRunRequest
		field string
	}{
		{"missing source", model.TestRunRequest{TestCode: "x"}, "tsCode"},
		{"missing tests", model.TestRunRequest{TSCode: "x"}, "testCode"},
		{"blank source", model.TestRunRequest{TSCode: " \n", TestCode: "x"}, "tsCode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			res, err := f.svc.RunTest(context.Background(), tt.req)

			assert.Nil(t, res)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperror.ErrValidation))
			var appErr *apperror.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.field, appErr.Field)
			assert.NoDirExists(t, f.tempRoot, "no session created")
		})
	}
}

func TestRunTest_WorkspaceCreationFails(t *testing.T) {
	f := newFixture(t)
	// The temp root path is taken by a file.
	require.NoError(t, os.WriteFile(f.tempRoot, []byte("not a dir"), 0o644))

	res, err := f.svc.RunTest(context.Background(), validRequest)

	assert.Nil(t, res)
	assert.True(t, errors.Is(err, apperror.ErrFilesystem))
	assert.False(t, f.installer.called)
}

func TestExecute(t *testing.T) {
	f := newFixture(t)
	f.exec.result = executor.Ok(int64(2), time.Millisecond)

	res, err := f.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "1+1"})
	require.NoError(t, err)

	assert.Equal(t, executor.StatusOK, res.Status)
	assert.Equal(t, int64(2), res.Value)
	f.assertNoWorkspaces(t)
}

func TestExecute_ScriptError(t *testing.T) {
	f := newFixture(t)
	f.exec.result = executor.Err("Error: boom", time.Millisecond)

	res, err := f.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "throw new Error('boom')"})
	require.NoError(t, err)

	assert.Equal(t, executor.StatusError, res.Status)
	assert.Equal(t, "Error: boom", res.Error)
}

func TestExecute_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "  "})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "1", Options: executor.Options{Timeout: -1}})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestExecute_InterpreterError(t *testing.T) {
	f := newFixture(t)
	f.exec.err = errors.New("interpreter unavailable")

	res, err := f.svc.Execute(context.Background(), executor.ExecutionRequest{Code: "1"})

	assert.Nil(t, res)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.builder.syntax = &build.SyntaxResult{Valid: true}

	res, err := f.svc.Validate(context.Background(), "const x = 1;", build.SyntaxOptions{})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	_, err = f.svc.Validate(context.Background(), "", build.SyntaxOptions{})
	assert.True(t, errors.Is(err, apperror.ErrValidation))
}
