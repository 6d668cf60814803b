// Package service contains the orchestration layer of the application.
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (this package)   → validates, sequences the stages, owns teardown
//	Stages                   → workspace, deps, build, testrun, executor
//
// The service depends on small interfaces rather than the concrete stage
// types, so tests drive every exit path with hand-written fakes.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/build"
	"github.com/sakif/tsbox/internal/executor"
	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/observability"
)

// Response messages. Clients match on them, so they are part of the API.
const (
	MsgInstallFailed = "package installation failed"
	MsgBuildFailed   = "TypeScript compilation failed"
	MsgTestsPassed   = "tests passed"
	MsgTestsFailed   = "tests reported failures"
	MsgEmptyOutput   = "tests ran but produced no output"
)

// Workspace is the subset of the workspace manager the pipeline drives.
type Workspace interface {
	Create() (*model.Session, error)
	WriteArtifacts(s *model.Session, sourceCode, testCode string) error
	WriteConfigFiles(s *model.Session) error
	WriteCompilerConfig(s *model.Session, override map[string]any) error
	LinkSharedDependencies(s *model.Session)
	Destroy(s *model.Session)
}

// Installer adds requested npm packages to a workspace.
type Installer interface {
	Install(ctx context.Context, s *model.Session, literals []string) error
}

// Builder runs the Build Stage and syntax validation.
type Builder interface {
	Compile(ctx context.Context, s *model.Session) build.Report
	CheckSyntax(ctx context.Context, code string, opts build.SyntaxOptions) (*build.SyntaxResult, error)
}

// TestRunner runs the Test Stage.
type TestRunner interface {
	Run(ctx context.Context, s *model.Session) model.TestReport
}

// PipelineService sequences the stages of both use cases.
type PipelineService struct {
	ws        Workspace
	installer Installer
	builder   Builder
	tests     TestRunner
	exec      executor.Executor
	logger    *slog.Logger
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(ws Workspace, installer Installer, builder Builder, tests TestRunner, exec executor.Executor, logger *slog.Logger) *PipelineService {
	return &PipelineService{
		ws:        ws,
		installer: installer,
		builder:   builder,
		tests:     tests,
		exec:      exec,
		logger:    logger,
	}
}

// RunTest runs workspace → install → build → test for one request.
//
// Expected negatives (rejected packages, a failed build, failing tests) come
// back as a TestRunResult. The error return is reserved for request
// validation and for infrastructure failures such as an unwritable temp root.
//
// The workspace is destroyed by a deferred call, so it goes away exactly once
// on every exit path, panics included.
func (p *PipelineService) RunTest(ctx context.Context, req model.TestRunRequest) (*model.TestRunResult, error) {
	if err := validateTestRun(req); err != nil {
		return nil, err
	}

	s, err := p.ws.Create()
	if err != nil {
		observability.PipelineRunsTotal.WithLabelValues(string(model.StateFailed), string(model.StateCreated)).Inc()
		return nil, err
	}
	observability.ActiveSessions.Inc()
	defer func() {
		p.ws.Destroy(s)
		observability.ActiveSessions.Dec()
	}()

	run := &pipelineRun{session: s, logger: p.logger.With(slog.String("session", s.ID))}
	run.logger.Info("test pipeline started",
		slog.Int("source_bytes", len(req.TSCode)),
		slog.Int("test_bytes", len(req.TestCode)),
		slog.Int("packages", len(req.Packages)),
	)

	if err := p.writeArtifacts(s, req); err != nil {
		run.fail(model.StateArtifactsWritten, err.Error())
		return nil, err
	}
	run.advance(model.StateArtifactsWritten)

	p.ws.LinkSharedDependencies(s)
	if err := p.installer.Install(ctx, s, req.Packages); err != nil {
		run.fail(model.StateDependenciesResolved, err.Error())
		if !errors.Is(err, apperror.ErrInvalidDependency) && !errors.Is(err, apperror.ErrDependencyInstall) {
			return nil, err
		}
		return &model.TestRunResult{
			Message: MsgInstallFailed,
			Error:   err.Error(),
			Stage:   model.StateDependenciesResolved,
		}, nil
	}
	run.advance(model.StateDependenciesResolved)

	report := p.builder.Compile(ctx, s)
	observability.BuildResultsTotal.WithLabelValues(string(report.Result), report.Strategy).Inc()
	if !report.Result.Runnable() {
		run.fail(model.StateBuilt, report.Reason)
		return &model.TestRunResult{
			Message: MsgBuildFailed,
			Error:   report.Reason,
			Stage:   model.StateBuilt,
		}, nil
	}
	run.advance(model.StateBuilt)

	tests := p.tests.Run(ctx, s)
	run.advance(model.StateTested)
	run.advance(model.StateSucceeded)

	output := tests.Output
	if strings.TrimSpace(output) == "" {
		output = MsgEmptyOutput
	}
	msg := MsgTestsPassed
	if !tests.Passed {
		msg = MsgTestsFailed
	}
	run.logger.Info("test pipeline finished",
		slog.String("build", string(report.Result)),
		slog.Bool("passed", tests.Passed),
	)
	return &model.TestRunResult{
		Success: true,
		Message: msg,
		Result:  output,
	}, nil
}

func (p *PipelineService) writeArtifacts(s *model.Session, req model.TestRunRequest) error {
	if err := p.ws.WriteArtifacts(s, req.TSCode, req.TestCode); err != nil {
		return err
	}
	if err := p.ws.WriteConfigFiles(s); err != nil {
		return err
	}
	return p.ws.WriteCompilerConfig(s, req.TSConfig)
}

// Execute evaluates a snippet in the embedded interpreter. No workspace is
// involved: the lifecycle is a single created → succeeded|failed step.
func (p *PipelineService) Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	if req.Options.Memory < 0 || req.Options.Timeout < 0 {
		return nil, apperror.ValidationFailed("options", "memory and timeout must not be negative")
	}

	id := xid.New().String()
	log := p.logger.With(slog.String("execution", id))
	state := model.StateCreated

	res, err := p.exec.Execute(ctx, req)
	if err != nil {
		log.Error("interpreter unavailable", slog.String("error", err.Error()))
		observability.SandboxExecutionsTotal.WithLabelValues(string(executor.StatusError)).Inc()
		return nil, err
	}

	to := model.StateSucceeded
	if !res.Succeeded() {
		to = model.StateFailed
	}
	if model.CanTransition(state, to) {
		state = to
	}
	observability.SandboxExecutionsTotal.WithLabelValues(string(res.Status)).Inc()
	log.Info("execution finished",
		slog.String("state", string(state)),
		slog.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

// Validate type-checks a snippet without running it.
func (p *PipelineService) Validate(ctx context.Context, code string, opts build.SyntaxOptions) (*build.SyntaxResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperror.ValidationFailed("code", "code is required")
	}
	return p.builder.CheckSyntax(ctx, code, opts)
}

func validateTestRun(req model.TestRunRequest) error {
	if strings.TrimSpace(req.TSCode) == "" {
		return apperror.ValidationFailed("tsCode", "tsCode is required")
	}
	if strings.TrimSpace(req.TestCode) == "" {
		return apperror.ValidationFailed("testCode", "testCode is required")
	}
	return nil
}

// pipelineRun tracks one session through the state machine.
type pipelineRun struct {
	session *model.Session
	logger  *slog.Logger
}

func (r *pipelineRun) advance(to model.State) {
	from := r.session.State
	if !model.CanTransition(from, to) {
		// A programming error in the sequencing above, never user input.
		r.logger.Error("illegal state transition", slog.String("from", string(from)), slog.String("to", string(to)))
		return
	}
	r.session.State = to
	r.logger.Debug("state changed", slog.String("from", string(from)), slog.String("to", string(to)))
	if to == model.StateSucceeded {
		observability.PipelineRunsTotal.WithLabelValues(string(model.StateSucceeded), string(from)).Inc()
	}
}

// fail moves the session to failed. stage is the state the pipeline was
// trying to reach.
func (r *pipelineRun) fail(stage model.State, reason string) {
	from := r.session.State
	if !model.CanTransition(from, model.StateFailed) {
		return
	}
	r.session.State = model.StateFailed
	r.logger.Warn("pipeline failed", slog.String("stage", string(stage)), slog.String("reason", reason))
	observability.PipelineRunsTotal.WithLabelValues(string(model.StateFailed), string(stage)).Inc()
}
