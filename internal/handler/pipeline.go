package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/tsbox/internal/build"
	"github.com/sakif/tsbox/internal/model"
)

// Pipeline is the service behind /run-test and /validate.
type Pipeline interface {
	RunTest(ctx context.Context, req model.TestRunRequest) (*model.TestRunResult, error)
	Validate(ctx context.Context, code string, opts build.SyntaxOptions) (*build.SyntaxResult, error)
}

// ValidateRequest is the body of POST /validate.
type ValidateRequest struct {
	Code    string              `json:"code"`
	Options build.SyntaxOptions `json:"options"`
}

// PipelineHandler handles the build-and-test endpoints.
type PipelineHandler struct {
	pipeline  Pipeline
	bodyLimit int64
	logger    *slog.Logger
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(pipeline Pipeline, bodyLimit int64, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		pipeline:  pipeline,
		bodyLimit: bodyLimit,
		logger:    logger,
	}
}

// HandleRunTest builds the source and runs the Jest suite against it.
//
// HTTP: POST /run-test
//
//	{"tsCode": "...", "testCode": "...", "packages": ["lodash@4.17.21"], "tsConfig": {...}}
//
// STATUS CODES:
//   - 400: body is not JSON, or tsCode/testCode missing
//   - 200: the pipeline ran; "success" says whether it got as far as the tests
//   - 500: the workspace could not be set up
func (h *PipelineHandler) HandleRunTest(w http.ResponseWriter, r *http.Request) {
	var req model.TestRunRequest
	if !decodeJSON(w, r, h.bodyLimit, &req, h.logger) {
		return
	}

	result, err := h.pipeline.RunTest(r.Context(), req)
	if err != nil {
		h.logger.Error("test pipeline failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleValidate type-checks a snippet without running it.
//
// HTTP: POST /validate
func (h *PipelineHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeJSON(w, r, h.bodyLimit, &req, h.logger) {
		return
	}

	result, err := h.pipeline.Validate(r.Context(), req.Code, req.Options)
	if err != nil {
		h.logger.Error("syntax validation failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
