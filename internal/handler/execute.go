package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/tsbox/internal/executor"
)

// Executor runs a snippet in the embedded interpreter.
type Executor interface {
	Execute(ctx context.Context, req executor.ExecutionRequest) (*executor.ExecutionResult, error)
}

// ExecuteResponse is the body of POST /execute. Result is present (possibly
// null) when Status is ok; Error is present when Status is error.
type ExecuteResponse struct {
	Success       bool            `json:"success"`
	Status        executor.Status `json:"status"`
	Message       string          `json:"message"`
	Result        any             `json:"result"`
	Error         string          `json:"error,omitempty"`
	ExecutionTime int64           `json:"executionTime"`
}

// ExecuteHandler handles direct execution requests.
type ExecuteHandler struct {
	exec      Executor
	bodyLimit int64
	logger    *slog.Logger
}

// NewExecuteHandler creates a new ExecuteHandler.
func NewExecuteHandler(exec Executor, bodyLimit int64, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		exec:      exec,
		bodyLimit: bodyLimit,
		logger:    logger,
	}
}

// HandleExecute evaluates a JavaScript snippet.
//
// HTTP: POST /execute
//
//	{"code": "1 + 1", "options": {"memory": 1048576, "timeout": 500}}
//
// A script that throws or runs out of time is still a 200: the failure is in
// the body with status "error".
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req executor.ExecutionRequest
	if !decodeJSON(w, r, h.bodyLimit, &req, h.logger) {
		return
	}

	h.logger.Info("executing code snippet", slog.Int("code_bytes", len(req.Code)))

	result, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		h.logger.Error("code execution failed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	resp := ExecuteResponse{
		Success:       result.Succeeded(),
		Status:        result.Status,
		ExecutionTime: result.Elapsed.Milliseconds(),
	}
	if result.Succeeded() {
		resp.Message = "code executed successfully"
		resp.Result = result.Value
	} else {
		resp.Message = "code execution failed"
		resp.Error = result.Error
	}
	writeJSON(w, http.StatusOK, resp)
}
