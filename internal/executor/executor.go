// Package executor defines the direct-execution contract: run a JavaScript
// snippet in an embedded interpreter under memory and time ceilings.
package executor

import (
	"context"
	"time"
)

// Options are per-call overrides. Zero means "use the configured default".
type Options struct {
	// Memory is the ceiling in bytes.
	Memory int64 `json:"memory,omitempty"`
	// Timeout is the wall-clock limit in milliseconds.
	Timeout int64 `json:"timeout,omitempty"`
}

// ExecutionRequest represents a request to evaluate JavaScript code.
type ExecutionRequest struct {
	Code    string  `json:"code"`
	Options Options `json:"options"`
}

// Status tags an ExecutionResult.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ExecutionResult is either ok with a Value (which may be nil for a null or
// undefined completion value) or error with a message. Never both.
type ExecutionResult struct {
	Status  Status        `json:"status"`
	Value   any           `json:"result"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"-"`
}

// Ok builds a successful result.
func Ok(value any, elapsed time.Duration) *ExecutionResult {
	return &ExecutionResult{Status: StatusOK, Value: value, Elapsed: elapsed}
}

// Err builds a failed result.
func Err(message string, elapsed time.Duration) *ExecutionResult {
	return &ExecutionResult{Status: StatusError, Error: message, Elapsed: elapsed}
}

// Succeeded reports whether the evaluation completed.
func (r *ExecutionResult) Succeeded() bool {
	return r != nil && r.Status == StatusOK
}

// Executor represents the core interface for running code in an isolated interpreter.
// Script failures are results; the error return is reserved for the
// interpreter being unusable.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}
