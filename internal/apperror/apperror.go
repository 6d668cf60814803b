// Package apperror defines the error taxonomy shared by every pipeline stage.
//
// SENTINELS + WRAPPER:
// Each failure kind has a sentinel (ErrValidation, ErrFilesystem, ...).
// AppError carries the sentinel plus a human-readable message, and implements
// Unwrap() so callers can ask errors.Is(err, apperror.ErrFilesystem) no matter
// how many fmt.Errorf("...: %w") layers sit on top.
//
// Not every kind travels as a Go error. Build and test outcomes are expected
// negatives, so those stages return typed results instead; the sentinels for
// them exist so logs and metrics can name the kind consistently.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrInvalidDependency = errors.New("invalid dependency name")
	ErrDependencyInstall = errors.New("dependency install failed")
	ErrFilesystem        = errors.New("filesystem error")
	ErrBuildDegraded     = errors.New("build degraded")
	ErrRunnerFailure     = errors.New("test runner failure")
	ErrSandboxFault      = errors.New("sandbox fault")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Cause   error  // Optional: underlying error (e.g. an *os.PathError)
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the underlying cause to
// errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// InvalidDependency rejects a package literal that fails the name allowlist.
func InvalidDependency(literal string) *AppError {
	return &AppError{
		Err:     ErrInvalidDependency,
		Message: fmt.Sprintf("invalid package name %q", literal),
		Field:   "packages",
	}
}

func DependencyInstall(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrDependencyInstall,
		Message: message,
		Cause:   cause,
	}
}

// Filesystem wraps an I/O failure on the workspace.
func Filesystem(op, path string, cause error) *AppError {
	return &AppError{
		Err:     ErrFilesystem,
		Message: fmt.Sprintf("%s %s", op, path),
		Cause:   cause,
	}
}

func SandboxFault(message string) *AppError {
	return &AppError{
		Err:     ErrSandboxFault,
		Message: message,
	}
}
