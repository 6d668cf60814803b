package model

// BuildResult is the tri-state outcome of the Build Stage.
type BuildResult string

const (
	// BuildCompiled means the compiler produced the artifact on its first tier.
	BuildCompiled BuildResult = "compiled"
	// BuildDegraded means the pipeline continues on a best-effort artifact
	// (relaxed compiler output or the source copied through untouched).
	BuildDegraded BuildResult = "degraded"
	// BuildFailed stops the pipeline before the Test Stage.
	BuildFailed BuildResult = "failed"
)

// Runnable reports whether the Test Stage may run on this result.
func (r BuildResult) Runnable() bool {
	return r != BuildFailed
}

// TestReport is what the Test Stage returns. It is never an error: a failing
// test suite is an expected outcome and is carried in Output.
type TestReport struct {
	Output   string `json:"output"`
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exitCode"`
	TimedOut bool   `json:"timedOut"`
}

// TestRunRequest is the input of the full test pipeline.
type TestRunRequest struct {
	TSCode   string         `json:"tsCode"`
	TestCode string         `json:"testCode"`
	Packages []string       `json:"packages,omitempty"`
	TSConfig map[string]any `json:"tsConfig,omitempty"`
}

// TestRunResult is the response of the full test pipeline.
// Stage names the stage that stopped the pipeline when Success is false.
type TestRunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
	Stage   State  `json:"stage,omitempty"`
}
