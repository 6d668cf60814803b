// Package model defines the data structures shared by the pipeline stages.
// Structs here carry data only; behaviour lives in the stage packages
// (workspace, deps, build, testrun) and in the service layer.
package model

import (
	"path/filepath"
	"time"
)

// Fixed file names inside every workspace. Paths are always derived from the
// session directory, so two sessions can never collide on a file.
const (
	SourceFile       = "code.ts"
	TestFile         = "code.test.ts"
	CompiledFile     = "code.js"
	ManifestFile     = "package.json"
	CompilerConfig   = "tsconfig.json"
	JestConfigFile   = "jest.config.js"
	JestOverrideFile = "jest.config.override.json"
	TSJestConfigFile = "ts-jest.config.json"
	TestResultsFile  = "test-results.txt"
	DependencyDir    = "node_modules"
)

// Session is the unit of isolation for one test-pipeline request.
// It exclusively owns Dir and everything inside it.
type Session struct {
	ID        string    `json:"id"`
	Dir       string    `json:"dir"`
	CreatedAt time.Time `json:"createdAt"`
	State     State     `json:"state"`
}

// Path joins elem onto the workspace directory.
func (s *Session) Path(elem ...string) string {
	return filepath.Join(append([]string{s.Dir}, elem...)...)
}

func (s *Session) SourcePath() string   { return s.Path(SourceFile) }
func (s *Session) TestPath() string     { return s.Path(TestFile) }
func (s *Session) CompiledPath() string { return s.Path(CompiledFile) }
func (s *Session) ModulesPath() string  { return s.Path(DependencyDir) }
