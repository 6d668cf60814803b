// Package workspace owns the per-request filesystem scope.
//
// LIFECYCLE:
//
//	Create()                  → <TempRoot>/<xid>/ (empty, owned by the session)
//	WriteArtifacts()          → code.ts, code.test.ts
//	WriteConfigFiles()        → jest.config.js, package.json
//	WriteCompilerConfig()     → tsconfig.json
//	LinkSharedDependencies()  → node_modules → <shared node_modules>
//	Destroy()                 → unlink node_modules, then remove the directory
//
// SHARED DEPENDENCY DIRECTORY:
// Every session links to one process-wide node_modules directory. Sessions
// only ever create links to it, and Destroy unlinks the link before the
// recursive remove. Nothing under the shared directory is ever deleted.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/model"
)

// CriticalModules are linked one by one when the whole shared directory
// cannot be linked.
var CriticalModules = []string{"typescript", "jest", "ts-jest", "lodash", "moment"}

// verifiedModules are checked (warn only) after a successful link.
var verifiedModules = []string{"typescript", "jest", "ts-jest"}

// Config is the subset of process configuration the manager needs.
type Config struct {
	// TempRoot is the directory under which sessions are created.
	TempRoot string
	// SharedModules is the process-wide node_modules directory.
	SharedModules string
	// JestConfig is the content of jest.config.js.
	JestConfig string
	// CompilerOptions is the default tsconfig.json compilerOptions.
	CompilerOptions map[string]any
}

// Manager creates and destroys session workspaces.
//
// A Manager is safe for concurrent use: sessions never share a directory,
// and the only shared write is the one-time creation of TempRoot.
type Manager struct {
	config   Config
	logger   *slog.Logger
	rootOnce sync.Once
	rootErr  error
	// symlink is os.Symlink; tests replace it to force the fallback paths.
	symlink func(oldname, newname string) error
}

// NewManager creates a Manager. The temp root is created lazily on the
// first Create call.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		config:  cfg,
		logger:  logger,
		symlink: os.Symlink,
	}
}

// SharedModules returns the shared dependency directory.
func (m *Manager) SharedModules() string {
	return m.config.SharedModules
}

// ensureRoot creates the temp root once per process.
func (m *Manager) ensureRoot() error {
	m.rootOnce.Do(func() {
		if err := os.MkdirAll(m.config.TempRoot, 0o755); err != nil {
			m.rootErr = apperror.Filesystem("create temp root", m.config.TempRoot, err)
		}
	})
	return m.rootErr
}

// Create allocates a fresh session and its empty directory.
//
// os.Mkdir (not MkdirAll) fails if the directory already exists, so even an
// impossible ID collision could never hand two sessions the same path.
func (m *Manager) Create() (*model.Session, error) {
	if err := m.ensureRoot(); err != nil {
		return nil, err
	}

	id := xid.New().String()
	dir := filepath.Join(m.config.TempRoot, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, apperror.Filesystem("create session directory", dir, err)
	}

	m.logger.Debug("session created", slog.String("session", id), slog.String("dir", dir))

	return &model.Session{
		ID:        id,
		Dir:       dir,
		CreatedAt: time.Now(),
		State:     model.StateCreated,
	}, nil
}

// WriteArtifacts writes the source and test fragments. The content is opaque.
func (m *Manager) WriteArtifacts(s *model.Session, sourceCode, testCode string) error {
	if err := writeFile(s.SourcePath(), []byte(sourceCode)); err != nil {
		return err
	}
	return writeFile(s.TestPath(), []byte(testCode))
}

// WriteConfigFiles writes the default Jest config and a base package.json.
func (m *Manager) WriteConfigFiles(s *model.Session) error {
	if err := writeFile(s.Path(model.JestConfigFile), []byte(m.config.JestConfig)); err != nil {
		return err
	}

	manifest := Manifest{
		Name:         "ts-test-sandbox",
		Version:      "1.0.0",
		Description:  "TypeScript test sandbox",
		Scripts:      map[string]string{"test": "jest"},
		Dependencies: map[string]string{},
	}
	return WriteManifest(s, &manifest)
}

// WriteCompilerConfig writes tsconfig.json: the default compilerOptions with
// the request's compilerOptions layered on top. Other top-level keys of the
// override (include, exclude, ...) are copied as-is.
func (m *Manager) WriteCompilerConfig(s *model.Session, override map[string]any) error {
	options := make(map[string]any, len(m.config.CompilerOptions))
	for k, v := range m.config.CompilerOptions {
		options[k] = v
	}

	tsconfig := map[string]any{}
	for k, v := range override {
		if k == "compilerOptions" {
			if userOpts, ok := v.(map[string]any); ok {
				for name, val := range userOpts {
					options[name] = val
				}
			}
			continue
		}
		tsconfig[k] = v
	}
	tsconfig["compilerOptions"] = options

	return writeJSON(s.Path(model.CompilerConfig), tsconfig)
}

// Destroy removes the workspace. It never fails: cleanup must not mask the
// pipeline's own result, so errors are logged and swallowed.
func (m *Manager) Destroy(s *model.Session) {
	if s == nil {
		return
	}
	log := m.logger.With(slog.String("session", s.ID))

	if err := unlinkIfSymlink(s.ModulesPath()); err != nil {
		log.Error("failed to unlink shared dependencies", slog.String("error", err.Error()))
	}

	if err := os.RemoveAll(s.Dir); err != nil {
		log.Error("failed to remove workspace", slog.String("dir", s.Dir), slog.String("error", err.Error()))
		return
	}
	log.Debug("workspace removed", slog.String("dir", s.Dir))
}

// CleanupAll removes every entry under the temp root. It is meant for
// shutdown and for the cleanup command, never while sessions are live.
func (m *Manager) CleanupAll() error {
	entries, err := os.ReadDir(m.config.TempRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperror.Filesystem("read temp root", m.config.TempRoot, err)
	}

	var errs []error
	for _, e := range entries {
		path := filepath.Join(m.config.TempRoot, e.Name())
		if e.IsDir() {
			if err := unlinkIfSymlink(filepath.Join(path, model.DependencyDir)); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, err)
			continue
		}
		m.logger.Info("removed stale workspace entry", slog.String("path", path))
	}
	return errors.Join(errs...)
}

// unlinkIfSymlink removes path only if it is a symlink. A missing path is fine.
func unlinkIfSymlink(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return os.Remove(path)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperror.Filesystem("write", path, err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return writeFile(path, data)
}
