package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/tsbox/internal/model"
)

// LinkSharedDependencies points the workspace's node_modules at the shared
// dependency directory, replacing whatever was there.
//
// FALLBACK CHAIN:
//  1. symlink node_modules → shared directory
//  2. real node_modules directory with one link per CriticalModules entry
//  3. no dependencies at all (logged; later stages report missing modules)
//
// It never fails the pipeline.
func (m *Manager) LinkSharedDependencies(s *model.Session) {
	log := m.logger.With(slog.String("session", s.ID))
	target := s.ModulesPath()

	if err := removeExisting(target); err != nil {
		log.Error("cannot remove existing node_modules", slog.String("error", err.Error()))
	}

	err := m.symlink(m.config.SharedModules, target)
	if err == nil {
		err = verifyLink(target, m.config.SharedModules)
	}
	if err == nil {
		for _, mod := range verifiedModules {
			if _, statErr := os.Stat(filepath.Join(target, mod)); statErr != nil {
				log.Warn("critical module not reachable through shared link", slog.String("module", mod))
			}
		}
		log.Debug("linked shared dependencies", slog.String("target", m.config.SharedModules))
		return
	}

	log.Warn("linking shared dependencies failed, linking critical modules only", slog.String("error", err.Error()))
	_ = removeExisting(target)

	if err := os.MkdirAll(target, 0o755); err != nil {
		log.Error("cannot create node_modules, continuing without dependencies", slog.String("error", err.Error()))
		return
	}
	for _, mod := range CriticalModules {
		if err := m.linkModule(s, mod); err != nil {
			log.Warn("failed to link critical module", slog.String("module", mod), slog.String("error", err.Error()))
		}
	}
}

// LinkSharedDirectory is the strict variant used as a last resort after a
// failed install: it links the whole shared directory and reports failure
// instead of falling back.
func (m *Manager) LinkSharedDirectory(s *model.Session) error {
	target := s.ModulesPath()
	if err := removeExisting(target); err != nil {
		return fmt.Errorf("removing partial node_modules: %w", err)
	}
	if err := m.symlink(m.config.SharedModules, target); err != nil {
		return fmt.Errorf("linking shared node_modules: %w", err)
	}
	return verifyLink(target, m.config.SharedModules)
}

// DetachSharedDependencies turns a linked node_modules into a real, empty
// directory so that a package install writes into the workspace and never
// through the link into the shared directory.
func (m *Manager) DetachSharedDependencies(s *model.Session) error {
	target := s.ModulesPath()
	if err := unlinkIfSymlink(target); err != nil {
		return fmt.Errorf("unlinking node_modules: %w", err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating node_modules: %w", err)
	}
	return nil
}

// LinkModule links one package from the shared directory into the
// workspace's node_modules. It reports whether the module is present in the
// workspace afterwards.
func (m *Manager) LinkModule(s *model.Session, name string) bool {
	if err := m.linkModule(s, name); err != nil {
		m.logger.Warn("failed to link module",
			slog.String("session", s.ID),
			slog.String("module", name),
			slog.String("error", err.Error()),
		)
	}
	return exists(filepath.Join(s.ModulesPath(), name))
}

// HasModule reports whether name resolves inside the workspace node_modules.
func (m *Manager) HasModule(s *model.Session, name string) bool {
	return exists(filepath.Join(s.ModulesPath(), name))
}

func (m *Manager) linkModule(s *model.Session, name string) error {
	dest := filepath.Join(s.ModulesPath(), name)
	if exists(dest) {
		return nil
	}
	src := filepath.Join(m.config.SharedModules, name)
	if !exists(src) {
		return fmt.Errorf("module %s not in shared directory", name)
	}
	// Scoped packages (@scope/name) need their scope directory.
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	// A dangling link left behind by a previous attempt blocks Symlink.
	_ = unlinkIfSymlink(dest)
	return m.symlink(src, dest)
}

func verifyLink(link, want string) error {
	got, err := os.Readlink(link)
	if err != nil {
		return fmt.Errorf("reading link: %w", err)
	}
	if got != want {
		return fmt.Errorf("link points at %s, want %s", got, want)
	}
	if !exists(link) {
		return fmt.Errorf("link target %s does not exist", want)
	}
	return nil
}

// removeExisting unlinks a symlink or removes a real directory at path.
func removeExisting(path string) error {
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
	return os.RemoveAll(path)
}

// exists follows symlinks.
func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
