package deps

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/toolchain"
	"github.com/sakif/tsbox/internal/workspace"
)

// Workspace is what the installer needs from the workspace manager.
type Workspace interface {
	DetachSharedDependencies(s *model.Session) error
	LinkSharedDirectory(s *model.Session) error
	LinkModule(s *model.Session, name string) bool
	HasModule(s *model.Session, name string) bool
}

// Installer adds npm packages to a workspace.
type Installer struct {
	ws      Workspace
	runner  toolchain.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewInstaller creates an Installer. timeout bounds the npm child process.
func NewInstaller(ws Workspace, runner toolchain.Runner, timeout time.Duration, logger *slog.Logger) *Installer {
	return &Installer{
		ws:      ws,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// npmInstallArgs relax peer-dependency checks and skip the audit and funding
// network calls, which are the usual sources of flaky installs.
var npmInstallArgs = []string{"install", "--legacy-peer-deps", "--no-fund", "--no-audit", "--loglevel=error"}

// Install adds packages to the session.
//
// STEPS:
//  1. Validate every literal; the first bad one aborts with
//     ErrInvalidDependency before anything on disk changes.
//  2. Merge the declarations into package.json.
//  3. Detach the shared node_modules link and run npm install.
//  4. Link any declared package npm did not produce from the shared directory.
//
// If npm itself fails, the whole shared directory is linked as a last resort.
// Only when that link also fails does Install return ErrDependencyInstall.
func (i *Installer) Install(ctx context.Context, s *model.Session, literals []string) error {
	if len(literals) == 0 {
		return nil
	}
	log := i.logger.With(slog.String("session", s.ID))

	decls, err := ParseAll(literals)
	if err != nil {
		log.Warn("rejected package list", slog.String("error", err.Error()))
		return err
	}

	if err := mergeManifest(s, decls); err != nil {
		return err
	}

	log.Info("installing packages", slog.Any("packages", literals))

	if err := i.runNPM(ctx, s); err != nil {
		log.Error("npm install failed, linking shared dependencies", slog.String("error", err.Error()))
		if linkErr := i.ws.LinkSharedDirectory(s); linkErr != nil {
			return apperror.DependencyInstall("could not install the requested packages", linkErr)
		}
		log.Info("using shared dependencies after failed install")
		return nil
	}

	for _, d := range decls {
		if i.ws.HasModule(s, d.Name) {
			log.Debug("package installed", slog.String("package", d.Name))
			continue
		}
		log.Warn("package missing after install, trying shared dependencies", slog.String("package", d.Name))
		if !i.ws.LinkModule(s, d.Name) {
			// Build and test will report the real consequence.
			log.Warn("package unavailable", slog.String("package", d.Name))
		}
	}

	log.Info("package installation finished")
	return nil
}

func (i *Installer) runNPM(ctx context.Context, s *model.Session) error {
	if err := i.ws.DetachSharedDependencies(s); err != nil {
		return err
	}

	res, err := i.runner.Run(ctx, toolchain.Command{
		Dir:     s.Dir,
		Name:    "npm",
		Args:    npmInstallArgs,
		Timeout: i.timeout,
	})
	if err != nil {
		return err
	}
	if res.TimedOut {
		return fmt.Errorf("npm install timed out after %s", i.timeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("npm install exited with code %d: %s", res.ExitCode, tail(res.Output, 512))
	}
	return nil
}

// mergeManifest writes decls into package.json, keeping existing entries.
// Later declarations of the same name win.
func mergeManifest(s *model.Session, decls []Declaration) error {
	mf, err := workspace.ReadManifest(s)
	if err != nil {
		return err
	}
	for _, d := range decls {
		mf.Dependencies[d.Name] = d.Version
	}
	return workspace.WriteManifest(s, mf)
}

// tail keeps the last n bytes of s for log and error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
