// Package build turns the workspace TypeScript into runnable JavaScript.
//
// A tier that fails hands over to the next one; the build is reported as
// failed only when every tier gives up. The tiers, in order:
//
//	tsc           per-file compile with fixed flags       → compiled
//	tsc-relaxed   skipLibCheck + allowJs into dist/        → degraded
//	copy-through  code.ts copied to code.js unchanged     → degraded
package build

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/toolchain"
)

// Workspace is what the compiler needs from the workspace manager.
type Workspace interface {
	Create() (*model.Session, error)
	Destroy(s *model.Session)
	LinkSharedDependencies(s *model.Session)
	WriteCompilerConfig(s *model.Session, override map[string]any) error
}

// Report is the outcome of Compile. Strategy names the tier that produced
// the artifact, or the last tier tried when the build failed.
type Report struct {
	Result   model.BuildResult
	Strategy string
	Reason   string
}

// Compiler runs the Build Stage and syntax validation.
type Compiler struct {
	ws              Workspace
	runner          toolchain.Runner
	compilerOptions map[string]any
	timeout         time.Duration
	strategies      []Strategy
	logger          *slog.Logger
}

// NewCompiler creates a Compiler. compilerOptions is the default tsconfig
// option set; timeout bounds every tsc invocation.
func NewCompiler(ws Workspace, runner toolchain.Runner, compilerOptions map[string]any, timeout time.Duration, logger *slog.Logger) *Compiler {
	return &Compiler{
		ws:              ws,
		runner:          runner,
		compilerOptions: compilerOptions,
		timeout:         timeout,
		strategies: []Strategy{
			&tscStrategy{runner: runner, timeout: timeout},
			&relaxedStrategy{runner: runner, timeout: timeout},
			copyThrough{},
		},
		logger: logger,
	}
}

// Compile runs the strategy chain against the session workspace. It never
// returns an error: every problem ends up in the Report.
func (c *Compiler) Compile(ctx context.Context, s *model.Session) Report {
	log := c.logger.With(slog.String("session", s.ID))

	files, err := discover(s.Dir)
	if err != nil {
		log.Error("listing TypeScript sources failed", slog.String("error", err.Error()))
		return Report{Result: model.BuildFailed, Reason: err.Error()}
	}
	if len(files) == 0 {
		log.Info("no TypeScript sources, nothing to compile")
		return Report{Result: model.BuildCompiled}
	}

	if err := c.ensureCompilerConfig(s); err != nil {
		// tsc still runs with its own defaults.
		log.Warn("could not write tsconfig.json", slog.String("error", err.Error()))
	}

	var last string
	for _, strategy := range c.strategies {
		last = strategy.Name()
		out := strategy.Attempt(ctx, s, files)
		log.Debug("build strategy finished",
			slog.String("strategy", last),
			slog.String("outcome", out.Kind.String()),
			slog.String("reason", out.Reason),
		)

		switch out.Kind {
		case OutcomeContinue:
			log.Warn("build strategy gave up", slog.String("strategy", last), slog.String("reason", out.Reason))
			continue
		case OutcomeFatal:
			log.Error("build aborted", slog.String("strategy", last), slog.String("reason", out.Reason))
			return Report{Result: model.BuildFailed, Strategy: last, Reason: out.Reason}
		}

		result := model.BuildDegraded
		if last == StrategyTSC && fileExists(s.CompiledPath()) {
			result = model.BuildCompiled
		}
		if !fileExists(s.CompiledPath()) {
			if cp := (copyThrough{}).Attempt(ctx, s, files); cp.Kind != OutcomeSuccess {
				log.Warn("compiled file missing and copy-through failed", slog.String("reason", cp.Reason))
			}
		}

		attrs := []any{
			slog.String("strategy", last),
			slog.String("result", string(result)),
			slog.String("artifact", out.Artifact),
		}
		if result == model.BuildDegraded {
			attrs = append(attrs, slog.String("kind", apperror.ErrBuildDegraded.Error()))
		}
		log.Info("build finished", attrs...)
		return Report{Result: result, Strategy: last}
	}

	log.Error("every build strategy failed")
	return Report{Result: model.BuildFailed, Strategy: last, Reason: "every build strategy failed"}
}

// ensureCompilerConfig writes the default tsconfig.json unless one exists.
func (c *Compiler) ensureCompilerConfig(s *model.Session) error {
	path := s.Path(model.CompilerConfig)
	if fileExists(path) {
		return nil
	}
	data, err := json.MarshalIndent(map[string]any{"compilerOptions": c.compilerOptions}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperror.Filesystem("write", path, err)
	}
	return nil
}

// discover lists *.ts files under dir, relative to it, skipping declaration
// files and node_modules. Symlinks are not followed.
func discover(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == model.DependencyDir {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".d.ts") {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
