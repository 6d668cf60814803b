package build

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/sakif/tsbox/internal/apperror"
	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/toolchain"
)

// SyntaxOptions are the per-request overrides for a syntax check. Strict and
// NoImplicitAny default to true when nil.
type SyntaxOptions struct {
	Target        string `json:"target,omitempty"`
	Module        string `json:"module,omitempty"`
	Strict        *bool  `json:"strict,omitempty"`
	NoImplicitAny *bool  `json:"noImplicitAny,omitempty"`
}

// Diagnostic is one parsed tsc error line.
type Diagnostic struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	Message   string `json:"message"`
	Code      int    `json:"code"`
}

// SyntaxResult is the outcome of CheckSyntax.
type SyntaxResult struct {
	Valid       bool           `json:"valid"`
	Error       string         `json:"error,omitempty"`
	Details     []string       `json:"details,omitempty"`
	Config      map[string]any `json:"config"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
}

// diagnosticPattern matches tsc's "file(line,col): error TSnnnn: message".
var diagnosticPattern = regexp.MustCompile(`^(.+?)\((\d+),(\d+)\): error TS(\d+): (.+)$`)

// CheckSyntax type-checks code with a strict, non-emitting tsc run inside a
// throwaway workspace. The returned error covers only workspace failures; a
// rejected program is a result with Valid false.
func (c *Compiler) CheckSyntax(ctx context.Context, code string, opts SyntaxOptions) (*SyntaxResult, error) {
	options := c.syntaxOptions(opts)

	s, err := c.ws.Create()
	if err != nil {
		return nil, err
	}
	defer c.ws.Destroy(s)
	log := c.logger.With(slog.String("session", s.ID))

	if err := os.WriteFile(s.SourcePath(), []byte(code), 0o644); err != nil {
		return nil, apperror.Filesystem("write", s.SourcePath(), err)
	}
	override := map[string]any{
		"compilerOptions": options,
		"files":           []string{model.SourceFile},
	}
	if err := c.ws.WriteCompilerConfig(s, override); err != nil {
		return nil, err
	}
	c.ws.LinkSharedDependencies(s)

	res, err := c.runner.Run(ctx, toolchain.Command{
		Dir:     s.Dir,
		Name:    "npx",
		Args:    []string{"tsc", "--project", model.CompilerConfig},
		Timeout: c.timeout,
	})
	if err != nil {
		log.Error("type check could not start", slog.String("error", err.Error()))
		return &SyntaxResult{Error: err.Error(), Config: options}, nil
	}
	if res.TimedOut {
		return &SyntaxResult{Error: "type check timed out", Config: options}, nil
	}
	if res.ExitCode == 0 {
		return &SyntaxResult{Valid: true, Config: options}, nil
	}

	result := parseDiagnostics(res.Output)
	result.Config = options
	if result.Error == "" {
		result.Error = describe(res)
	}
	log.Info("type check rejected code", slog.Int("diagnostics", len(result.Diagnostics)))
	return result, nil
}

// syntaxOptions layers the request options over the default compiler
// options and forces a strict, non-emitting check.
func (c *Compiler) syntaxOptions(opts SyntaxOptions) map[string]any {
	options := make(map[string]any, len(c.compilerOptions)+5)
	for k, v := range c.compilerOptions {
		options[k] = v
	}
	if opts.Target != "" {
		options["target"] = opts.Target
	}
	if opts.Module != "" {
		options["module"] = opts.Module
	}
	options["strict"] = boolOr(opts.Strict, true)
	options["noImplicitAny"] = boolOr(opts.NoImplicitAny, true)
	options["noEmit"] = true
	return options
}

// parseDiagnostics splits tsc output into non-blank lines and picks out the
// lines that follow the diagnostic format. The first line is the summary.
func parseDiagnostics(output string) *SyntaxResult {
	result := &SyntaxResult{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		result.Details = append(result.Details, line)

		m := diagnosticPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lineNo, _ := strconv.Atoi(m[2])
		char, _ := strconv.Atoi(m[3])
		code, _ := strconv.Atoi(m[4])
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			File:      m[1],
			Line:      lineNo,
			Character: char,
			Code:      code,
			Message:   m[5],
		})
	}
	if len(result.Details) > 0 {
		result.Error = result.Details[0]
	}
	return result
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
