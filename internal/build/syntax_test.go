package build

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tsbox/internal/model"
	"github.com/sakif/tsbox/internal/toolchain"
	"github.com/sakif/tsbox/internal/toolchain/toolchaintest"
)

func TestCheckSyntax_Valid(t *testing.T) {
	f := newFixture(t)
	var tsconfig map[string]any
	f.runner.Handler = func(cmd toolchain.Command) (*toolchain.Result, error) {
		data, err := os.ReadFile(cmd.Dir + "/" + model.CompilerConfig)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &tsconfig); err != nil {
			return nil, err
		}
		return toolchaintest.Exit(0, ""), nil
	}

	res, err := f.compiler.CheckSyntax(context.Background(), "const x: number = 1;", SyntaxOptions{Target: "es2022"})
	require.NoError(t, err)

	assert.True(t, res.Valid)
	assert.Empty(t, res.Error)
	assert.Equal(t, "es2022", res.Config["target"])
	assert.Equal(t, true, res.Config["strict"])
	assert.Equal(t, true, res.Config["noEmit"])

	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"tsc", "--project", "tsconfig.json"}, calls[0].Args)

	opts := tsconfig["compilerOptions"].(map[string]any)
	assert.Equal(t, true, opts["noEmit"])
	assert.Equal(t, "es2022", opts["target"])
	assert.Equal(t, []any{"code.ts"}, tsconfig["files"])

	entries, err := os.ReadDir(f.tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "throwaway workspace removed")
}

func TestCheckSyntax_Invalid(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(toolchain.Command) (*toolchain.Result, error) {
		return toolchaintest.Exit(2, "code.ts(1,7): error TS2322: Type 'string' is not assignable to type 'number'.\n"+
			"code.ts(2,1): error TS2304: Cannot find name 'foo'.\n\n"), nil
	}
	strict := false

	res, err := f.compiler.CheckSyntax(context.Background(), "const x: number = 'a';\nfoo;", SyntaxOptions{Strict: &strict})
	require.NoError(t, err)

	assert.False(t, res.Valid)
	assert.Equal(t, "code.ts(1,7): error TS2322: Type 'string' is not assignable to type 'number'.", res.Error)
	assert.Len(t, res.Details, 2)
	assert.Equal(t, false, res.Config["strict"])
	require.Len(t, res.Diagnostics, 2)
	assert.Equal(t, Diagnostic{File: "code.ts", Line: 1, Character: 7, Code: 2322,
		Message: "Type 'string' is not assignable to type 'number'."}, res.Diagnostics[0])
	assert.Equal(t, 2304, res.Diagnostics[1].Code)

	entries, err := os.ReadDir(f.tempRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckSyntax_Timeout(t *testing.T) {
	f := newFixture(t)
	f.runner.Handler = func(toolchain.Command) (*toolchain.Result, error) {
		return &toolchain.Result{TimedOut: true, ExitCode: toolchain.TimeoutExitCode}, nil
	}

	res, err := f.compiler.CheckSyntax(context.Background(), "while(true){}", SyntaxOptions{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "type check timed out", res.Error)
}

func TestParseDiagnostics_IgnoresOtherLines(t *testing.T) {
	res := parseDiagnostics("error TS5058: The specified path does not exist: 'x'.\r\nFound 1 error.\n")

	assert.Equal(t, "error TS5058: The specified path does not exist: 'x'.", res.Error)
	assert.Len(t, res.Details, 2)
	assert.Empty(t, res.Diagnostics)
}
