// Package main is the entry point for the tsbox server.
//
// MAIN PACKAGE IN GO:
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (defaults, tsbox.yaml, TSBOX_* env vars)
// 2. Create dependencies (logger, toolchain runner)
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
//
// COMMANDS:
//
//	tsbox serve      start the HTTP service
//	tsbox cleanup    remove leftover workspaces under the temp root
//	tsbox config     print the effective configuration as YAML
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sakif/tsbox/internal/config"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "tsbox",
	Short: "tsbox - sandboxed TypeScript build and test service",
	Long: `tsbox compiles submitted TypeScript, runs its Jest tests in a throwaway
workspace and reports the outcome over HTTP. It also evaluates plain
JavaScript snippets in an embedded interpreter with time and memory limits.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a YAML config file (default: ./tsbox.yaml or $HOME/.tsbox/tsbox.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
}

// newLogger builds the process logger. slog.NewTextHandler outputs
// human-readable key=value lines on stdout.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevelFlag))); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
