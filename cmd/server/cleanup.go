package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sakif/tsbox/internal/workspace"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove leftover workspaces under the temp root",
	Long: `Remove every entry under sandbox.temp_dir.

Session links into the shared node_modules directory are unlinked first, so
the shared dependencies are never touched. Do not run this while a server
using the same temp root is serving requests.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ws := workspace.NewManager(workspace.Config{
			TempRoot:      cfg.Sandbox.TempDir,
			SharedModules: cfg.Sandbox.NodeModules,
		}, logger)
		if err := ws.CleanupAll(); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %s\n", cfg.Sandbox.TempDir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}
