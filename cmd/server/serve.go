package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/tsbox/internal/config"
	"github.com/sakif/tsbox/internal/server"
	"github.com/sakif/tsbox/internal/toolchain"
	"github.com/sakif/tsbox/internal/toolchain/docker"
)

var portFlag int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tsbox HTTP server",
	Long: `Start the HTTP server.

Endpoints: POST /run-test, POST /execute, POST /validate, GET /health, GET /metrics.

Examples:
  tsbox serve
  tsbox serve --port 8080
  TSBOX_TOOLCHAIN_BACKEND=docker tsbox serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if portFlag > 0 {
		cfg.Server.Port = portFlag
	}

	runner, closeRunner, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRunner()

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := server.New(cfg, runner, logger).Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// newRunner picks the toolchain backend. The docker backend pulls its image
// and warms the container pool before the server accepts requests.
func newRunner(cfg *config.Config, logger *slog.Logger) (toolchain.Runner, func(), error) {
	if cfg.Toolchain.Backend != "docker" {
		return toolchain.NewLocal(logger), func() {}, nil
	}

	r, err := docker.New(docker.FromAppConfig(cfg), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("starting docker toolchain: %w", err)
	}
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Warn("closing docker toolchain", slog.String("error", err.Error()))
		}
	}, nil
}
