// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it connects handlers, middleware and
// routes, and owns the process lifecycle (start, signal, graceful shutdown).
//
// DEPENDENCY INJECTION FLOW:
// cmd/server creates:
//
//	config → toolchain.Runner (local or docker)
//	Server.New() creates: workspace.Manager → deps/build/testrun stages
//	                      → jsvm.Interpreter → PipelineService → handlers
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sakif/tsbox/internal/build"
	"github.com/sakif/tsbox/internal/config"
	"github.com/sakif/tsbox/internal/deps"
	"github.com/sakif/tsbox/internal/executor/jsvm"
	"github.com/sakif/tsbox/internal/handler"
	"github.com/sakif/tsbox/internal/middleware"
	"github.com/sakif/tsbox/internal/observability"
	"github.com/sakif/tsbox/internal/service"
	"github.com/sakif/tsbox/internal/testrun"
	"github.com/sakif/tsbox/internal/toolchain"
	"github.com/sakif/tsbox/internal/workspace"
)

// shutdownGrace is how long in-flight pipelines get to finish on SIGTERM.
const shutdownGrace = 30 * time.Second

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	workspace *workspace.Manager
}

// New creates a new Server. runner executes npm/tsc/jest for every stage;
// the caller owns it and closes it after Start returns.
func New(cfg *config.Config, runner toolchain.Runner, logger *slog.Logger) *Server {
	ws := workspace.NewManager(workspace.Config{
		TempRoot:        cfg.Sandbox.TempDir,
		SharedModules:   cfg.Sandbox.NodeModules,
		JestConfig:      cfg.Sandbox.JestConfig,
		CompilerOptions: cfg.Sandbox.CompilerOptions,
	}, logger)

	pipeline := service.NewPipelineService(
		ws,
		deps.NewInstaller(ws, runner, cfg.Sandbox.InstallTimeout, logger),
		build.NewCompiler(ws, runner, cfg.Sandbox.CompilerOptions, cfg.Sandbox.Timeout, logger),
		testrun.NewRunner(ws, runner, cfg.Sandbox.Timeout, logger),
		jsvm.New(jsvm.Config{
			MemoryLimit: cfg.Sandbox.MemoryLimit,
			Timeout:     cfg.Sandbox.Timeout,
		}, logger),
		logger,
	)

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		workspace: ws,
	}
	s.setupRoutes(pipeline)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /run-test   → workspace, install, build, jest
// POST   /execute    → embedded interpreter
// POST   /validate   → strict tsc type check
// GET    /health     → liveness
// GET    /metrics    → Prometheus exposition
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Metrics: counts and times every request by route pattern
// 5. Logger: logs each request with timing info
func (s *Server) setupRoutes(pipeline *service.PipelineService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(observability.MetricsMiddleware)
	s.router.Use(middleware.Logger(s.logger))

	pipelineHandler := handler.NewPipelineHandler(pipeline, s.config.Server.BodyLimit, s.logger)
	executeHandler := handler.NewExecuteHandler(pipeline, s.config.Server.BodyLimit, s.logger)

	s.router.Post("/run-test", pipelineHandler.HandleRunTest)
	s.router.Post("/validate", pipelineHandler.HandleValidate)
	s.router.Post("/execute", executeHandler.HandleExecute)
	s.router.Get("/health", handler.HandleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

// writeTimeout leaves room for a full pipeline: install, then build and test
// each bounded by the sandbox timeout.
func (s *Server) writeTimeout() time.Duration {
	return s.config.Sandbox.InstallTimeout + 3*s.config.Sandbox.Timeout + 10*time.Second
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (each destroys its own workspace)
// 3. Sweep the temp root for anything a killed request left behind
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.writeTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Server.Port)),
			slog.String("temp_dir", s.config.Sandbox.TempDir),
			slog.String("node_modules", s.config.Sandbox.NodeModules),
			slog.String("toolchain", s.config.Toolchain.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	if s.config.Server.CleanupOnShutdown {
		if err := s.workspace.CleanupAll(); err != nil {
			s.logger.Error("temp directory cleanup incomplete", slog.String("error", err.Error()))
		}
	}
	return nil
}
