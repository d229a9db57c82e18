package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"matrixci/internal/api"
	"matrixci/internal/config"
	"matrixci/internal/engine"
	"matrixci/internal/forge"
	"matrixci/internal/logger"
	"matrixci/internal/runner"
	"matrixci/internal/schedule"
	"matrixci/internal/storage"
	"matrixci/internal/stream"
	"matrixci/internal/workflow"

	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the matrixci service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// The service logs JSON; the level comes from the environment, with
	// --verbose winning
	level := config.GetLogLevel()
	if verbose {
		level = "debug"
	}
	logger.Init(level, logger.FormatJSON)
	logger.Info("Starting matrixci service", "log_level", level)

	// Initialize database
	if err := storage.Init(cfg.Database.Path); err != nil {
		logger.Error("Failed to initialize database", "error", err)
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer storage.Close()

	// Load workflow definitions
	workflows, err := workflow.LoadDir(cfg.Workflows.Dir)
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}
	if len(workflows) == 0 {
		logger.Warn("No workflows loaded, nothing will ever trigger", "dir", cfg.Workflows.Dir)
	}
	for _, wf := range workflows {
		logger.Info("Workflow loaded",
			"workflow", wf.Name,
			"source", wf.Source(),
			"environments", len(wf.Environments),
			"steps", len(wf.Steps))
	}

	// Initialize the forge client; without a token the service can still
	// evaluate events that carry their changed paths inline
	var forgeClient forge.Client
	if cfg.Forge.Token != "" {
		forgeClient, err = forge.NewGitHubClient(cfg.Forge)
		if err != nil {
			return fmt.Errorf("failed to initialize forge client: %w", err)
		}
	} else {
		logger.Warn("No forge token configured, events must carry changed paths inline")
	}

	var reporter *runner.Reporter
	if forgeClient != nil && cfg.Forge.ShouldReportStatus() {
		reporter = runner.NewReporter(forgeClient, cfg.Forge, cfg.Server.PublicURL)
	}

	// Start the event stream hub
	hub := stream.NewHub()
	go hub.Run()
	defer hub.Stop()

	// Initialize the runner and the engine on top of it
	matrixRunner := runner.New(cfg.Runner, hub, reporter)
	eng := engine.New(workflows, matrixRunner, forgeClient)

	// Start the scheduler
	scheduler, err := schedule.New(eng)
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize router
	router := api.NewRouter(cfg, eng, hub)

	// Read PORT from environment variable if set
	port := cfg.Server.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil && p > 0 {
			port = p
		}
	}

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start the server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		logger.Info("Shutting down server...", "signal", sig.String())
	}

	// Create a context with timeout for graceful shutdown. 30 seconds
	// covers in-flight requests; long runs keep draining below.
	shutdownTimeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err, "timeout", shutdownTimeout.String())
	} else {
		logger.Info("Server shutdown gracefully")
	}

	// Cancel running jobs and wait for their records to finalize
	if err := matrixRunner.Shutdown(ctx); err != nil {
		logger.Warn("Runs still in flight at shutdown", "error", err)
	}

	// Close the database connection
	if err := storage.Close(); err != nil {
		logger.Error("Failed to close database connection", "error", err)
	}

	logger.Info("Server stopped")
	return nil
}
