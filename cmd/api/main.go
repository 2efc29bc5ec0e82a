// Command api serves the grading HTTP API and runs the async indexing workers.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/essaygrader/hub/internal/config"
	"github.com/essaygrader/hub/internal/observability"
	"github.com/essaygrader/hub/pkg/database"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)

		return 1
	}

	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL,
		database.WithVectorTypes(), database.WithMaxConns(cfg.DatabaseMaxConns))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return 1
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		slog.Error("Failed to migrate database", "error", err)

		return 1
	}

	app, err := NewApp(ctx, cfg, db)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)

		return 1
	}

	exitCode := 0

	if err := app.Run(ctx); err != nil {
		slog.Error("Application stopped with error", "error", err)

		exitCode = 1
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("Shutdown failed", "error", err)

		return 1
	}

	slog.Info("Shutdown complete")

	return exitCode
}

// setupLogging installs the default logger. Records carry request_id, job_id and trace context.
func setupLogging(level string) {
	slog.SetDefault(observability.NewLogger(os.Stdout, level))
}
