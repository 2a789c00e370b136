// Package cli provides common CLI initialization utilities.
// This package consolidates repeated initialization patterns across
// cmd/feeledger, cmd/feeledger-worker, cmd/dues-worker and cmd/promote.
package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"feeledger/internal/backend"
	"feeledger/internal/config"
	applog "feeledger/internal/log"
	"feeledger/internal/services"
)

// SetupLogger initializes structured logging for a service binary on
// stdout. LOG_LEVEL selects the level (debug, info, warn, error; default
// info) and LOG_FORMAT=json switches to JSON records.
// Returns the configured logger and sets it as the default logger.
func SetupLogger(component string) *applog.Logger {
	return SetupLoggerTo(component, os.Stdout)
}

// SetupLoggerTo is SetupLogger writing to out. Command-line tools whose
// stdout carries their result log to stderr.
func SetupLoggerTo(component string, out io.Writer) *applog.Logger {
	logger := applog.New(applog.ConfigFromEnv(component, out))
	applog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *applog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitService opens the ledger store and builds the fee service.
// Returns the service or exits the process on failure.
func InitService(logger *applog.Logger, cfg *config.Config, publish bool, reg prometheus.Registerer) *services.FeeService {
	svc, err := backend.OpenService(context.Background(), cfg, backend.ServiceOptions{
		Publish: publish,
		Metrics: reg,
	})
	if err != nil {
		logger.Error("Failed to initialize fee service", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	return svc
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
