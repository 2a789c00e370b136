package main

import (
	"context"
	"os"
	"time"

	"feeledger/internal/cache"
	"feeledger/internal/cli"
	applog "feeledger/internal/log"
	"feeledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)

	logger.Info("Starting dues-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	checker, err := services.GetDuenessChecker(services.DuePolicy(cfg.DuesPolicy), cfg.DuesDay)
	if err != nil {
		logger.Error("Invalid due policy", "error", err, "policy", cfg.DuesPolicy)
		os.Exit(1)
	}

	// Posted dues publish change events like any other write.
	svc := cli.InitService(logger, cfg, true, nil)
	defer svc.Close()

	feeCache := cache.NewManager()
	feeCache.Register(svc.Resolver().Cache())
	feeCache.StartCleanup(cfg.FeeCacheTTL)
	defer feeCache.Stop()

	processor := services.NewDuesProcessor(svc, checker, services.DuesProcessorConfig{
		PollInterval:      cfg.DuesInterval,
		ReconcileInterval: cfg.ReconcileInterval,
		ChargeAdmission:   true,
	})

	logger.Info("Dues processor configured",
		"policy", cfg.DuesPolicy,
		"day", cfg.DuesDay,
		"interval", cfg.DuesInterval,
		"reconcile_interval", cfg.ReconcileInterval,
		"sqlite_db", cfg.SQLiteDBPath)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Failed to stop dues processor", "error", err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start dues processor", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("dues-worker stopped")
}
