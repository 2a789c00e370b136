package main

import (
	"context"
	"os"
	"time"

	"feeledger/internal/amqp"
	"feeledger/internal/backend"
	"feeledger/internal/cli"
	applog "feeledger/internal/log"
	"feeledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting feeledger-worker",
		"register_backend", cfg.RegisterBackend,
		"sync_interval", cfg.SyncInterval,
		"batch_size", cfg.SyncBatchSize)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err == nil {
		err = backendCfg.Validate()
	}
	if err != nil {
		logger.Error("Invalid register configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.Logger).CreateRegister(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize receipt register", "error", err)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer func() {
			if err := result.Cleanup(); err != nil {
				logger.Error("Register cleanup failed", "error", err)
			}
		}()
	}

	// The worker only reads the ledger; change events come from the broker.
	svc := cli.InitService(logger, cfg, false, nil)
	defer svc.Close()

	var consumer worker.ChangeConsumer
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPBindingKey)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, falling back to periodic sync only", "error", err)
		} else {
			defer client.Close()
			consumer = client
		}
	} else {
		logger.Info("AMQP disabled, receipts are exported by periodic sync only")
	}

	registerWorker := worker.NewRegisterWorker(svc.Store(), result.Register, cfg.SyncBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := registerWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Startup sync check failed", "error", err)
	}

	if err := registerWorker.Run(ctx, consumer, cfg.SyncInterval); err != nil {
		logger.Error("Register worker stopped with error", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("feeledger-worker stopped")
}
