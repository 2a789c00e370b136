package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"feeledger/internal/cache"
	"feeledger/internal/cli"
	apphttp "feeledger/internal/http"
	applog "feeledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := cli.InitService(logger, cfg, true, reg)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close fee service", "error", err)
		}
	}()

	feeCache := cache.NewManager()
	feeCache.Register(svc.Resolver().Cache())
	feeCache.StartCleanup(cfg.FeeCacheTTL)
	defer feeCache.Stop()

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Gatherer: reg,
		Logger:   logger.WithComponent(applog.ComponentHTTP),
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting feeledger server",
		"port", cfg.Port,
		"db_path", cfg.SQLiteDBPath,
		"register_backend", cfg.RegisterBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
