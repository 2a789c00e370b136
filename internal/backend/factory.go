package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"feeledger/internal/amqp"
	"feeledger/internal/config"
	"feeledger/internal/fees"
	"feeledger/internal/services"
	gsheet "feeledger/internal/sheets/google"
	"feeledger/internal/sheets/memory"
	"feeledger/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new register factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateRegister implements Factory.CreateRegister
func (f *DefaultFactory) CreateRegister(ctx context.Context, config Config) (*RegisterResult, error) {
	if !config.Type.IsValid() {
		return nil, fmt.Errorf("invalid register type: %s", config.Type)
	}

	switch config.Type {
	case SheetsRegister:
		return f.createSheetsRegister(ctx)
	case MemoryRegister:
		return f.createMemoryRegister()
	default:
		return nil, fmt.Errorf("unsupported register type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSheetsRegister(ctx context.Context) (*RegisterResult, error) {
	cli, err := gsheet.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets register")

	return &RegisterResult{
		Register: cli,
		Cleanup:  nil, // No cleanup needed for sheets register
	}, nil
}

func (f *DefaultFactory) createMemoryRegister() (*RegisterResult, error) {
	f.logger.Info("Initialized memory register; rows are lost on exit")

	return &RegisterResult{
		Register: memory.New(),
		Cleanup:  nil,
	}, nil
}

// ServiceOptions controls OpenService.
type ServiceOptions struct {
	// Publish enables AMQP change events.
	Publish bool
	// Metrics registers fee service collectors; nil disables metrics.
	Metrics prometheus.Registerer
}

// OpenService opens the ledger store and builds the fee service on top of
// it. A broker that cannot be reached disables change events instead of
// failing; the register worker's sweep picks up what it misses.
func OpenService(ctx context.Context, cfg *config.Config, opts ServiceOptions) (*services.FeeService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is nil")
	}
	store, err := storage.Open(cfg.SQLiteDBPath, storage.Options{
		AcquireTimeout: cfg.TxAcquireTimeout,
		BusyTimeout:    cfg.SQLiteBusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	svcOpts := services.Options{
		Resolver: fees.Options{CacheSize: cfg.FeeCacheSize, CacheTTL: cfg.FeeCacheTTL},
	}
	if opts.Metrics != nil {
		svcOpts.Metrics = services.NewMetrics(opts.Metrics)
	}
	if opts.Publish && cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, cfg.AMQPBindingKey)
		if err != nil {
			slog.WarnContext(ctx, "Failed to initialize AMQP client, continuing without change events", "error", err)
		} else {
			slog.InfoContext(ctx, "Initialized AMQP client",
				"exchange", cfg.AMQPExchange,
				"queue", cfg.AMQPQueue)
			svcOpts.Notifier = client
		}
	}

	slog.InfoContext(ctx, "Initialized ledger store",
		"db_path", cfg.SQLiteDBPath,
		"change_events", svcOpts.Notifier != nil)

	return services.NewFeeService(store, svcOpts), nil
}
