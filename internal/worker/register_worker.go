package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feeledger/internal/amqp"
	"feeledger/internal/core"
	applog "feeledger/internal/log"
	"feeledger/internal/sheets"
	"feeledger/internal/storage"
)

// ChangeConsumer delivers change events to a handler until ctx ends.
type ChangeConsumer interface {
	ConsumeChanges(ctx context.Context, handler func(context.Context, core.ChangeEvent) error) error
}

// RegisterWorker copies receipt events from the ledger to the external
// receipt register. Each (receipt, event) pair is exported once; a crash
// between the append and the bookkeeping can repeat a row.
type RegisterWorker struct {
	store     *storage.Store
	register  sheets.RegisterWriter
	batchSize int

	// Serializes exports so the event consumer and the periodic sweep never
	// append the same row twice.
	mu sync.Mutex
}

func NewRegisterWorker(store *storage.Store, register sheets.RegisterWriter, batchSize int) *RegisterWorker {
	if batchSize <= 0 {
		batchSize = 10
	}
	return &RegisterWorker{
		store:     store,
		register:  register,
		batchSize: batchSize,
	}
}

// HandleChange processes a single change event from AMQP. Only receipt
// events reach the register.
func (w *RegisterWorker) HandleChange(ctx context.Context, ev core.ChangeEvent) error {
	if ev.EntityType != core.EntityReceipt {
		slog.DebugContext(ctx, "Ignoring change event",
			"id", ev.ID, "entity_type", ev.EntityType, "kind", ev.Kind)
		return nil
	}
	receiptID, err := strconv.ParseInt(ev.EntityID, 10, 64)
	if err != nil || receiptID <= 0 {
		return fmt.Errorf("receipt id %q: %w", ev.EntityID, amqp.ErrDiscard)
	}

	slog.InfoContext(ctx, "Processing receipt event",
		"id", ev.ID,
		"kind", ev.Kind,
		"receipt_id", receiptID)

	var events []string
	switch ev.Kind {
	case core.ActionCreate:
		events = []string{core.RegisterIssued}
	case core.ActionDelete:
		// The issued row must precede its void even if the create event was lost.
		events = []string{core.RegisterIssued, core.RegisterVoided}
	default:
		return nil
	}

	for _, event := range events {
		err := w.export(ctx, receiptID, event)
		if errors.Is(err, core.ErrReceiptNotFound) {
			return fmt.Errorf("receipt %d: %w", receiptID, errors.Join(err, amqp.ErrDiscard))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ProcessPending exports receipt events missing from the register.
// This is a backup mechanism in case AMQP messages are lost.
func (w *RegisterWorker) ProcessPending(ctx context.Context) (int, error) {
	return w.processPending(ctx, w.batchSize)
}

// StartupSyncCheck exports a larger backlog at worker startup, to recover
// from missed messages or worker downtime.
func (w *RegisterWorker) StartupSyncCheck(ctx context.Context) error {
	n, err := w.processPending(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup register check: %w", err)
	}
	if n == 0 {
		slog.InfoContext(ctx, "No pending register rows found on startup")
		return nil
	}
	slog.InfoContext(ctx, "Startup register sync completed", "exported", n)
	return nil
}

func (w *RegisterWorker) processPending(ctx context.Context, limit int) (int, error) {
	pending, err := w.store.PendingExports(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	slog.InfoContext(ctx, "Processing pending register rows", "count", len(pending))

	exported := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return exported, err
		}
		if err := w.export(ctx, p.ReceiptID, p.Event); err != nil {
			slog.ErrorContext(ctx, "Failed to export register row",
				"receipt_id", p.ReceiptID, "event", p.Event, "error", err)
			continue
		}
		exported++
	}
	return exported, nil
}

// Run consumes change events and sweeps for missed ones every interval
// until ctx ends or the consumer fails.
func (w *RegisterWorker) Run(ctx context.Context, consumer ChangeConsumer, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)

	if consumer != nil {
		g.Go(func() error {
			return consumer.ConsumeChanges(ctx, w.HandleChange)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Periodic register sync failed", "error", err)
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *RegisterWorker) export(ctx context.Context, receiptID int64, event string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	done, err := w.store.IsExported(ctx, receiptID, event)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	var (
		r    core.Receipt
		st   core.Student
		sess core.AcademicSession
	)
	err = w.store.View(ctx, func(q *storage.Tx) error {
		var err error
		if r, err = q.GetReceipt(ctx, receiptID); err != nil {
			return err
		}
		if st, err = q.GetStudent(ctx, r.StudentID); err != nil {
			return err
		}
		sess, err = q.GetSession(ctx, r.SessionID)
		return err
	})
	if err != nil {
		return fmt.Errorf("load receipt %d: %w", receiptID, err)
	}
	if event == core.RegisterVoided && r.Void == nil {
		slog.WarnContext(ctx, "Receipt is not voided, skipping void row", "receipt_id", receiptID)
		return nil
	}

	ref, err := w.register.AppendRow(ctx, core.NewRegisterRow(event, r, st, sess))
	if err != nil {
		return fmt.Errorf("append register row: %w", err)
	}

	if err := w.store.MarkExported(ctx, receiptID, event); err != nil {
		// The row is in the register; the next sweep may append it again.
		slog.ErrorContext(ctx, "Failed to mark register row exported",
			"receipt_id", receiptID, "event", event, "error", err)
		return fmt.Errorf("mark exported: %w", err)
	}

	slog.InfoContext(ctx, "Exported register row",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpExport,
		applog.FieldReceiptID, receiptID,
		applog.FieldReceiptNumber, r.Number,
		"event", event,
		"session", sess.Name,
		applog.FieldSheetsRef, ref)
	return nil
}
