package storage

import (
	"context"
	"fmt"

	"feeledger/internal/core"
)

// Register export events.
const (
	ExportIssued = core.RegisterIssued
	ExportVoided = core.RegisterVoided
)

// IsExported reports whether the register already holds the row for a
// receipt event.
func (s *Store) IsExported(ctx context.Context, receiptID int64, event string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM register_exports WHERE receipt_id = ? AND event = ?`,
		receiptID, event).Scan(&n); err != nil {
		return false, fmt.Errorf("check register export: %w", err)
	}
	return n > 0, nil
}

// MarkExported records a register export. Marking twice is a no-op.
func (s *Store) MarkExported(ctx context.Context, receiptID int64, event string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.q.ExecContext(ctx,
			`INSERT INTO register_exports (receipt_id, event, exported_at) VALUES (?, ?, ?)
			 ON CONFLICT(receipt_id, event) DO NOTHING`,
			receiptID, event, nanos(tx.Now())); err != nil {
			return fmt.Errorf("mark register export: %w", err)
		}
		return nil
	})
}

// PendingExports lists receipt events not yet in the register, oldest first.
// Issued rows come before the void of the same receipt.
func (s *Store) PendingExports(ctx context.Context, limit int) ([]PendingExport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT receipt_id, event FROM (
			SELECT r.id AS receipt_id, 'issued' AS event, r.issued_at AS happened_at FROM receipts r
			UNION ALL
			SELECT v.receipt_id, 'voided', v.voided_at FROM receipt_voids v
		 ) p
		 WHERE NOT EXISTS (SELECT 1 FROM register_exports e WHERE e.receipt_id = p.receipt_id AND e.event = p.event)
		 ORDER BY happened_at, receipt_id, event
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending exports: %w", err)
	}
	defer rows.Close()
	var out []PendingExport
	for rows.Next() {
		var p PendingExport
		if err := rows.Scan(&p.ReceiptID, &p.Event); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingExport is a receipt event missing from the register.
type PendingExport struct {
	ReceiptID int64
	Event     string
}
