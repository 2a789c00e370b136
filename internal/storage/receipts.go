package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feeledger/internal/core"
)

// NextReceiptNumber allocates the next receipt number for a session. The
// counter row is read and bumped in a single statement inside the caller's
// transaction, so concurrent issuers cannot observe the same value.
func (t *Tx) NextReceiptNumber(ctx context.Context, sessionID int64) (int64, error) {
	var n int64
	err := t.q.QueryRowContext(ctx,
		`INSERT INTO receipt_counters (session_id, last_number) VALUES (?, 1)
		 ON CONFLICT(session_id) DO UPDATE SET last_number = last_number + 1
		 RETURNING last_number`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("allocate receipt number: %w", err)
	}
	return n, nil
}

// InsertReceipt stores the receipt header. Entry links and void state are
// written separately.
func (t *Tx) InsertReceipt(ctx context.Context, r core.Receipt) (core.Receipt, error) {
	if r.IssuedAt.IsZero() {
		r.IssuedAt = t.Now()
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO receipts (session_id, receipt_number, student_id, issued_at, total_cents, discount_cents,
			net_cents, payment_mode, remarks, fee_structure_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Number, r.StudentID, nanos(r.IssuedAt), r.Total.Cents, r.Discount.Cents,
		r.Net.Cents, string(r.Mode), r.Remarks, nullID(r.FeeStructureID))
	if err != nil {
		if isConstraint(err) {
			return core.Receipt{}, fmt.Errorf("insert receipt: %w: %w", ErrConstraint, err)
		}
		return core.Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return core.Receipt{}, err
	}
	r.IssuedAt = fromNanos(nanos(r.IssuedAt))
	return r, nil
}

// LinkReceiptEntries records which ledger entries a receipt settled.
func (t *Tx) LinkReceiptEntries(ctx context.Context, receiptID int64, entryIDs []int64) error {
	for _, id := range entryIDs {
		if _, err := t.q.ExecContext(ctx,
			`INSERT INTO receipt_entries (receipt_id, entry_id) VALUES (?, ?)`, receiptID, id); err != nil {
			return fmt.Errorf("link receipt %d to entry %d: %w", receiptID, id, err)
		}
	}
	return nil
}

// InsertReceiptVoid records a void. It returns core.ErrAlreadyVoided when the
// receipt already has one.
func (t *Tx) InsertReceiptVoid(ctx context.Context, receiptID int64, v core.ReceiptVoid) error {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO receipt_voids (receipt_id, voided_at, reason) VALUES (?, ?, ?)
		 ON CONFLICT(receipt_id) DO NOTHING`,
		receiptID, nanos(v.VoidedAt), v.Reason)
	if err != nil {
		return fmt.Errorf("insert receipt void: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrAlreadyVoided
	}
	return nil
}

const receiptColumns = `r.id, r.receipt_number, r.student_id, r.session_id, r.issued_at, r.total_cents,
	r.discount_cents, r.net_cents, r.payment_mode, r.remarks, r.fee_structure_id, v.voided_at, v.reason`

const receiptFrom = ` FROM receipts r LEFT JOIN receipt_voids v ON v.receipt_id = r.id`

func scanReceipt(row interface{ Scan(...any) error }) (core.Receipt, error) {
	var (
		r                      core.Receipt
		issued                 int64
		total, discount, net   int64
		mode                   string
		feeStructure, voidedAt sql.NullInt64
		reason                 sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Number, &r.StudentID, &r.SessionID, &issued, &total,
		&discount, &net, &mode, &r.Remarks, &feeStructure, &voidedAt, &reason); err != nil {
		return core.Receipt{}, err
	}
	r.IssuedAt = fromNanos(issued)
	r.Total = core.Money{Cents: total}
	r.Discount = core.Money{Cents: discount}
	r.Net = core.Money{Cents: net}
	r.Mode = core.PaymentMode(mode)
	r.FeeStructureID = ptrID(feeStructure)
	if voidedAt.Valid {
		r.Void = &core.ReceiptVoid{VoidedAt: fromNanos(voidedAt.Int64), Reason: reason.String}
	}
	return r, nil
}

// GetReceipt loads a receipt with its entry links and void state.
func (t *Tx) GetReceipt(ctx context.Context, id int64) (core.Receipt, error) {
	r, err := scanReceipt(t.q.QueryRowContext(ctx, `SELECT `+receiptColumns+receiptFrom+` WHERE r.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Receipt{}, core.ErrReceiptNotFound
	}
	if err != nil {
		return core.Receipt{}, fmt.Errorf("get receipt %d: %w", id, err)
	}
	if r.EntryIDs, err = t.receiptEntryIDs(ctx, r.ID); err != nil {
		return core.Receipt{}, err
	}
	return r, nil
}

func (t *Tx) receiptEntryIDs(ctx context.Context, receiptID int64) ([]int64, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT entry_id FROM receipt_entries WHERE receipt_id = ? ORDER BY entry_id`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("list receipt entries: %w", err)
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListReceiptsBySession returns receipts issued in [from, to), by number.
func (t *Tx) ListReceiptsBySession(ctx context.Context, sessionID int64, from, to time.Time) ([]core.Receipt, error) {
	return t.listReceipts(ctx,
		`SELECT `+receiptColumns+receiptFrom+`
		 WHERE r.session_id = ? AND r.issued_at >= ? AND r.issued_at < ? ORDER BY r.receipt_number`,
		sessionID, nanos(from), nanos(to))
}

// ListReceiptsByStudent returns a student's receipts in a session.
func (t *Tx) ListReceiptsByStudent(ctx context.Context, studentID, sessionID int64) ([]core.Receipt, error) {
	return t.listReceipts(ctx,
		`SELECT `+receiptColumns+receiptFrom+`
		 WHERE r.student_id = ? AND r.session_id = ? ORDER BY r.receipt_number`,
		studentID, sessionID)
}

// ReceiptNumbers returns every allocated number of a session in order.
func (t *Tx) ReceiptNumbers(ctx context.Context, sessionID int64) ([]int64, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT receipt_number FROM receipts WHERE session_id = ? ORDER BY receipt_number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list receipt numbers: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *Tx) listReceipts(ctx context.Context, query string, args ...any) ([]core.Receipt, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	var out []core.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		if out[i].EntryIDs, err = t.receiptEntryIDs(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
