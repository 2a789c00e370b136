package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feeledger/internal/core"
)

const entryColumns = `id, student_id, session_id, month, kind, amount_cents, description,
	receipt_id, reverses_id, restores_id, superseded_by, created_at`

func scanEntry(row interface{ Scan(...any) error }) (core.LedgerEntry, error) {
	var (
		e                                     core.LedgerEntry
		month                                 sql.NullInt64
		kind                                  string
		amount, created                       int64
		receipt, reverses, restores, replaced sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.StudentID, &e.SessionID, &month, &kind, &amount, &e.Description,
		&receipt, &reverses, &restores, &replaced, &created); err != nil {
		return core.LedgerEntry{}, err
	}
	e.Month = time.Month(month.Int64)
	e.Kind = core.EntryKind(kind)
	e.Amount = core.Money{Cents: amount}
	e.ReceiptID = ptrID(receipt)
	e.Reverses = ptrID(reverses)
	e.Restores = ptrID(restores)
	e.SupersededBy = ptrID(replaced)
	e.CreatedAt = fromNanos(created)
	return e, nil
}

// InsertEntry appends e to the ledger and returns it with its id. The
// caller fills CreatedAt; a zero value is replaced by the store clock.
func (t *Tx) InsertEntry(ctx context.Context, e core.LedgerEntry) (core.LedgerEntry, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = t.Now()
	}
	var month sql.NullInt64
	if e.Month != 0 {
		month = sql.NullInt64{Int64: int64(e.Month), Valid: true}
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (student_id, session_id, month, kind, amount_cents, description,
			receipt_id, reverses_id, restores_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.StudentID, e.SessionID, month, string(e.Kind), e.Amount.Cents, e.Description,
		nullID(e.ReceiptID), nullID(e.Reverses), nullID(e.Restores), nanos(e.CreatedAt))
	if err != nil {
		if isConstraint(err) {
			return core.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w: %w", ErrConstraint, err)
		}
		return core.LedgerEntry{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return core.LedgerEntry{}, err
	}
	e.CreatedAt = fromNanos(nanos(e.CreatedAt))
	return e, nil
}

// ErrConstraint wraps SQLite constraint violations such as a duplicate
// live due for the same month.
var ErrConstraint = errors.New("constraint violation")

func (t *Tx) GetEntry(ctx context.Context, id int64) (core.LedgerEntry, error) {
	e, err := scanEntry(t.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, core.ErrEntryNotFound
	}
	if err != nil {
		return core.LedgerEntry{}, fmt.Errorf("get ledger entry %d: %w", id, err)
	}
	return e, nil
}

// MarkSuperseded links entry id to the entry that reversed it. It reports
// false when the entry was already superseded.
func (t *Tx) MarkSuperseded(ctx context.Context, id, by int64) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE ledger_entries SET superseded_by = ? WHERE id = ? AND superseded_by IS NULL`, by, id)
	if err != nil {
		return false, fmt.Errorf("mark entry %d superseded: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RestoreOf returns the entry that restored id, if any.
func (t *Tx) RestoreOf(ctx context.Context, id int64) (core.LedgerEntry, bool, error) {
	e, err := scanEntry(t.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE restores_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, false, nil
	}
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("get restore of entry %d: %w", id, err)
	}
	return e, true, nil
}

// ChargeCount counts the entries ever posted as kind for a month (0 for
// non-monthly charges), live or reversed. Restore entries are not counted.
func (t *Tx) ChargeCount(ctx context.Context, studentID, sessionID int64, kind core.EntryKind, month time.Month) (int, error) {
	var m sql.NullInt64
	if month != 0 {
		m = sql.NullInt64{Int64: int64(month), Valid: true}
	}
	var n int
	if err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries
		 WHERE student_id = ? AND session_id = ? AND kind = ? AND month IS ?`,
		studentID, sessionID, string(kind), m).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s entries: %w", kind, err)
	}
	return n, nil
}

// LiveCharge returns the unreversed entry charging kind for a month (0 for
// non-monthly charges), following restore chains back to the original kind.
func (t *Tx) LiveCharge(ctx context.Context, studentID, sessionID int64, kind core.EntryKind, month time.Month) (core.LedgerEntry, bool, error) {
	var m sql.NullInt64
	if month != 0 {
		m = sql.NullInt64{Int64: int64(month), Valid: true}
	}
	e, err := scanEntry(t.q.QueryRowContext(ctx,
		`WITH RECURSIVE origin(id, root_kind) AS (
			SELECT id, kind FROM ledger_entries
			 WHERE student_id = ? AND session_id = ? AND kind <> 'restore'
			UNION ALL
			SELECT e.id, o.root_kind FROM ledger_entries e JOIN origin o ON e.restores_id = o.id
		 )
		 SELECT `+entryColumns+` FROM ledger_entries
		 WHERE id IN (SELECT id FROM origin WHERE root_kind = ?)
		   AND superseded_by IS NULL AND month IS ?
		 ORDER BY id DESC LIMIT 1`,
		studentID, sessionID, string(kind), m))
	if errors.Is(err, sql.ErrNoRows) {
		return core.LedgerEntry{}, false, nil
	}
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("get live %s: %w", kind, err)
	}
	return e, true, nil
}

// SumEntries recomputes a balance from the entry log: the sum of every
// entry created at or before at.
func (t *Tx) SumEntries(ctx context.Context, studentID, sessionID int64, at time.Time) (core.Money, error) {
	var total int64
	if err := t.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries
		 WHERE student_id = ? AND session_id = ? AND created_at <= ?`,
		studentID, sessionID, nanos(at)).Scan(&total); err != nil {
		return core.Zero, fmt.Errorf("sum ledger entries: %w", err)
	}
	return core.Money{Cents: total}, nil
}

// SumLiveEntries sums entries that are neither superseded nor reversals.
// For a consistent ledger it equals SumEntries at the current time.
func (t *Tx) SumLiveEntries(ctx context.Context, studentID, sessionID int64) (core.Money, error) {
	var total int64
	if err := t.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries
		 WHERE student_id = ? AND session_id = ? AND superseded_by IS NULL AND kind <> 'reversal'`,
		studentID, sessionID).Scan(&total); err != nil {
		return core.Zero, fmt.Errorf("sum live ledger entries: %w", err)
	}
	return core.Money{Cents: total}, nil
}

// ListEntries returns a student's entries in a session, oldest first.
func (t *Tx) ListEntries(ctx context.Context, studentID, sessionID int64) ([]core.LedgerEntry, error) {
	return t.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE student_id = ? AND session_id = ? ORDER BY created_at, id`,
		studentID, sessionID)
}

// ReceiptEntries returns the entries a receipt settled.
func (t *Tx) ReceiptEntries(ctx context.Context, receiptID int64) ([]core.LedgerEntry, error) {
	return t.listEntries(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE id IN (SELECT entry_id FROM receipt_entries WHERE receipt_id = ?) ORDER BY id`,
		receiptID)
}

func (t *Tx) listEntries(ctx context.Context, query string, args ...any) ([]core.LedgerEntry, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	var out []core.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddToBalance applies delta to the cached running balance.
func (t *Tx) AddToBalance(ctx context.Context, studentID, sessionID int64, delta core.Money) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO student_balances (student_id, session_id, balance_cents, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(student_id, session_id) DO UPDATE SET
			balance_cents = balance_cents + excluded.balance_cents,
			updated_at = excluded.updated_at`,
		studentID, sessionID, delta.Cents, nanos(t.Now()))
	if err != nil {
		return fmt.Errorf("update cached balance: %w", err)
	}
	return nil
}

// BalancePair holds a cached and a recomputed balance for one student.
type BalancePair struct {
	StudentID int64
	Cached    core.Money
	Computed  core.Money
}

// SessionBalances pairs cached balances with sums recomputed from the
// entry log for every student with either in the session.
func (t *Tx) SessionBalances(ctx context.Context, sessionID int64) ([]BalancePair, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT s.student_id,
			COALESCE((SELECT balance_cents FROM student_balances b WHERE b.student_id = s.student_id AND b.session_id = ?), 0),
			COALESCE((SELECT SUM(amount_cents) FROM ledger_entries e WHERE e.student_id = s.student_id AND e.session_id = ?), 0)
		 FROM (SELECT student_id FROM student_balances WHERE session_id = ?
			   UNION SELECT student_id FROM ledger_entries WHERE session_id = ?) s
		 ORDER BY s.student_id`,
		sessionID, sessionID, sessionID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session balances: %w", err)
	}
	defer rows.Close()
	var out []BalancePair
	for rows.Next() {
		var p BalancePair
		if err := rows.Scan(&p.StudentID, &p.Cached.Cents, &p.Computed.Cents); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResetBalance overwrites the cached balance with a recomputed value.
func (t *Tx) ResetBalance(ctx context.Context, studentID, sessionID int64, value core.Money) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO student_balances (student_id, session_id, balance_cents, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(student_id, session_id) DO UPDATE SET
			balance_cents = excluded.balance_cents,
			updated_at = excluded.updated_at`,
		studentID, sessionID, value.Cents, nanos(t.Now()))
	if err != nil {
		return fmt.Errorf("reset cached balance: %w", err)
	}
	return nil
}
