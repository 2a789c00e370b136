package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"feeledger/internal/core"
)

// GetPromotion returns the promotion row for a student and session pair.
func (t *Tx) GetPromotion(ctx context.Context, from, to, studentID int64) (core.SessionPromotion, bool, error) {
	var (
		p         core.SessionPromotion
		carried   int64
		opening   sql.NullInt64
		processed int64
	)
	err := t.q.QueryRowContext(ctx,
		`SELECT from_session_id, to_session_id, student_id, carried_cents, opening_entry_id, processed_at
		 FROM session_promotions WHERE from_session_id = ? AND to_session_id = ? AND student_id = ?`,
		from, to, studentID).
		Scan(&p.FromSessionID, &p.ToSessionID, &p.StudentID, &carried, &opening, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return core.SessionPromotion{}, false, nil
	}
	if err != nil {
		return core.SessionPromotion{}, false, fmt.Errorf("get promotion: %w", err)
	}
	p.CarriedBalance = core.Money{Cents: carried}
	p.OpeningEntryID = ptrID(opening)
	p.ProcessedAt = fromNanos(processed)
	return p, true, nil
}

func (t *Tx) InsertPromotion(ctx context.Context, p core.SessionPromotion) (core.SessionPromotion, error) {
	if p.ProcessedAt.IsZero() {
		p.ProcessedAt = t.Now()
	}
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO session_promotions (from_session_id, to_session_id, student_id, carried_cents, opening_entry_id, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.FromSessionID, p.ToSessionID, p.StudentID, p.CarriedBalance.Cents, nullID(p.OpeningEntryID), nanos(p.ProcessedAt)); err != nil {
		return core.SessionPromotion{}, fmt.Errorf("insert promotion: %w", err)
	}
	p.ProcessedAt = fromNanos(nanos(p.ProcessedAt))
	return p, nil
}

// CountPromotions counts promotion rows for a session pair.
func (t *Tx) CountPromotions(ctx context.Context, from, to int64) (int, error) {
	var n int
	if err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_promotions WHERE from_session_id = ? AND to_session_id = ?`,
		from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("count promotions: %w", err)
	}
	return n, nil
}
