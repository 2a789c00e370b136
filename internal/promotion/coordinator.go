// Package promotion carries students and their balances from one academic
// session into the next.
package promotion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feeledger/internal/audit"
	"feeledger/internal/core"
	"feeledger/internal/ledger"
	"feeledger/internal/storage"
)

// Coordinator promotes students one transaction at a time, so a batch can
// be interrupted and resumed without processing anyone twice.
type Coordinator struct {
	store  *storage.Store
	ledger *ledger.Engine
	audit  *audit.Recorder
}

func NewCoordinator(store *storage.Store, engine *ledger.Engine, rec *audit.Recorder) *Coordinator {
	return &Coordinator{store: store, ledger: engine, audit: rec}
}

// Promote carries one student's closing balance in from into to as an
// opening balance entry. Repeated calls return the existing promotion with
// created=false and change nothing.
func (c *Coordinator) Promote(ctx context.Context, from, to, studentID int64) (core.SessionPromotion, bool, error) {
	if from == to {
		return core.SessionPromotion{}, false, core.ErrSameSession
	}
	var (
		promo   core.SessionPromotion
		created bool
	)
	err := c.store.WithTx(ctx, func(tx *storage.Tx) error {
		existing, ok, err := tx.GetPromotion(ctx, from, to, studentID)
		if err != nil {
			return err
		}
		if ok {
			promo = existing
			return nil
		}
		if promo, err = c.promoteTx(ctx, tx, from, to, studentID); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return core.SessionPromotion{}, false, err
	}
	if created {
		slog.InfoContext(ctx, "Student promoted",
			"student_id", studentID, "from_session_id", from, "to_session_id", to,
			"carried_cents", promo.CarriedBalance.Cents)
	}
	return promo, created, nil
}

func (c *Coordinator) promoteTx(ctx context.Context, tx *storage.Tx, from, to, studentID int64) (core.SessionPromotion, error) {
	fromSess, err := tx.GetSession(ctx, from)
	if err != nil {
		return core.SessionPromotion{}, err
	}
	if fromSess.IsCurrent {
		return core.SessionPromotion{}, fmt.Errorf("session %s: %w", fromSess.Name, core.ErrSourceSessionNotClosed)
	}
	toSess, err := tx.GetSession(ctx, to)
	if err != nil {
		return core.SessionPromotion{}, err
	}

	closing, err := ledger.BalanceTx(ctx, tx, studentID, from, time.Time{})
	if err != nil {
		return core.SessionPromotion{}, err
	}

	promo := core.SessionPromotion{
		FromSessionID:  from,
		ToSessionID:    to,
		StudentID:      studentID,
		CarriedBalance: closing.Amount,
	}
	if !closing.Amount.IsZero() {
		opening, err := c.ledger.Append(ctx, tx, core.LedgerEntryDraft{
			StudentID:   studentID,
			SessionID:   to,
			Kind:        core.KindOpeningBalance,
			Amount:      closing.Amount,
			Description: "carried from " + fromSess.Name,
		})
		if err != nil {
			return core.SessionPromotion{}, err
		}
		promo.OpeningEntryID = &opening.ID
	} else if err := ledger.CheckPostable(ctx, tx, studentID, to, 0); err != nil {
		return core.SessionPromotion{}, err
	}

	if err := carryTransport(ctx, tx, studentID, fromSess, toSess); err != nil {
		return core.SessionPromotion{}, err
	}

	if promo, err = tx.InsertPromotion(ctx, promo); err != nil {
		return core.SessionPromotion{}, err
	}
	_, err = c.audit.Record(ctx, tx, audit.Event{
		Action:      core.ActionCreate,
		EntityType:  core.EntitySessionPromotion,
		EntityID:    fmt.Sprintf("%d:%d:%d", from, to, studentID),
		After:       promo,
		Description: fmt.Sprintf("promoted from %s to %s carrying %s", fromSess.Name, toSess.Name, promo.CarriedBalance),
	})
	return promo, err
}

// carryTransport continues the route a student used at the end of from
// into to, unless to already has a transport enrollment at its start.
func carryTransport(ctx context.Context, tx *storage.Tx, studentID int64, from, to core.AcademicSession) error {
	te, ok, err := tx.TransportEnrollmentAt(ctx, studentID, from.ID, from.End)
	if err != nil || !ok {
		return err
	}
	if _, exists, err := tx.TransportEnrollmentAt(ctx, studentID, to.ID, to.Start); err != nil || exists {
		return err
	}
	_, err = tx.InsertTransportEnrollment(ctx, core.TransportEnrollment{
		StudentID: studentID,
		SessionID: to.ID,
		Route:     te.Route,
		Start:     to.Start,
	})
	return err
}

// Rollover makes to the current session in place of from. It is the only
// operation that moves the current flag. Calling it again once to is current
// returns to unchanged; from must be current otherwise.
func (c *Coordinator) Rollover(ctx context.Context, from, to int64) (core.AcademicSession, error) {
	if from == to {
		return core.AcademicSession{}, core.ErrSameSession
	}
	var current core.AcademicSession
	err := c.store.WithTx(ctx, func(tx *storage.Tx) error {
		fromSess, err := tx.GetSession(ctx, from)
		if err != nil {
			return err
		}
		toSess, err := tx.GetSession(ctx, to)
		if err != nil {
			return err
		}
		// Repeating a completed rollover changes nothing. A from that
		// starts after to was never rolled over into it.
		if toSess.IsCurrent && fromSess.Start.Before(toSess.Start) {
			current = toSess
			return nil
		}
		if !fromSess.IsCurrent {
			return fmt.Errorf("session %s: %w", fromSess.Name, core.ErrSessionNotCurrent)
		}
		if toSess.Archived {
			return fmt.Errorf("session %s: %w", toSess.Name, core.ErrSessionArchived)
		}

		if err := tx.SetCurrentSession(ctx, from, to); err != nil {
			return err
		}
		if current, err = tx.GetSession(ctx, to); err != nil {
			return err
		}
		_, err = c.audit.Record(ctx, tx, audit.Event{
			Action:      core.ActionUpdate,
			EntityType:  core.EntityAcademicSession,
			EntityID:    fmt.Sprint(to),
			Before:      toSess,
			After:       current,
			Description: fmt.Sprintf("current session moved from %s to %s", fromSess.Name, toSess.Name),
		})
		return err
	})
	if err != nil {
		return core.AcademicSession{}, err
	}
	slog.InfoContext(ctx, "Current session rolled over", "from_session_id", from, "to_session_id", to)
	return current, nil
}

// PromoteAll promotes every student of from. Students already promoted and
// inactive students are skipped; per-student failures are collected and do
// not stop the batch. Policy violations, cancellation and a failure to list
// the students return an error.
func (c *Coordinator) PromoteAll(ctx context.Context, from, to int64) (core.BatchResult, error) {
	var (
		result   core.BatchResult
		students []int64
	)
	if from == to {
		return result, core.ErrSameSession
	}
	err := c.store.View(ctx, func(q *storage.Tx) error {
		sess, err := q.GetSession(ctx, from)
		if err != nil {
			return err
		}
		if sess.IsCurrent {
			return fmt.Errorf("session %s: %w", sess.Name, core.ErrSourceSessionNotClosed)
		}
		if _, err := q.GetSession(ctx, to); err != nil {
			return err
		}
		students, err = q.SessionStudents(ctx, from)
		return err
	})
	if err != nil {
		return result, err
	}

	for _, id := range students {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var st core.Student
		if err := c.store.View(ctx, func(q *storage.Tx) error {
			var err error
			st, err = q.GetStudent(ctx, id)
			return err
		}); err != nil {
			result.Failed = append(result.Failed, core.PromotionFailure{StudentID: id, Error: err.Error()})
			continue
		}
		if !st.Active {
			result.Skipped++
			continue
		}

		_, created, err := c.Promote(ctx, from, to, id)
		switch {
		case err != nil:
			slog.WarnContext(ctx, "Promotion failed", "student_id", id, "error", err)
			result.Failed = append(result.Failed, core.PromotionFailure{StudentID: id, Error: err.Error()})
		case created:
			result.Promoted++
		default:
			result.Skipped++
		}
	}
	slog.InfoContext(ctx, "Batch promotion finished",
		"from_session_id", from, "to_session_id", to,
		"promoted", result.Promoted, "skipped", result.Skipped, "failed", len(result.Failed))
	return result, nil
}
