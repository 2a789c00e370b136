// Package receipts issues and voids numbered payment receipts. Each receipt
// binds one or more payment entries to a single payment event.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"feeledger/internal/audit"
	"feeledger/internal/core"
	"feeledger/internal/ledger"
	"feeledger/internal/storage"
)

// Issuer allocates receipt numbers and posts the payments they settle.
type Issuer struct {
	store  *storage.Store
	ledger *ledger.Engine
	audit  *audit.Recorder
}

func NewIssuer(store *storage.Store, engine *ledger.Engine, rec *audit.Recorder) *Issuer {
	return &Issuer{store: store, ledger: engine, audit: rec}
}

// Issue posts one payment entry per settlement and the receipt binding
// them, in one transaction. The receipt number is the next one of the
// session; numbers are allocated inside the transaction so concurrent
// issuers serialize on the counter row.
func (is *Issuer) Issue(ctx context.Context, req core.IssueRequest) (core.Receipt, error) {
	if err := req.Validate(); err != nil {
		return core.Receipt{}, err
	}
	total := req.Total()

	var receipt core.Receipt
	err := is.store.WithTx(ctx, func(tx *storage.Tx) error {
		if err := ledger.CheckPostable(ctx, tx, req.StudentID, req.SessionID, 0); err != nil {
			return err
		}
		feeStructureID, err := structureInEffect(ctx, tx, req.StudentID, req.SessionID)
		if err != nil {
			return err
		}

		number, err := tx.NextReceiptNumber(ctx, req.SessionID)
		if err != nil {
			return err
		}
		receipt, err = tx.InsertReceipt(ctx, core.Receipt{
			Number:         number,
			StudentID:      req.StudentID,
			SessionID:      req.SessionID,
			Total:          total,
			Discount:       req.Discount,
			Net:            total.Sub(req.Discount),
			Mode:           req.Mode,
			Remarks:        req.Remarks,
			FeeStructureID: feeStructureID,
		})
		if err != nil {
			return err
		}

		receipt.EntryIDs = make([]int64, 0, len(req.Settlements))
		for _, s := range req.Settlements {
			entry, err := is.ledger.AppendForReceipt(ctx, tx, core.LedgerEntryDraft{
				StudentID:   req.StudentID,
				SessionID:   req.SessionID,
				Month:       s.Month,
				Kind:        core.KindPayment,
				Amount:      s.Amount.Neg(),
				Description: paymentDescription(number, s),
			}, receipt.ID)
			if err != nil {
				return fmt.Errorf("settlement %s: %w", s.Amount, err)
			}
			receipt.EntryIDs = append(receipt.EntryIDs, entry.ID)
		}
		if err := tx.LinkReceiptEntries(ctx, receipt.ID, receipt.EntryIDs); err != nil {
			return err
		}

		_, err = is.audit.Record(ctx, tx, audit.Event{
			Action:      core.ActionCreate,
			EntityType:  core.EntityReceipt,
			EntityID:    strconv.FormatInt(receipt.ID, 10),
			After:       receipt,
			Description: fmt.Sprintf("receipt %d issued for %s", number, receipt.Net),
		})
		return err
	})
	if err != nil {
		return core.Receipt{}, err
	}
	slog.InfoContext(ctx, "Receipt issued",
		"receipt_id", receipt.ID, "receipt_number", receipt.Number,
		"session_id", receipt.SessionID, "net_cents", receipt.Net.Cents)
	return receipt, nil
}

// structureInEffect returns the fee structure version the student is billed
// under right now, or nil when none is configured. Receipts keep this id so
// later corrections to the schedule never change what an issued receipt
// refers to.
func structureInEffect(ctx context.Context, tx *storage.Tx, studentID, sessionID int64) (*int64, error) {
	sess, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	at := tx.Now()
	if at.Before(sess.Start) {
		at = sess.Start
	}
	if at.After(sess.End) {
		at = sess.End
	}
	enrollment, err := tx.EnrollmentAt(ctx, studentID, sessionID, at)
	if errors.Is(err, core.ErrNotEnrolled) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fs, err := tx.LatestFeeStructure(ctx, enrollment.Class, sessionID)
	if errors.Is(err, core.ErrConfigurationMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fs.ID, nil
}

func paymentDescription(number int64, s core.LedgerEntryDraft) string {
	if s.Description != "" {
		return s.Description
	}
	if s.Month != 0 {
		return fmt.Sprintf("receipt %d: %s", number, s.Month)
	}
	return fmt.Sprintf("receipt %d", number)
}

// Void reverses every entry the receipt settled and marks it voided. The
// receipt row itself is kept so numbering stays continuous.
func (is *Issuer) Void(ctx context.Context, receiptID int64, reason string) (core.Receipt, error) {
	var voided core.Receipt
	err := is.store.WithTx(ctx, func(tx *storage.Tx) error {
		before, err := tx.GetReceipt(ctx, receiptID)
		if err != nil {
			return err
		}
		if before.IsVoided() {
			return fmt.Errorf("receipt %d: %w", before.Number, core.ErrAlreadyVoided)
		}

		settled, err := tx.ReceiptEntries(ctx, receiptID)
		if err != nil {
			return err
		}
		for _, entry := range settled {
			// A payment reversed on its own is already offset unless a
			// restore put it back; the live end of that chain is reversed.
			tip, live, err := ledger.LiveTip(ctx, tx, entry)
			if err != nil {
				return err
			}
			if !live {
				continue
			}
			if _, _, err := is.ledger.ReverseTx(ctx, tx, tip.ID, fmt.Sprintf("void of receipt %d", before.Number)); err != nil {
				return err
			}
		}

		if err := tx.InsertReceiptVoid(ctx, receiptID, core.ReceiptVoid{VoidedAt: tx.Now(), Reason: reason}); err != nil {
			return fmt.Errorf("receipt %d: %w", before.Number, err)
		}
		if voided, err = tx.GetReceipt(ctx, receiptID); err != nil {
			return err
		}
		_, err = is.audit.Record(ctx, tx, audit.Event{
			Action:      core.ActionDelete,
			EntityType:  core.EntityReceipt,
			EntityID:    strconv.FormatInt(receiptID, 10),
			Before:      before,
			After:       voided,
			Description: fmt.Sprintf("receipt %d voided", before.Number),
		})
		return err
	})
	if err != nil {
		return core.Receipt{}, err
	}
	slog.InfoContext(ctx, "Receipt voided", "receipt_id", receiptID, "receipt_number", voided.Number)
	return voided, nil
}

// Get returns a receipt with its settled entry ids and void state.
func (is *Issuer) Get(ctx context.Context, receiptID int64) (core.Receipt, error) {
	var r core.Receipt
	err := is.store.View(ctx, func(q *storage.Tx) error {
		var err error
		r, err = q.GetReceipt(ctx, receiptID)
		return err
	})
	return r, err
}

// ListBySession returns receipts issued in [from, to). A zero to means no
// upper bound.
func (is *Issuer) ListBySession(ctx context.Context, sessionID int64, from, to time.Time) ([]core.Receipt, error) {
	if from.IsZero() {
		from = time.Unix(0, 0)
	}
	if to.IsZero() {
		to = time.Unix(0, 1<<62)
	}
	var out []core.Receipt
	err := is.store.View(ctx, func(q *storage.Tx) error {
		if _, err := q.GetSession(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = q.ListReceiptsBySession(ctx, sessionID, from, to)
		return err
	})
	return out, err
}

// ListByStudent returns a student's receipts in a session by number.
func (is *Issuer) ListByStudent(ctx context.Context, studentID, sessionID int64) ([]core.Receipt, error) {
	var out []core.Receipt
	err := is.store.View(ctx, func(q *storage.Tx) error {
		if _, err := q.GetStudent(ctx, studentID); err != nil {
			return err
		}
		if _, err := q.GetSession(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = q.ListReceiptsByStudent(ctx, studentID, sessionID)
		return err
	})
	return out, err
}
