// Package ledger is the only write path for ledger entries. Entries are
// append-only: corrections are new reversal or restore entries, never edits.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"feeledger/internal/audit"
	"feeledger/internal/core"
	"feeledger/internal/storage"
)

// Engine posts, reverses and restores ledger entries and computes balances.
type Engine struct {
	store *storage.Store
	audit *audit.Recorder
}

func NewEngine(store *storage.Store, rec *audit.Recorder) *Engine {
	return &Engine{store: store, audit: rec}
}

// Post appends one entry and its audit record in a single transaction.
// Reversal and restore entries cannot be posted directly.
func (e *Engine) Post(ctx context.Context, draft core.LedgerEntryDraft) (core.LedgerEntry, error) {
	if !draft.Kind.Postable() {
		return core.LedgerEntry{}, core.ErrInvalidEntryKind
	}
	var entry core.LedgerEntry
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		entry, err = e.appendRecorded(ctx, tx, draft)
		return err
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}
	logPosted(ctx, entry)
	return entry, nil
}

// Charge describes a due or admission fee posted through PostCharge.
type Charge struct {
	StudentID int64
	SessionID int64
	Kind      core.EntryKind
	Month     time.Month // 0 for non-monthly charges

	// Once skips the charge when it was ever posted, even if it has since
	// been reversed, so a waived charge stays waived.
	Once bool

	// Resolve builds the entry inside the write transaction. The ids, kind
	// and month are taken from the Charge. A zero amount posts nothing.
	Resolve func(tx *storage.Tx) (core.LedgerEntryDraft, error)
}

// PostCharge posts c unless a live charge for the same kind and month
// already exists, in which case that entry is returned with created=false.
// The check, the resolution and the insert share one write transaction.
func (e *Engine) PostCharge(ctx context.Context, c Charge) (entry core.LedgerEntry, created bool, err error) {
	if !c.Kind.Postable() || c.Resolve == nil {
		return core.LedgerEntry{}, false, core.ErrInvalidEntryKind
	}
	err = e.store.WithTx(ctx, func(tx *storage.Tx) error {
		existing, found, err := tx.LiveCharge(ctx, c.StudentID, c.SessionID, c.Kind, c.Month)
		if err != nil {
			return err
		}
		if found {
			entry = existing
			return nil
		}
		if c.Once {
			n, err := tx.ChargeCount(ctx, c.StudentID, c.SessionID, c.Kind, c.Month)
			if err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
		draft, err := c.Resolve(tx)
		if err != nil {
			return err
		}
		if draft.Amount.IsZero() {
			return nil
		}
		draft.StudentID, draft.SessionID = c.StudentID, c.SessionID
		draft.Kind, draft.Month = c.Kind, c.Month
		if entry, err = e.appendRecorded(ctx, tx, draft); err != nil {
			return err
		}
		created = true
		return nil
	})
	if errors.Is(err, storage.ErrConstraint) {
		// Another process posted the same charge between our check and insert.
		existing, found, lerr := e.liveCharge(ctx, c)
		if lerr == nil && found {
			return existing, false, nil
		}
	}
	if err != nil {
		return core.LedgerEntry{}, false, err
	}
	if created {
		logPosted(ctx, entry)
	}
	return entry, created, nil
}

func (e *Engine) liveCharge(ctx context.Context, c Charge) (core.LedgerEntry, bool, error) {
	var (
		entry core.LedgerEntry
		found bool
	)
	err := e.store.View(ctx, func(q *storage.Tx) error {
		var err error
		entry, found, err = q.LiveCharge(ctx, c.StudentID, c.SessionID, c.Kind, c.Month)
		return err
	})
	return entry, found, err
}

// appendRecorded appends draft and its create audit record within tx.
func (e *Engine) appendRecorded(ctx context.Context, tx *storage.Tx, draft core.LedgerEntryDraft) (core.LedgerEntry, error) {
	entry, err := e.Append(ctx, tx, draft)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	_, err = e.audit.Record(ctx, tx, audit.Event{
		Action:      core.ActionCreate,
		EntityType:  core.EntityLedgerEntry,
		EntityID:    strconv.FormatInt(entry.ID, 10),
		After:       entry,
		Description: fmt.Sprintf("posted %s %s", entry.Kind, entry.Amount),
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}
	return entry, nil
}

func logPosted(ctx context.Context, entry core.LedgerEntry) {
	slog.InfoContext(ctx, "Ledger entry posted",
		"entry_id", entry.ID, "student_id", entry.StudentID, "session_id", entry.SessionID,
		"kind", entry.Kind, "amount_cents", entry.Amount.Cents)
}

// Append validates draft and inserts it within tx without writing an audit
// record. Callers composing several entries into one operation record the
// operation themselves.
func (e *Engine) Append(ctx context.Context, tx *storage.Tx, draft core.LedgerEntryDraft) (core.LedgerEntry, error) {
	return appendDraft(ctx, tx, draft, nil)
}

// AppendForReceipt is Append for an entry settled by receipt id.
func (e *Engine) AppendForReceipt(ctx context.Context, tx *storage.Tx, draft core.LedgerEntryDraft, receiptID int64) (core.LedgerEntry, error) {
	return appendDraft(ctx, tx, draft, &receiptID)
}

func appendDraft(ctx context.Context, tx *storage.Tx, draft core.LedgerEntryDraft, receiptID *int64) (core.LedgerEntry, error) {
	if err := draft.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}
	if err := CheckPostable(ctx, tx, draft.StudentID, draft.SessionID, draft.Month); err != nil {
		return core.LedgerEntry{}, err
	}
	return insert(ctx, tx, core.LedgerEntry{
		StudentID:   draft.StudentID,
		SessionID:   draft.SessionID,
		Month:       draft.Month,
		Kind:        draft.Kind,
		Amount:      draft.Amount,
		Description: draft.Description,
		ReceiptID:   receiptID,
	})
}

// CheckPostable reports whether entries may be posted for the student and
// session, and whether month (0 for none) falls inside the session.
func CheckPostable(ctx context.Context, tx *storage.Tx, studentID, sessionID int64, month time.Month) error {
	st, err := tx.GetStudent(ctx, studentID)
	if err != nil {
		return err
	}
	if !st.Active {
		return fmt.Errorf("student %s: %w", st.AdmissionNumber, core.ErrStudentInactive)
	}
	sess, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Archived {
		return fmt.Errorf("session %s: %w", sess.Name, core.ErrSessionArchived)
	}
	if month != 0 && !sess.ContainsMonth(month) {
		return fmt.Errorf("%s is outside session %s: %w", month, sess.Name, core.ErrInvalidMonth)
	}
	return nil
}

// insert stores entry and applies it to the cached balance.
func insert(ctx context.Context, tx *storage.Tx, entry core.LedgerEntry) (core.LedgerEntry, error) {
	out, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return core.LedgerEntry{}, err
	}
	if err := tx.AddToBalance(ctx, out.StudentID, out.SessionID, out.Amount); err != nil {
		return core.LedgerEntry{}, err
	}
	return out, nil
}

// Reverse offsets an entry with a reversal entry of the negated amount and
// records the logical delete of the original.
func (e *Engine) Reverse(ctx context.Context, entryID int64, reason string) (core.LedgerEntry, error) {
	var reversal core.LedgerEntry
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		before, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		var after core.LedgerEntry
		if reversal, after, err = e.ReverseTx(ctx, tx, entryID, reason); err != nil {
			return err
		}
		_, err = e.audit.Record(ctx, tx, audit.Event{
			Action:      core.ActionDelete,
			EntityType:  core.EntityLedgerEntry,
			EntityID:    strconv.FormatInt(entryID, 10),
			Before:      before,
			After:       after,
			Description: reversalDescription(entryID, reason),
		})
		return err
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}
	slog.InfoContext(ctx, "Ledger entry reversed",
		"entry_id", entryID, "reversal_id", reversal.ID, "amount_cents", reversal.Amount.Cents)
	return reversal, nil
}

// ReverseTx reverses entryID within tx and returns the reversal entry and
// the original in its post-reversal state. No audit record is written.
func (e *Engine) ReverseTx(ctx context.Context, tx *storage.Tx, entryID int64, reason string) (core.LedgerEntry, core.LedgerEntry, error) {
	orig, err := tx.GetEntry(ctx, entryID)
	if err != nil {
		return core.LedgerEntry{}, core.LedgerEntry{}, err
	}
	if orig.Kind == core.KindReversal {
		return core.LedgerEntry{}, core.LedgerEntry{}, fmt.Errorf("entry %d is itself a reversal: %w", entryID, core.ErrInvalidEntryKind)
	}
	if !orig.IsLive() {
		return core.LedgerEntry{}, core.LedgerEntry{}, fmt.Errorf("entry %d: %w", entryID, core.ErrAlreadyReversed)
	}
	sess, err := tx.GetSession(ctx, orig.SessionID)
	if err != nil {
		return core.LedgerEntry{}, core.LedgerEntry{}, err
	}
	if sess.Archived {
		return core.LedgerEntry{}, core.LedgerEntry{}, fmt.Errorf("session %s: %w", sess.Name, core.ErrSessionArchived)
	}

	reversal, err := insert(ctx, tx, core.LedgerEntry{
		StudentID:   orig.StudentID,
		SessionID:   orig.SessionID,
		Month:       orig.Month,
		Kind:        core.KindReversal,
		Amount:      orig.Amount.Neg(),
		Description: reversalDescription(entryID, reason),
		Reverses:    &orig.ID,
	})
	if errors.Is(err, storage.ErrConstraint) {
		return core.LedgerEntry{}, core.LedgerEntry{}, fmt.Errorf("entry %d: %w", entryID, core.ErrAlreadyReversed)
	}
	if err != nil {
		return core.LedgerEntry{}, core.LedgerEntry{}, err
	}

	ok, err := tx.MarkSuperseded(ctx, orig.ID, reversal.ID)
	if err != nil {
		return core.LedgerEntry{}, core.LedgerEntry{}, err
	}
	if !ok {
		return core.LedgerEntry{}, core.LedgerEntry{}, fmt.Errorf("entry %d: %w", entryID, core.ErrAlreadyReversed)
	}
	orig.SupersededBy = &reversal.ID
	return reversal, orig, nil
}

func reversalDescription(entryID int64, reason string) string {
	if reason == "" {
		return fmt.Sprintf("reversal of entry %d", entryID)
	}
	return core.TruncateDescription(fmt.Sprintf("reversal of entry %d: %s", entryID, reason))
}

// Restore re-posts a reversed entry as a restore entry with the original
// amount and month. Each reversed entry can be restored once.
func (e *Engine) Restore(ctx context.Context, entryID int64) (core.LedgerEntry, error) {
	var restored core.LedgerEntry
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		orig, err := tx.GetEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if orig.IsLive() {
			return fmt.Errorf("entry %d: %w", entryID, core.ErrNotReversed)
		}
		if _, found, err := tx.RestoreOf(ctx, entryID); err != nil {
			return err
		} else if found {
			return fmt.Errorf("entry %d: %w", entryID, core.ErrAlreadyRestored)
		}
		if err := CheckPostable(ctx, tx, orig.StudentID, orig.SessionID, orig.Month); err != nil {
			return err
		}

		restored, err = insert(ctx, tx, core.LedgerEntry{
			StudentID:   orig.StudentID,
			SessionID:   orig.SessionID,
			Month:       orig.Month,
			Kind:        core.KindRestore,
			Amount:      orig.Amount,
			Description: fmt.Sprintf("restore of entry %d", entryID),
			Restores:    &orig.ID,
		})
		if errors.Is(err, storage.ErrConstraint) {
			return fmt.Errorf("entry %d: %w", entryID, core.ErrAlreadyRestored)
		}
		if err != nil {
			return err
		}
		_, err = e.audit.Record(ctx, tx, audit.Event{
			Action:      core.ActionRestore,
			EntityType:  core.EntityLedgerEntry,
			EntityID:    strconv.FormatInt(entryID, 10),
			Before:      orig,
			After:       restored,
			Description: restored.Description,
		})
		return err
	})
	if err != nil {
		return core.LedgerEntry{}, err
	}
	slog.InfoContext(ctx, "Ledger entry restored", "entry_id", entryID, "restore_id", restored.ID)
	return restored, nil
}

// LiveTip follows entry through its restores and returns the entry that
// currently carries its amount. live is false when the chain ends reversed.
func LiveTip(ctx context.Context, tx *storage.Tx, entry core.LedgerEntry) (core.LedgerEntry, bool, error) {
	for !entry.IsLive() {
		next, found, err := tx.RestoreOf(ctx, entry.ID)
		if err != nil {
			return core.LedgerEntry{}, false, err
		}
		if !found {
			return entry, false, nil
		}
		entry = next
	}
	return entry, true, nil
}

// BalanceAsOf recomputes the balance from every entry created at or before
// at. A zero at means now.
func (e *Engine) BalanceAsOf(ctx context.Context, studentID, sessionID int64, at time.Time) (core.Balance, error) {
	var b core.Balance
	err := e.store.View(ctx, func(q *storage.Tx) error {
		var err error
		b, err = BalanceTx(ctx, q, studentID, sessionID, at)
		return err
	})
	return b, err
}

// BalanceTx is BalanceAsOf using q. Unknown students or sessions are
// reported rather than read as a zero balance.
func BalanceTx(ctx context.Context, q *storage.Tx, studentID, sessionID int64, at time.Time) (core.Balance, error) {
	if at.IsZero() {
		at = q.Now()
	}
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return core.Balance{}, err
	}
	if _, err := q.GetSession(ctx, sessionID); err != nil {
		return core.Balance{}, err
	}
	sum, err := q.SumEntries(ctx, studentID, sessionID, at)
	if err != nil {
		return core.Balance{}, err
	}
	return core.Balance{StudentID: studentID, SessionID: sessionID, AsOf: at.UTC(), Amount: sum}, nil
}

// Entries lists a student's entries in a session, oldest first.
func (e *Engine) Entries(ctx context.Context, studentID, sessionID int64) ([]core.LedgerEntry, error) {
	var out []core.LedgerEntry
	err := e.store.View(ctx, func(q *storage.Tx) error {
		if _, err := q.GetStudent(ctx, studentID); err != nil {
			return err
		}
		if _, err := q.GetSession(ctx, sessionID); err != nil {
			return err
		}
		var err error
		out, err = q.ListEntries(ctx, studentID, sessionID)
		return err
	})
	return out, err
}

// Get returns one entry.
func (e *Engine) Get(ctx context.Context, entryID int64) (core.LedgerEntry, error) {
	var out core.LedgerEntry
	err := e.store.View(ctx, func(q *storage.Tx) error {
		var err error
		out, err = q.GetEntry(ctx, entryID)
		return err
	})
	return out, err
}

// Reconcile compares every cached balance in a session with the sum of its
// entries and reports the students whose values differ.
func (e *Engine) Reconcile(ctx context.Context, sessionID int64) (core.ReconcileReport, error) {
	report := core.ReconcileReport{SessionID: sessionID}
	err := e.store.View(ctx, func(q *storage.Tx) error {
		if _, err := q.GetSession(ctx, sessionID); err != nil {
			return err
		}
		pairs, err := q.SessionBalances(ctx, sessionID)
		if err != nil {
			return err
		}
		report.Checked = len(pairs)
		for _, p := range pairs {
			if p.Cached != p.Computed {
				report.Drift = append(report.Drift, core.BalanceDrift{
					StudentID: p.StudentID, Cached: p.Cached, Computed: p.Computed,
				})
			}
		}
		return nil
	})
	if err != nil {
		return core.ReconcileReport{}, err
	}
	if len(report.Drift) > 0 {
		slog.WarnContext(ctx, "Cached balances drifted", "session_id", sessionID, "students", len(report.Drift))
	}
	return report, nil
}
