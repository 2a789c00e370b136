package services

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"feeledger/internal/audit"
	"feeledger/internal/core"
	"feeledger/internal/fees"
	"feeledger/internal/ledger"
	"feeledger/internal/promotion"
	"feeledger/internal/receipts"
	"feeledger/internal/storage"
)

// Notifier publishes change events after writes commit.
type Notifier interface {
	PublishChange(ctx context.Context, ev core.ChangeEvent) error
}

// Options wires optional collaborators into a FeeService.
type Options struct {
	Resolver      fees.Options
	AuditPageSize int
	Notifier      Notifier // nil disables change events
	Metrics       *Metrics // nil disables metrics
}

// FeeService orchestrates fee operations across the ledger, receipts,
// promotions and the change-event transport.
type FeeService struct {
	store     *storage.Store
	resolver  *fees.Resolver
	audit     *audit.Recorder
	ledger    *ledger.Engine
	receipts  *receipts.Issuer
	promotion *promotion.Coordinator
	notifier  Notifier
	metrics   *Metrics
}

func NewFeeService(store *storage.Store, opts Options) *FeeService {
	rec := audit.NewRecorder(store, opts.AuditPageSize)
	engine := ledger.NewEngine(store, rec)
	resolver := fees.NewResolver(store, opts.Resolver)
	opts.Metrics.watchCache(resolver.Cache().Stats)
	return &FeeService{
		store:     store,
		resolver:  resolver,
		audit:     rec,
		ledger:    engine,
		receipts:  receipts.NewIssuer(store, engine, rec),
		promotion: promotion.NewCoordinator(store, engine, rec),
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
	}
}

// Resolver exposes the fee resolver so its cache can be managed.
func (s *FeeService) Resolver() *fees.Resolver { return s.resolver }

// Store exposes the underlying store for reference-data writes.
func (s *FeeService) Store() *storage.Store { return s.store }

// PostAdjustment posts a manual correction. Adjustments must say why.
func (s *FeeService) PostAdjustment(ctx context.Context, draft core.LedgerEntryDraft) (entry core.LedgerEntry, err error) {
	defer s.metrics.observe("post_adjustment", time.Now(), &err)
	if draft.Description == "" {
		return core.LedgerEntry{}, core.ErrEmptyDescription
	}
	draft.Kind = core.KindAdjustment
	if entry, err = s.ledger.Post(ctx, draft); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("post adjustment: %w", err)
	}
	s.entryPosted(ctx, entry)
	return entry, nil
}

// PostMonthlyDue charges the amount due for a month, resolved from the
// reference tables inside the posting transaction. Repeated calls return the
// live due already posted with created=false. A month that resolves to zero
// posts nothing. A due that was reversed may be charged again this way.
func (s *FeeService) PostMonthlyDue(ctx context.Context, studentID, sessionID int64, month time.Month) (entry core.LedgerEntry, created bool, err error) {
	defer s.metrics.observe("post_monthly_due", time.Now(), &err)
	return s.postMonthlyDue(ctx, studentID, sessionID, month, false)
}

// PostAdmissionFee charges the admission fee once per student and session.
func (s *FeeService) PostAdmissionFee(ctx context.Context, studentID, sessionID int64) (entry core.LedgerEntry, created bool, err error) {
	defer s.metrics.observe("post_admission_fee", time.Now(), &err)
	return s.postAdmissionFee(ctx, studentID, sessionID, false)
}

// postMonthlyDue posts a month's due. With once set, a month that was ever
// charged is skipped even when its due was reversed.
func (s *FeeService) postMonthlyDue(ctx context.Context, studentID, sessionID int64, month time.Month, once bool) (core.LedgerEntry, bool, error) {
	return s.postCharge(ctx, ledger.Charge{
		StudentID: studentID,
		SessionID: sessionID,
		Kind:      core.KindDue,
		Month:     month,
		Once:      once,
		Resolve: func(tx *storage.Tx) (core.LedgerEntryDraft, error) {
			due, err := fees.Compute(ctx, tx, studentID, sessionID, month)
			if err != nil {
				return core.LedgerEntryDraft{}, fmt.Errorf("resolve %s due: %w", month, err)
			}
			return core.LedgerEntryDraft{Amount: due.Total, Description: dueDescription(due)}, nil
		},
	})
}

func (s *FeeService) postAdmissionFee(ctx context.Context, studentID, sessionID int64, once bool) (core.LedgerEntry, bool, error) {
	return s.postCharge(ctx, ledger.Charge{
		StudentID: studentID,
		SessionID: sessionID,
		Kind:      core.KindAdmissionFee,
		Once:      once,
		Resolve: func(tx *storage.Tx) (core.LedgerEntryDraft, error) {
			fee, fsID, err := fees.AdmissionFeeTx(ctx, tx, studentID, sessionID)
			if err != nil {
				return core.LedgerEntryDraft{}, fmt.Errorf("resolve admission fee: %w", err)
			}
			return core.LedgerEntryDraft{Amount: fee, Description: fmt.Sprintf("admission fee (structure %d)", fsID)}, nil
		},
	})
}

func (s *FeeService) postCharge(ctx context.Context, c ledger.Charge) (core.LedgerEntry, bool, error) {
	entry, created, err := s.ledger.PostCharge(ctx, c)
	if err != nil {
		return core.LedgerEntry{}, false, fmt.Errorf("post %s: %w", c.Kind, err)
	}
	if created {
		s.entryPosted(ctx, entry)
	}
	return entry, created, nil
}

func dueDescription(d core.MonthlyDue) string {
	desc := fmt.Sprintf("%s fees, class %s", d.Month, d.Class)
	if d.Route != "" {
		desc += ", route " + d.Route
	}
	return desc
}

// IssueReceipt records a payment and the receipt for it.
func (s *FeeService) IssueReceipt(ctx context.Context, req core.IssueRequest) (r core.Receipt, err error) {
	defer s.metrics.observe("issue_receipt", time.Now(), &err)
	if r, err = s.receipts.Issue(ctx, req); err != nil {
		return core.Receipt{}, fmt.Errorf("issue receipt: %w", err)
	}
	s.metrics.receiptIssued()
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionCreate,
		EntityType: core.EntityReceipt,
		EntityID:   strconv.FormatInt(r.ID, 10),
		StudentID:  r.StudentID,
		SessionID:  r.SessionID,
	})
	return r, nil
}

// VoidReceipt voids a receipt and reverses what it settled.
func (s *FeeService) VoidReceipt(ctx context.Context, receiptID int64, reason string) (r core.Receipt, err error) {
	defer s.metrics.observe("void_receipt", time.Now(), &err)
	if r, err = s.receipts.Void(ctx, receiptID, reason); err != nil {
		return core.Receipt{}, fmt.Errorf("void receipt %d: %w", receiptID, err)
	}
	s.metrics.receiptVoided()
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionDelete,
		EntityType: core.EntityReceipt,
		EntityID:   strconv.FormatInt(r.ID, 10),
		StudentID:  r.StudentID,
		SessionID:  r.SessionID,
	})
	return r, nil
}

// ReverseEntry offsets an entry with a reversal.
func (s *FeeService) ReverseEntry(ctx context.Context, entryID int64, reason string) (reversal core.LedgerEntry, err error) {
	defer s.metrics.observe("reverse_entry", time.Now(), &err)
	if reversal, err = s.ledger.Reverse(ctx, entryID, reason); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("reverse entry %d: %w", entryID, err)
	}
	s.metrics.entryPosted(reversal.Kind)
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionDelete,
		EntityType: core.EntityLedgerEntry,
		EntityID:   strconv.FormatInt(entryID, 10),
		StudentID:  reversal.StudentID,
		SessionID:  reversal.SessionID,
	})
	return reversal, nil
}

// RestoreEntry re-posts a reversed entry.
func (s *FeeService) RestoreEntry(ctx context.Context, entryID int64) (restored core.LedgerEntry, err error) {
	defer s.metrics.observe("restore_entry", time.Now(), &err)
	if restored, err = s.ledger.Restore(ctx, entryID); err != nil {
		return core.LedgerEntry{}, fmt.Errorf("restore entry %d: %w", entryID, err)
	}
	s.metrics.entryPosted(restored.Kind)
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionRestore,
		EntityType: core.EntityLedgerEntry,
		EntityID:   strconv.FormatInt(entryID, 10),
		StudentID:  restored.StudentID,
		SessionID:  restored.SessionID,
	})
	return restored, nil
}

// PromoteStudent carries one student into the next session.
func (s *FeeService) PromoteStudent(ctx context.Context, from, to, studentID int64) (p core.SessionPromotion, created bool, err error) {
	defer s.metrics.observe("promote_student", time.Now(), &err)
	if p, created, err = s.promotion.Promote(ctx, from, to, studentID); err != nil {
		return core.SessionPromotion{}, false, fmt.Errorf("promote student %d: %w", studentID, err)
	}
	if created {
		s.resolver.Invalidate()
		s.promoted(ctx, p)
	}
	return p, created, nil
}

// PromoteSession carries every student of from into to. It can be re-run
// after an interruption.
func (s *FeeService) PromoteSession(ctx context.Context, from, to int64) (res core.BatchResult, err error) {
	defer s.metrics.observe("promote_session", time.Now(), &err)
	res, err = s.promotion.PromoteAll(ctx, from, to)
	if res.Promoted > 0 {
		// Promotions write enrollments and carry transport routes forward.
		s.resolver.Invalidate()
	}
	if err != nil {
		return res, fmt.Errorf("promote session %d to %d: %w", from, to, err)
	}
	if res.Promoted > 0 {
		s.publish(ctx, core.ChangeEvent{
			Kind:       core.ActionCreate,
			EntityType: core.EntitySessionPromotion,
			EntityID:   fmt.Sprintf("%d:%d", from, to),
			SessionID:  to,
		})
	}
	return res, nil
}

// RolloverSession makes to the current session.
func (s *FeeService) RolloverSession(ctx context.Context, from, to int64) (sess core.AcademicSession, err error) {
	defer s.metrics.observe("rollover_session", time.Now(), &err)
	if sess, err = s.promotion.Rollover(ctx, from, to); err != nil {
		return core.AcademicSession{}, fmt.Errorf("rollover session: %w", err)
	}
	s.resolver.Invalidate()
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionUpdate,
		EntityType: core.EntityAcademicSession,
		EntityID:   strconv.FormatInt(to, 10),
		SessionID:  to,
	})
	return sess, nil
}

// BalanceAsOf returns a balance recomputed from the entry log.
func (s *FeeService) BalanceAsOf(ctx context.Context, studentID, sessionID int64, at time.Time) (core.Balance, error) {
	return s.ledger.BalanceAsOf(ctx, studentID, sessionID, at)
}

// AmountDue resolves what a student owes for a month, without posting it.
func (s *FeeService) AmountDue(ctx context.Context, studentID, sessionID int64, month time.Month) (core.MonthlyDue, error) {
	return s.resolver.Breakdown(ctx, studentID, sessionID, month)
}

// History yields audit records newest first.
func (s *FeeService) History(ctx context.Context, f core.AuditFilter) iter.Seq2[core.AuditLog, error] {
	return s.audit.History(ctx, f)
}

func (s *FeeService) Reconcile(ctx context.Context, sessionID int64) (core.ReconcileReport, error) {
	return s.ledger.Reconcile(ctx, sessionID)
}

func (s *FeeService) Entries(ctx context.Context, studentID, sessionID int64) ([]core.LedgerEntry, error) {
	return s.ledger.Entries(ctx, studentID, sessionID)
}

func (s *FeeService) GetEntry(ctx context.Context, entryID int64) (core.LedgerEntry, error) {
	return s.ledger.Get(ctx, entryID)
}

func (s *FeeService) GetReceipt(ctx context.Context, receiptID int64) (core.Receipt, error) {
	return s.receipts.Get(ctx, receiptID)
}

// ListReceipts returns a session's receipts issued in [from, to).
func (s *FeeService) ListReceipts(ctx context.Context, sessionID int64, from, to time.Time) ([]core.Receipt, error) {
	return s.receipts.ListBySession(ctx, sessionID, from, to)
}

func (s *FeeService) StudentReceipts(ctx context.Context, studentID, sessionID int64) ([]core.Receipt, error) {
	return s.receipts.ListByStudent(ctx, studentID, sessionID)
}

// CurrentSession returns the session marked current.
func (s *FeeService) CurrentSession(ctx context.Context) (core.AcademicSession, error) {
	var sess core.AcademicSession
	err := s.store.View(ctx, func(q *storage.Tx) error {
		var err error
		sess, err = q.CurrentSession(ctx)
		return err
	})
	return sess, err
}

func (s *FeeService) Session(ctx context.Context, sessionID int64) (core.AcademicSession, error) {
	var sess core.AcademicSession
	err := s.store.View(ctx, func(q *storage.Tx) error {
		var err error
		sess, err = q.GetSession(ctx, sessionID)
		return err
	})
	return sess, err
}

func (s *FeeService) Sessions(ctx context.Context) ([]core.AcademicSession, error) {
	var out []core.AcademicSession
	err := s.store.View(ctx, func(q *storage.Tx) error {
		var err error
		out, err = q.ListSessions(ctx)
		return err
	})
	return out, err
}

func (s *FeeService) Student(ctx context.Context, studentID int64) (core.Student, error) {
	var st core.Student
	err := s.store.View(ctx, func(q *storage.Tx) error {
		var err error
		st, err = q.GetStudent(ctx, studentID)
		return err
	})
	return st, err
}

// SessionStudents lists the ids of students enrolled in a session.
func (s *FeeService) SessionStudents(ctx context.Context, sessionID int64) ([]int64, error) {
	var ids []int64
	err := s.store.View(ctx, func(q *storage.Tx) error {
		if _, err := q.GetSession(ctx, sessionID); err != nil {
			return err
		}
		var err error
		ids, err = q.SessionStudents(ctx, sessionID)
		return err
	})
	return ids, err
}

// Ping checks that storage is reachable.
func (s *FeeService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *FeeService) entryPosted(ctx context.Context, e core.LedgerEntry) {
	s.metrics.entryPosted(e.Kind)
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionCreate,
		EntityType: core.EntityLedgerEntry,
		EntityID:   strconv.FormatInt(e.ID, 10),
		StudentID:  e.StudentID,
		SessionID:  e.SessionID,
	})
}

func (s *FeeService) promoted(ctx context.Context, p core.SessionPromotion) {
	s.publish(ctx, core.ChangeEvent{
		Kind:       core.ActionCreate,
		EntityType: core.EntitySessionPromotion,
		EntityID:   fmt.Sprintf("%d:%d:%d", p.FromSessionID, p.ToSessionID, p.StudentID),
		StudentID:  p.StudentID,
		SessionID:  p.ToSessionID,
	})
}

// publish sends ev after the write it describes has committed. Failures are
// logged and never undo the write.
func (s *FeeService) publish(ctx context.Context, ev core.ChangeEvent) {
	if s.notifier == nil {
		slog.DebugContext(ctx, "No notifier configured, skipping change event",
			"entity_type", ev.EntityType, "entity_id", ev.EntityID)
		return
	}
	ev.ID = uuid.NewString()
	ev.At = time.Now().UTC()
	if err := s.notifier.PublishChange(ctx, ev); err != nil {
		s.metrics.publishFailed()
		slog.ErrorContext(ctx, "Failed to publish change event",
			"event_id", ev.ID, "kind", ev.Kind, "entity_type", ev.EntityType,
			"entity_id", ev.EntityID, "error", err)
	}
}

// Close closes storage and the notifier when it holds a connection.
func (s *FeeService) Close() error {
	var errs []error
	if c, ok := s.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notifier: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close fee service: %w", errors.Join(errs...))
	}
	return nil
}
