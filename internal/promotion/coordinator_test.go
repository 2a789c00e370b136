package promotion

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feeledger/internal/audit"
	"feeledger/internal/core"
	"feeledger/internal/ledger"
	"feeledger/internal/storage"
	"feeledger/internal/storage/storagetest"
)

type harness struct {
	*storagetest.Fixture
	next   core.AcademicSession
	ledger *ledger.Engine
	coord  *Coordinator
	audit  *audit.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := storagetest.New(t)
	rec := audit.NewRecorder(f.Store, 0)
	engine := ledger.NewEngine(f.Store, rec)
	return &harness{
		Fixture: f,
		next:    f.NextSession(t),
		ledger:  engine,
		coord:   NewCoordinator(f.Store, engine, rec),
		audit:   rec,
	}
}

func (h *harness) rollover(t *testing.T) {
	t.Helper()
	cur, err := h.coord.Rollover(context.Background(), h.Session.ID, h.next.ID)
	require.NoError(t, err)
	require.True(t, cur.IsCurrent)
}

func TestPromoteRequiresClosedSource(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.coord.Promote(context.Background(), h.Session.ID, h.next.ID, h.Student.ID)
	require.ErrorIs(t, err, core.ErrSourceSessionNotClosed)

	_, err = h.coord.PromoteAll(context.Background(), h.Session.ID, h.next.ID)
	require.ErrorIs(t, err, core.ErrSourceSessionNotClosed)

	_, _, err = h.coord.Promote(context.Background(), h.Session.ID, h.Session.ID, h.Student.ID)
	require.ErrorIs(t, err, core.ErrSameSession)
}

func TestPromoteCarriesBalanceOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.Post(ctx, h.Draft(core.KindDue, time.March, 100000))
	require.NoError(t, err)
	_, err = h.ledger.Post(ctx, h.Draft(core.KindPayment, time.March, -40000))
	require.NoError(t, err)
	h.rollover(t)

	promo, created, err := h.coord.Promote(ctx, h.Session.ID, h.next.ID, h.Student.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, int64(60000), promo.CarriedBalance.Cents)
	require.NotNil(t, promo.OpeningEntryID)

	opening, err := h.ledger.Get(ctx, *promo.OpeningEntryID)
	require.NoError(t, err)
	require.Equal(t, core.KindOpeningBalance, opening.Kind)
	require.Equal(t, h.next.ID, opening.SessionID)

	again, created, err := h.coord.Promote(ctx, h.Session.ID, h.next.ID, h.Student.ID)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, promo.CarriedBalance, again.CarriedBalance)
	require.Equal(t, *promo.OpeningEntryID, *again.OpeningEntryID)

	bal, err := h.ledger.BalanceAsOf(ctx, h.Student.ID, h.next.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(60000), bal.Amount.Cents, "opening balance must be posted exactly once")

	logs, err := audit.Collect(h.audit.History(ctx, core.AuditFilter{EntityType: core.EntitySessionPromotion}))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	var snap core.SessionPromotion
	require.NoError(t, json.Unmarshal(logs[0].After, &snap))
	require.Equal(t, promo.CarriedBalance, snap.CarriedBalance)
}

func TestPromoteZeroBalancePostsNoEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rollover(t)

	promo, created, err := h.coord.Promote(ctx, h.Session.ID, h.next.ID, h.Student.ID)
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, promo.CarriedBalance.IsZero())
	require.Nil(t, promo.OpeningEntryID)

	entries, err := h.ledger.Entries(ctx, h.Student.ID, h.next.ID)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPromoteCarriesTransport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.Store.EnrollTransport(ctx, core.TransportEnrollment{
		StudentID: h.Student.ID, SessionID: h.Session.ID, Route: "R2", Start: h.Session.Start,
	})
	require.NoError(t, err)
	h.rollover(t)

	_, _, err = h.coord.Promote(ctx, h.Session.ID, h.next.ID, h.Student.ID)
	require.NoError(t, err)

	var (
		te core.TransportEnrollment
		ok bool
	)
	require.NoError(t, h.Store.View(ctx, func(q *storage.Tx) error {
		var err error
		te, ok, err = q.TransportEnrollmentAt(ctx, h.Student.ID, h.next.ID, h.next.Start)
		return err
	}))
	require.True(t, ok)
	require.Equal(t, "R2", te.Route)
}

func TestRollover(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// to is already current but from never preceded it.
	_, err := h.coord.Rollover(ctx, h.next.ID, h.Session.ID)
	require.ErrorIs(t, err, core.ErrSessionNotCurrent)

	h.rollover(t)
	// Repeating a completed rollover changes nothing.
	h.rollover(t)

	var cur core.AcademicSession
	require.NoError(t, h.Store.View(ctx, func(q *storage.Tx) error {
		var err error
		cur, err = q.CurrentSession(ctx)
		return err
	}))
	require.Equal(t, h.next.ID, cur.ID)

	logs, err := audit.Collect(h.audit.History(ctx, core.AuditFilter{EntityType: core.EntityAcademicSession}))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, core.ActionUpdate, logs[0].Action)
}

func TestPromoteAllIsResumable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	second := h.AddStudent(t, "ADM-002", "5")
	left := h.AddStudent(t, "ADM-003", "5")
	_, err := h.ledger.Post(ctx, core.LedgerEntryDraft{
		StudentID: second.ID, SessionID: h.Session.ID, Kind: core.KindAdjustment, Amount: core.Money{Cents: 1500},
	})
	require.NoError(t, err)
	require.NoError(t, h.Store.SetStudentActive(ctx, left.ID, false))
	h.rollover(t)

	// An interrupted run promoted the first student only.
	_, _, err = h.coord.Promote(ctx, h.Session.ID, h.next.ID, h.Student.ID)
	require.NoError(t, err)

	res, err := h.coord.PromoteAll(ctx, h.Session.ID, h.next.ID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Promoted)
	require.Equal(t, 2, res.Skipped)
	require.Empty(t, res.Failed)

	res, err = h.coord.PromoteAll(ctx, h.Session.ID, h.next.ID)
	require.NoError(t, err)
	require.Zero(t, res.Promoted)
	require.Equal(t, 3, res.Skipped)

	var n int
	require.NoError(t, h.Store.View(ctx, func(q *storage.Tx) error {
		var err error
		n, err = q.CountPromotions(ctx, h.Session.ID, h.next.ID)
		return err
	}))
	require.Equal(t, 2, n)

	bal, err := h.ledger.BalanceAsOf(ctx, second.ID, h.next.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(1500), bal.Amount.Cents)
}
