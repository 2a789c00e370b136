package receipts

import (
	"context"
	"sync"
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
	ledger *ledger.Engine
	issuer *Issuer
	audit  *audit.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := storagetest.New(t)
	rec := audit.NewRecorder(f.Store, 0)
	engine := ledger.NewEngine(f.Store, rec)
	return &harness{Fixture: f, ledger: engine, issuer: NewIssuer(f.Store, engine, rec), audit: rec}
}

func (h *harness) aprilRequest(cents int64) core.IssueRequest {
	return core.IssueRequest{
		StudentID: h.Student.ID,
		SessionID: h.Session.ID,
		Settlements: []core.LedgerEntryDraft{
			{Month: time.April, Kind: core.KindPayment, Amount: core.Money{Cents: cents}},
		},
		Mode: core.ModeCash,
	}
}

func TestIssueAprilReceiptSettlesDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.Post(ctx, h.Draft(core.KindDue, time.April, 100000))
	require.NoError(t, err)

	r, err := h.issuer.Issue(ctx, h.aprilRequest(100000))
	require.NoError(t, err)
	require.Equal(t, int64(1), r.Number)
	require.Equal(t, int64(100000), r.Net.Cents)
	require.Len(t, r.EntryIDs, 1)
	require.NotNil(t, r.FeeStructureID)
	require.Equal(t, h.FeeStructure.ID, *r.FeeStructureID)

	bal, err := h.ledger.BalanceAsOf(ctx, h.Student.ID, h.Session.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, bal.Amount.IsZero(), "due 1000 and payment 1000 net to zero, got %s", bal.Amount)

	payment, err := h.ledger.Get(ctx, r.EntryIDs[0])
	require.NoError(t, err)
	require.Equal(t, core.KindPayment, payment.Kind)
	require.Equal(t, int64(-100000), payment.Amount.Cents)
	require.Equal(t, r.ID, *payment.ReceiptID)

	logs, err := audit.Collect(h.audit.History(ctx, core.AuditFilter{EntityType: core.EntityReceipt}))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, core.ActionCreate, logs[0].Action)
}

func TestVoidRestoresOutstandingDue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.Post(ctx, h.Draft(core.KindDue, time.April, 100000))
	require.NoError(t, err)
	r, err := h.issuer.Issue(ctx, h.aprilRequest(100000))
	require.NoError(t, err)

	voided, err := h.issuer.Void(ctx, r.ID, "cheque bounced")
	require.NoError(t, err)
	require.True(t, voided.IsVoided())
	require.Equal(t, "cheque bounced", voided.Void.Reason)
	require.Equal(t, r.Number, voided.Number)

	bal, err := h.ledger.BalanceAsOf(ctx, h.Student.ID, h.Session.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(100000), bal.Amount.Cents)

	logs, err := audit.Collect(h.audit.History(ctx, core.AuditFilter{EntityType: core.EntityReceipt, Action: core.ActionDelete}))
	require.NoError(t, err)
	require.Len(t, logs, 1)

	_, err = h.issuer.Void(ctx, r.ID, "again")
	require.ErrorIs(t, err, core.ErrAlreadyVoided)

	// The next receipt continues the sequence.
	next, err := h.issuer.Issue(ctx, h.aprilRequest(100000))
	require.NoError(t, err)
	require.Equal(t, int64(2), next.Number)
}

func TestVoidSkipsEntriesAlreadyReversed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.aprilRequest(40000)
	req.Settlements = append(req.Settlements, core.LedgerEntryDraft{Month: time.May, Amount: core.Money{Cents: 60000}})
	r, err := h.issuer.Issue(ctx, req)
	require.NoError(t, err)
	require.Len(t, r.EntryIDs, 2)
	require.Equal(t, int64(100000), r.Total.Cents)

	_, err = h.ledger.Reverse(ctx, r.EntryIDs[0], "misposted")
	require.NoError(t, err)

	_, err = h.issuer.Void(ctx, r.ID, "")
	require.NoError(t, err)

	bal, err := h.ledger.BalanceAsOf(ctx, h.Student.ID, h.Session.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, bal.Amount.IsZero())
}

func TestVoidReversesRestoredPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.Post(ctx, h.Draft(core.KindDue, time.April, 100000))
	require.NoError(t, err)
	r, err := h.issuer.Issue(ctx, h.aprilRequest(100000))
	require.NoError(t, err)
	payment := r.EntryIDs[0]

	_, err = h.ledger.Reverse(ctx, payment, "entered twice")
	require.NoError(t, err)
	restored, err := h.ledger.Restore(ctx, payment)
	require.NoError(t, err)

	_, err = h.issuer.Void(ctx, r.ID, "cheque bounced")
	require.NoError(t, err)

	bal, err := h.ledger.BalanceAsOf(ctx, h.Student.ID, h.Session.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(100000), bal.Amount.Cents)

	got, err := h.ledger.Get(ctx, restored.ID)
	require.NoError(t, err)
	require.False(t, got.IsLive(), "the restore entry is offset by the void")
}

func TestIssueWithDiscount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.aprilRequest(100000)
	req.Discount = core.Money{Cents: 10000}
	req.Mode = core.ModeUPI
	r, err := h.issuer.Issue(ctx, req)
	require.NoError(t, err)
	require.Equal(t, int64(100000), r.Total.Cents)
	require.Equal(t, int64(10000), r.Discount.Cents)
	require.Equal(t, int64(90000), r.Net.Cents)

	got, err := h.issuer.Get(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, r.Net, got.Net)
	require.Equal(t, r.EntryIDs, got.EntryIDs)
}

func TestIssueRejectsBadRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		mod  func(*core.IssueRequest)
		want error
	}{
		{"no settlements", func(r *core.IssueRequest) { r.Settlements = nil }, core.ErrNoSettlements},
		{"negative settlement", func(r *core.IssueRequest) { r.Settlements[0].Amount = core.Money{Cents: -5} }, core.ErrInvalidAmount},
		{"discount above total", func(r *core.IssueRequest) { r.Discount = core.Money{Cents: 100001} }, core.ErrInvalidDiscount},
		{"bad mode", func(r *core.IssueRequest) { r.Mode = "barter" }, core.ErrInvalidPaymentMode},
		{"unknown student", func(r *core.IssueRequest) { r.StudentID = 777 }, core.ErrStudentNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := h.aprilRequest(100000)
			tc.mod(&req)
			_, err := h.issuer.Issue(ctx, req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	// Failed issuances consume no receipt numbers.
	r, err := h.issuer.Issue(ctx, h.aprilRequest(100))
	require.NoError(t, err)
	require.Equal(t, int64(1), r.Number)
}

func TestConcurrentIssuanceIsGapFree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[int64]bool{}
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.issuer.Issue(ctx, h.aprilRequest(1000))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[r.Number] = true
		}()
	}
	wg.Wait()
	require.Empty(t, errs)
	require.Len(t, numbers, n)

	var stored []int64
	require.NoError(t, h.Store.View(ctx, func(q *storage.Tx) error {
		var err error
		stored, err = q.ReceiptNumbers(ctx, h.Session.ID)
		return err
	}))
	require.Len(t, stored, n)
	for i, num := range stored {
		require.Equal(t, int64(i+1), num)
	}
}

func TestListings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	other := h.AddStudent(t, "ADM-002", "5")
	_, err := h.issuer.Issue(ctx, h.aprilRequest(1000))
	require.NoError(t, err)
	req := h.aprilRequest(2000)
	req.StudentID = other.ID
	_, err = h.issuer.Issue(ctx, req)
	require.NoError(t, err)

	all, err := h.issuer.ListBySession(ctx, h.Session.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, int64(1), all[0].Number)

	none, err := h.issuer.ListBySession(ctx, h.Session.ID, time.Now().Add(time.Hour), time.Time{})
	require.NoError(t, err)
	require.Empty(t, none)

	mine, err := h.issuer.ListByStudent(ctx, other.ID, h.Session.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, int64(2000), mine[0].Total.Cents)

	_, err = h.issuer.Get(ctx, 999)
	require.ErrorIs(t, err, core.ErrReceiptNotFound)
}
