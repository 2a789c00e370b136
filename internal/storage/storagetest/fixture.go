// Package storagetest builds seeded ledger stores for tests.
package storagetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"feeledger/internal/core"
	"feeledger/internal/storage"
)

// MonthlyTuition is the tuition every month of the default fee structure.
var MonthlyTuition = core.Money{Cents: 100000}

// AdmissionFee is the admission fee of the default fee structure.
var AdmissionFee = core.Money{Cents: 500000}

// Fixture is a store seeded with one current session (2025-26), one active
// student enrolled in class "5" and a fee structure of 1000.00 per month.
type Fixture struct {
	Store        *storage.Store
	Session      core.AcademicSession
	Student      core.Student
	FeeStructure core.FeeStructure
}

// New opens a fresh store in t.TempDir and seeds it.
func New(t testing.TB) *Fixture {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"), storage.Options{AcquireTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	sess, err := store.CreateSession(ctx, core.AcademicSession{
		Name:      "2025-26",
		Start:     time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC),
		IsCurrent: true,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	f := &Fixture{Store: store, Session: sess}
	f.FeeStructure = f.AddFeeStructure(t, "5", sess, MonthlyTuition)
	f.Student = f.AddStudent(t, "ADM-001", "5")
	return f
}

// AddStudent creates an active student enrolled in class from session start.
func (f *Fixture) AddStudent(t testing.TB, admission, class string) core.Student {
	t.Helper()
	ctx := context.Background()
	st, err := f.Store.CreateStudent(ctx, core.Student{
		AdmissionNumber:    admission,
		Name:               "Student " + admission,
		AdmissionSessionID: f.Session.ID,
		Active:             true,
	})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	if _, err := f.Store.Enroll(ctx, core.Enrollment{
		StudentID: st.ID, SessionID: f.Session.ID, Class: class, Section: "A", EffectiveFrom: f.Session.Start,
	}); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	return st
}

// AddFeeStructure creates a fee structure with the same tuition for every
// month of sess.
func (f *Fixture) AddFeeStructure(t testing.TB, class string, sess core.AcademicSession, tuition core.Money) core.FeeStructure {
	t.Helper()
	months := make(map[time.Month]core.Money, core.MonthsPerSession)
	for _, m := range core.SessionMonths(sess) {
		months[m] = tuition
	}
	fs, err := f.Store.CreateFeeStructure(context.Background(), core.FeeStructure{
		Class: class, SessionID: sess.ID, AdmissionFee: AdmissionFee, Tuition: months,
	})
	if err != nil {
		t.Fatalf("create fee structure: %v", err)
	}
	return fs
}

// NextSession creates the 2026-27 session, not current.
func (f *Fixture) NextSession(t testing.TB) core.AcademicSession {
	t.Helper()
	sess, err := f.Store.CreateSession(context.Background(), core.AcademicSession{
		Name:  "2026-27",
		Start: time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2027, time.March, 31, 23, 59, 59, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

// Draft returns a posting draft for the fixture student and session.
func (f *Fixture) Draft(kind core.EntryKind, month time.Month, cents int64) core.LedgerEntryDraft {
	return core.LedgerEntryDraft{
		StudentID: f.Student.ID,
		SessionID: f.Session.ID,
		Month:     month,
		Kind:      kind,
		Amount:    core.Money{Cents: cents},
	}
}
