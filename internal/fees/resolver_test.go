package fees

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feeledger/internal/core"
	"feeledger/internal/storage/storagetest"
)

func TestAmountDueTuitionOnly(t *testing.T) {
	f := storagetest.New(t)
	r := NewResolver(f.Store, Options{})

	got, err := r.AmountDueForMonth(context.Background(), f.Student.ID, f.Session.ID, time.April)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != storagetest.MonthlyTuition {
		t.Fatalf("expected %s, got %s", storagetest.MonthlyTuition, got)
	}
}

func TestBreakdownWithTransportAndConcessions(t *testing.T) {
	f := storagetest.New(t)
	ctx := context.Background()

	if _, err := f.Store.AddTransportFee(ctx, core.TransportFee{
		Route: "R7", Fee: core.Money{Cents: 30000}, EffectiveFrom: f.Session.Start,
	}); err != nil {
		t.Fatalf("add transport fee: %v", err)
	}
	if _, err := f.Store.EnrollTransport(ctx, core.TransportEnrollment{
		StudentID: f.Student.ID, SessionID: f.Session.ID, Route: "R7", Start: f.Session.Start,
	}); err != nil {
		t.Fatalf("enroll transport: %v", err)
	}
	if _, err := f.Store.AddConcession(ctx, core.Concession{
		StudentID: f.Student.ID, SessionID: f.Session.ID, Kind: core.ConcessionPercent, Value: 1000,
		ValidFrom: f.Session.Start, Active: true, Description: "sibling",
	}); err != nil {
		t.Fatalf("add concession: %v", err)
	}
	if _, err := f.Store.AddConcession(ctx, core.Concession{
		StudentID: f.Student.ID, SessionID: f.Session.ID, Kind: core.ConcessionFixed, Value: 5000,
		ValidFrom: f.Session.Start, Active: false,
	}); err != nil {
		t.Fatalf("add inactive concession: %v", err)
	}

	r := NewResolver(f.Store, Options{})
	d, err := r.Breakdown(ctx, f.Student.ID, f.Session.ID, time.June)
	if err != nil {
		t.Fatalf("breakdown: %v", err)
	}
	// 1000.00 tuition + 300.00 transport - 10% of tuition
	if d.Tuition.Cents != 100000 || d.Transport.Cents != 30000 || d.Concession.Cents != 10000 {
		t.Fatalf("unexpected breakdown %+v", d)
	}
	if d.Total.Cents != 120000 {
		t.Fatalf("expected total 1200.00, got %s", d.Total)
	}
	if d.Route != "R7" || d.FeeStructureID != f.FeeStructure.ID || d.Class != "5" {
		t.Fatalf("unexpected metadata %+v", d)
	}
}

func TestConcessionClampsAtZero(t *testing.T) {
	f := storagetest.New(t)
	ctx := context.Background()
	if _, err := f.Store.AddConcession(ctx, core.Concession{
		StudentID: f.Student.ID, SessionID: f.Session.ID, Kind: core.ConcessionFixed, Value: 999999,
		ValidFrom: f.Session.Start, Active: true,
	}); err != nil {
		t.Fatalf("add concession: %v", err)
	}
	got, err := NewResolver(f.Store, Options{}).AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.May)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !got.IsZero() {
		t.Fatalf("expected zero due, got %s", got)
	}
}

func TestMissingConfiguration(t *testing.T) {
	f := storagetest.New(t)
	ctx := context.Background()
	r := NewResolver(f.Store, Options{})

	// Class 9 has no fee structure.
	orphan := f.AddStudent(t, "ADM-009", "9")
	if _, err := r.AmountDueForMonth(ctx, orphan.ID, f.Session.ID, time.April); !errors.Is(err, core.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing, got %v", err)
	}

	// Transport route without a fee row.
	if _, err := f.Store.EnrollTransport(ctx, core.TransportEnrollment{
		StudentID: f.Student.ID, SessionID: f.Session.ID, Route: "R-unpriced", Start: f.Session.Start,
	}); err != nil {
		t.Fatalf("enroll transport: %v", err)
	}
	if _, err := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.April); !errors.Is(err, core.ErrConfigurationMissing) {
		t.Fatalf("expected ErrConfigurationMissing for transport, got %v", err)
	}
}

func TestNotEnrolledAndUnknownIDs(t *testing.T) {
	f := storagetest.New(t)
	ctx := context.Background()
	r := NewResolver(f.Store, Options{})

	st, err := f.Store.CreateStudent(ctx, core.Student{AdmissionNumber: "ADM-X", Name: "X", Active: true})
	if err != nil {
		t.Fatalf("create student: %v", err)
	}
	if _, err := r.AmountDueForMonth(ctx, st.ID, f.Session.ID, time.April); !errors.Is(err, core.ErrNotEnrolled) {
		t.Fatalf("expected ErrNotEnrolled, got %v", err)
	}
	if _, err := r.AmountDueForMonth(ctx, 9999, f.Session.ID, time.April); !errors.Is(err, core.ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound, got %v", err)
	}
	if _, err := r.AmountDueForMonth(ctx, f.Student.ID, 9999, time.April); !errors.Is(err, core.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMidSessionClassChangeIsNotRetroactive(t *testing.T) {
	f := storagetest.New(t)
	ctx := context.Background()
	f.AddFeeStructure(t, "6", f.Session, core.Money{Cents: 150000})

	if _, err := f.Store.Enroll(ctx, core.Enrollment{
		StudentID: f.Student.ID, SessionID: f.Session.ID, Class: "6",
		EffectiveFrom: time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	r := NewResolver(f.Store, Options{})
	sep, err := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.September)
	if err != nil {
		t.Fatalf("resolve september: %v", err)
	}
	oct, err := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.October)
	if err != nil {
		t.Fatalf("resolve october: %v", err)
	}
	if sep.Cents != 100000 || oct.Cents != 150000 {
		t.Fatalf("expected 1000.00 then 1500.00, got %s and %s", sep, oct)
	}
}

func TestNewFeeStructureVersionNeedsInvalidate(t *testing.T) {
	f := storagetest.New(t)
	ctx := context.Background()
	r := NewResolver(f.Store, Options{CacheTTL: time.Hour})

	before, err := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.April)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f.AddFeeStructure(t, "5", f.Session, core.Money{Cents: 110000})

	cached, _ := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.April)
	if cached != before {
		t.Fatalf("expected cached value %s, got %s", before, cached)
	}
	r.Invalidate()
	after, err := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, time.April)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if after.Cents != 110000 {
		t.Fatalf("expected latest version after invalidate, got %s", after)
	}
}

func TestConcurrentResolution(t *testing.T) {
	f := storagetest.New(t)
	r := NewResolver(f.Store, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(m time.Month) {
			defer wg.Done()
			got, err := r.AmountDueForMonth(ctx, f.Student.ID, f.Session.ID, m)
			if err == nil && got != storagetest.MonthlyTuition {
				err = errors.New("unexpected amount " + got.String())
			}
			errs <- err
		}(time.Month(i%12 + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent resolve: %v", err)
		}
	}
}

func TestAdmissionFee(t *testing.T) {
	f := storagetest.New(t)
	fee, fsID, err := NewResolver(f.Store, Options{}).AdmissionFee(context.Background(), f.Student.ID, f.Session.ID)
	if err != nil {
		t.Fatalf("admission fee: %v", err)
	}
	if fee != storagetest.AdmissionFee || fsID != f.FeeStructure.ID {
		t.Fatalf("unexpected admission fee %s from %d", fee, fsID)
	}
}

func TestInvalidMonth(t *testing.T) {
	f := storagetest.New(t)
	_, err := NewResolver(f.Store, Options{}).AmountDueForMonth(context.Background(), f.Student.ID, f.Session.ID, 13)
	if !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("expected ErrInvalidMonth, got %v", err)
	}
}
