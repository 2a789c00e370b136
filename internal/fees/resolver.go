// Package fees resolves what a student owes for a month from the reference
// tables alone. It never reads the ledger.
package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feeledger/internal/cache"
	"feeledger/internal/core"
	"feeledger/internal/storage"

	"golang.org/x/sync/singleflight"
)

// Options configures the resolution cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 10 * time.Minute
)

// Resolver computes monthly dues. Results are cached per student, session
// and month; concurrent misses for the same key share one computation.
type Resolver struct {
	store *storage.Store
	cache *cache.LRUCache[core.MonthlyDue]
	group singleflight.Group
}

func NewResolver(store *storage.Store, opts Options) *Resolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &Resolver{
		store: store,
		cache: cache.NewLRUCache[core.MonthlyDue](opts.CacheSize, opts.CacheTTL),
	}
}

// Cache exposes the resolution cache so it can be registered for cleanup.
func (r *Resolver) Cache() *cache.LRUCache[core.MonthlyDue] {
	return r.cache
}

// Invalidate drops cached results. Call it after reference data changes.
func (r *Resolver) Invalidate() {
	r.cache.Purge()
}

// AmountDueForMonth returns tuition plus transport minus concessions.
func (r *Resolver) AmountDueForMonth(ctx context.Context, studentID, sessionID int64, month time.Month) (core.Money, error) {
	d, err := r.Breakdown(ctx, studentID, sessionID, month)
	if err != nil {
		return core.Zero, err
	}
	return d.Total, nil
}

// Breakdown returns the resolved due with its components.
func (r *Resolver) Breakdown(ctx context.Context, studentID, sessionID int64, month time.Month) (core.MonthlyDue, error) {
	key := fmt.Sprintf("%d:%d:%d", studentID, sessionID, int(month))
	if d, ok := r.cache.Get(key); ok {
		return d, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		var d core.MonthlyDue
		err := r.store.View(ctx, func(q *storage.Tx) error {
			var err error
			d, err = Compute(ctx, q, studentID, sessionID, month)
			return err
		})
		if err != nil {
			return core.MonthlyDue{}, err
		}
		r.cache.Set(key, d)
		return d, nil
	})
	if err != nil {
		return core.MonthlyDue{}, err
	}
	return v.(core.MonthlyDue), nil
}

// AdmissionFee returns the one-time admission fee of the class the student
// joined the session in.
func (r *Resolver) AdmissionFee(ctx context.Context, studentID, sessionID int64) (core.Money, int64, error) {
	var (
		fee  core.Money
		fsID int64
	)
	err := r.store.View(ctx, func(q *storage.Tx) error {
		var err error
		fee, fsID, err = AdmissionFeeTx(ctx, q, studentID, sessionID)
		return err
	})
	return fee, fsID, err
}

// Compute resolves one month without caching, using q for every read.
func Compute(ctx context.Context, q *storage.Tx, studentID, sessionID int64, month time.Month) (core.MonthlyDue, error) {
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return core.MonthlyDue{}, err
	}
	sess, err := q.GetSession(ctx, sessionID)
	if err != nil {
		return core.MonthlyDue{}, err
	}
	monthStart, err := core.MonthStart(sess, month)
	if err != nil {
		return core.MonthlyDue{}, fmt.Errorf("month %d of session %s: %w", int(month), sess.Name, err)
	}

	// The class in effect when the month begins. A class change later in
	// the session never reaches back into months that already started.
	classAt := monthStart
	if classAt.Before(sess.Start) {
		classAt = sess.Start
	}
	enrollment, err := q.EnrollmentAt(ctx, studentID, sessionID, classAt)
	if err != nil {
		return core.MonthlyDue{}, err
	}

	fs, err := q.LatestFeeStructure(ctx, enrollment.Class, sessionID)
	if err != nil {
		return core.MonthlyDue{}, fmt.Errorf("fee structure for class %s in session %s: %w", enrollment.Class, sess.Name, err)
	}
	tuition, ok := fs.Tuition[month]
	if !ok {
		return core.MonthlyDue{}, fmt.Errorf("no tuition for %s in class %s v%d: %w",
			month, fs.Class, fs.Version, core.ErrConfigurationMissing)
	}

	due := core.MonthlyDue{
		StudentID:      studentID,
		SessionID:      sessionID,
		Month:          month,
		Class:          enrollment.Class,
		FeeStructureID: fs.ID,
		Tuition:        tuition,
	}

	te, ok, err := q.TransportEnrollmentAt(ctx, studentID, sessionID, monthStart)
	if err != nil {
		return core.MonthlyDue{}, err
	}
	if ok {
		fee, err := q.TransportFeeAt(ctx, te.Route, monthStart)
		if err != nil {
			return core.MonthlyDue{}, fmt.Errorf("transport fee for route %s at %s: %w",
				te.Route, monthStart.Format("2006-01-02"), err)
		}
		due.Route = te.Route
		due.Transport = fee.Fee
	}

	concessions, err := q.ActiveConcessions(ctx, studentID, sessionID, monthStart)
	if err != nil {
		return core.MonthlyDue{}, err
	}
	gross := core.SumMoney(due.Tuition, due.Transport)
	due.Concession = concessionAmount(tuition, concessions)
	if due.Concession.Cents > gross.Cents {
		due.Concession = gross
	}
	due.Total = gross.Sub(due.Concession)
	return due, nil
}

// concessionAmount sums the reductions. Percent concessions apply to
// tuition only.
func concessionAmount(tuition core.Money, concessions []core.Concession) core.Money {
	var total core.Money
	for _, c := range concessions {
		switch c.Kind {
		case core.ConcessionPercent:
			total = total.Add(tuition.PercentOf(c.Value))
		case core.ConcessionFixed:
			total = total.Add(core.Money{Cents: c.Value})
		}
	}
	return total
}

// AdmissionFeeTx returns the admission fee and the fee structure id it
// came from. The class is the one in effect at session start, or for
// students who joined later, the one at session end.
func AdmissionFeeTx(ctx context.Context, q *storage.Tx, studentID, sessionID int64) (core.Money, int64, error) {
	if _, err := q.GetStudent(ctx, studentID); err != nil {
		return core.Zero, 0, err
	}
	sess, err := q.GetSession(ctx, sessionID)
	if err != nil {
		return core.Zero, 0, err
	}
	enrollment, err := q.EnrollmentAt(ctx, studentID, sessionID, sess.Start)
	if errors.Is(err, core.ErrNotEnrolled) {
		enrollment, err = q.EnrollmentAt(ctx, studentID, sessionID, sess.End)
	}
	if err != nil {
		return core.Zero, 0, err
	}
	fs, err := q.LatestFeeStructure(ctx, enrollment.Class, sessionID)
	if err != nil {
		return core.Zero, 0, fmt.Errorf("fee structure for class %s in session %s: %w", enrollment.Class, sess.Name, err)
	}
	if fs.AdmissionFee.IsZero() {
		return core.Zero, fs.ID, fmt.Errorf("no admission fee for class %s v%d: %w", fs.Class, fs.Version, core.ErrConfigurationMissing)
	}
	return fs.AdmissionFee, fs.ID, nil
}
