// Package services provides business logic and orchestration services.
//
// This file implements the Strategy Pattern for deciding when a session
// month becomes billable. Each due policy has its own strategy.

package services

import (
	"fmt"
	"time"

	"feeledger/internal/core"
)

// DuePolicy names a billing strategy.
type DuePolicy string

const (
	PolicyMonthStart DuePolicy = "month_start"
	PolicyDayOfMonth DuePolicy = "day_of_month"
	PolicyAdvance    DuePolicy = "advance"
)

// DuenessChecker is the strategy interface for checking whether a month's
// fees are due.
type DuenessChecker interface {
	// IsDue reports whether the month starting at monthStart is billable at now.
	IsDue(monthStart, now time.Time) bool
}

// MonthStartChecker bills a month from its first day.
type MonthStartChecker struct{}

func (MonthStartChecker) IsDue(monthStart, now time.Time) bool {
	return !now.Before(monthStart)
}

// DayOfMonthChecker bills a month from a fixed day. Days past the end of a
// short month fall on its last day.
type DayOfMonthChecker struct {
	Day int
}

func (c DayOfMonthChecker) IsDue(monthStart, now time.Time) bool {
	day := c.Day
	if day < 1 {
		day = 1
	}
	lastDayOfMonth := time.Date(monthStart.Year(), monthStart.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDayOfMonth {
		day = lastDayOfMonth
	}
	target := time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, time.UTC)
	return !now.Before(target)
}

// AdvanceChecker bills a month a number of days before it starts.
type AdvanceChecker struct {
	Days int
}

func (c AdvanceChecker) IsDue(monthStart, now time.Time) bool {
	return !now.AddDate(0, 0, c.Days).Before(monthStart)
}

// duenessStrategies maps policies to constructors taking the policy's
// numeric parameter (ignored by month_start).
var duenessStrategies = map[DuePolicy]func(param int) DuenessChecker{
	PolicyMonthStart: func(int) DuenessChecker { return MonthStartChecker{} },
	PolicyDayOfMonth: func(day int) DuenessChecker { return DayOfMonthChecker{Day: day} },
	PolicyAdvance:    func(days int) DuenessChecker { return AdvanceChecker{Days: days} },
}

// GetDuenessChecker returns the checker for a policy.
func GetDuenessChecker(policy DuePolicy, param int) (DuenessChecker, error) {
	ctor, ok := duenessStrategies[policy]
	if !ok {
		return nil, fmt.Errorf("unknown due policy: %s", policy)
	}
	return ctor(param), nil
}

// RegisterDuenessChecker adds or replaces a policy.
func RegisterDuenessChecker(policy DuePolicy, ctor func(param int) DuenessChecker) {
	duenessStrategies[policy] = ctor
}

// DueMonths lists the months of sess that are billable at now, in session
// order.
func DueMonths(checker DuenessChecker, sess core.AcademicSession, now time.Time) []time.Month {
	var out []time.Month
	for _, m := range core.SessionMonths(sess) {
		start, err := core.MonthStart(sess, m)
		if err != nil {
			continue
		}
		if checker.IsDue(start, now) {
			out = append(out, m)
		}
	}
	return out
}
