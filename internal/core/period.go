package core

import "time"

// MonthsPerSession is the maximum number of calendar months an academic
// session spans.
const MonthsPerSession = 12

// MonthStart returns the first instant of month m inside session s.
//
// A session starting in April 2025 maps April..December to 2025 and
// January..March to 2026. Months that fall after the session end are
// rejected with ErrInvalidMonth.
func MonthStart(s AcademicSession, m time.Month) (time.Time, error) {
	if m < time.January || m > time.December {
		return time.Time{}, ErrInvalidMonth
	}
	start := firstOfMonth(s.Start)
	offset := (int(m) - int(start.Month()) + MonthsPerSession) % MonthsPerSession
	t := start.AddDate(0, offset, 0)
	if !s.End.IsZero() && t.After(s.End) {
		return time.Time{}, ErrInvalidMonth
	}
	return t, nil
}

// MonthEnd returns the last instant of month m inside session s.
func MonthEnd(s AcademicSession, m time.Month) (time.Time, error) {
	start, err := MonthStart(s, m)
	if err != nil {
		return time.Time{}, err
	}
	return start.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
}

// SessionMonths lists the months of s in chronological order.
func SessionMonths(s AcademicSession) []time.Month {
	start := firstOfMonth(s.Start)
	months := make([]time.Month, 0, MonthsPerSession)
	for i := 0; i < MonthsPerSession; i++ {
		t := start.AddDate(0, i, 0)
		if !s.End.IsZero() && t.After(s.End) {
			break
		}
		months = append(months, t.Month())
	}
	return months
}

// ContainsMonth reports whether m is one of the months of s.
func (s AcademicSession) ContainsMonth(m time.Month) bool {
	_, err := MonthStart(s, m)
	return err == nil
}

// Covers reports whether t lies within [from, to]. A nil to is open ended.
func Covers(from time.Time, to *time.Time, t time.Time) bool {
	if t.Before(from) {
		return false
	}
	return to == nil || !t.After(*to)
}

func firstOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
