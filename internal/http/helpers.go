package http

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadMonth = errors.New("invalid month")

// parseMonth accepts a month number (1-12) or an English month name or
// its three-letter abbreviation.
func parseMonth(s string) (time.Month, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, errBadMonth
		}
		return time.Month(n), nil
	}
	if len(s) < 3 {
		return 0, errBadMonth
	}
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if s == name || s == name[:3] {
			return m, nil
		}
	}
	return 0, errBadMonth
}

// parseDate parses a date in YYYY-MM-DD format or an RFC 3339 timestamp.
// Bare dates are taken as UTC midnight.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// endOfDay moves a bare date to its last instant so "as of" a date
// includes everything posted that day.
func endOfDay(t time.Time) time.Time {
	if t.IsZero() || t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || t.Nanosecond() != 0 {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
