// Package core provides the fee ledger's domain types.
//
// This file contains the Money type and the helpers that move amounts
// between their integer minor-unit form and decimal strings.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an exact amount in minor units (paise, cents). It is signed:
// ledger entries use positive values for dues and negative values for credits.
type Money struct {
	Cents int64
}

// maxMajorUnits bounds parsed amounts so that Cents never overflows.
var maxMajorUnits = decimal.New((1<<63-1)/100, 0)

// Zero is the zero amount.
var Zero = Money{}

// Add returns m + o.
func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }

// Sub returns m - o.
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{Cents: -m.Cents} }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Cents == 0 }

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Cents > 0 }

// IsNegative reports whether the amount is less than zero.
func (m Money) IsNegative() bool { return m.Cents < 0 }

// Validate requires a strictly positive amount.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the amount in major units as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimals, e.g. "1000.00" or "-12.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// PercentOf returns basisPoints/10000 of m, rounded half away from zero
// to the nearest minor unit.
func (m Money) PercentOf(basisPoints int64) Money {
	v := decimal.New(m.Cents, 0).
		Mul(decimal.New(basisPoints, 0)).
		Div(decimal.New(10000, 0)).
		Round(0)
	return Money{Cents: v.IntPart()}
}

// SumMoney adds all values.
func SumMoney(values ...Money) Money {
	var total Money
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// ParseAmount converts a decimal string in major units to Money.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators, one
// optional leading sign, and rounds half away from zero on the third
// decimal place. Zero is allowed; callers that need a non-zero amount
// check with Validate.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("-12,34") -> -12.34
//	ParseAmount("12.345") -> 12.35
func ParseAmount(s string) (Money, error) {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	if neg || strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	cents, err := parseCents(s)
	if err != nil {
		return Zero, err
	}
	if neg {
		cents = -cents
	}
	return Money{Cents: cents}, nil
}

func parseCents(s string) (int64, error) {
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return 0, ErrInvalidAmount
		}
	}
	if strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	if d.GreaterThan(maxMajorUnits) {
		return 0, ErrInvalidAmount
	}
	return d.Round(2).Shift(2).IntPart(), nil
}

// MarshalJSON encodes the amount as a decimal string such as "1000.00".
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts a decimal string or a JSON number in major units.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*m = Zero
		return nil
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}
