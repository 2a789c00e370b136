package core

import "errors"

// Validation errors.
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidDiscount    = errors.New("invalid discount")
	ErrInvalidPaymentMode = errors.New("invalid payment mode")
	ErrInvalidEntryKind   = errors.New("invalid entry kind")
	ErrInvalidID          = errors.New("invalid id")
	ErrNoSettlements      = errors.New("receipt has no settlements")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
)

// Lookup failures. Read paths report these instead of returning zero values.
var (
	ErrStudentNotFound = errors.New("student not found")
	ErrSessionNotFound = errors.New("academic session not found")
	ErrEntryNotFound   = errors.New("ledger entry not found")
	ErrReceiptNotFound = errors.New("receipt not found")
)

// Policy and idempotency guards.
var (
	ErrStudentInactive        = errors.New("student is inactive")
	ErrSessionArchived        = errors.New("academic session is archived")
	ErrNotEnrolled            = errors.New("student not enrolled in session")
	ErrConfigurationMissing   = errors.New("fee configuration missing")
	ErrAlreadyReversed        = errors.New("ledger entry already reversed")
	ErrNotReversed            = errors.New("ledger entry is not reversed")
	ErrAlreadyRestored        = errors.New("ledger entry already restored")
	ErrAlreadyVoided          = errors.New("receipt already voided")
	ErrSourceSessionNotClosed = errors.New("source session is still current")
	ErrSameSession            = errors.New("source and target session are the same")
	ErrSessionNotCurrent      = errors.New("academic session is not current")
)

// ErrStorageBusy reports that a write transaction could not be acquired
// within the configured wait. Callers may retry with backoff.
var ErrStorageBusy = errors.New("storage busy")

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageBusy)
}

// IsNotFound reports whether err is a lookup failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrReceiptNotFound)
}

// IsConflict reports whether err is a tripped idempotency or policy guard.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrAlreadyVoided) ||
		errors.Is(err, ErrAlreadyRestored) ||
		errors.Is(err, ErrNotReversed) ||
		errors.Is(err, ErrSourceSessionNotClosed) ||
		errors.Is(err, ErrSessionNotCurrent) ||
		errors.Is(err, ErrStudentInactive) ||
		errors.Is(err, ErrSessionArchived)
}

// IsValidation reports whether err was caused by bad caller input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrInvalidDiscount) ||
		errors.Is(err, ErrInvalidPaymentMode) ||
		errors.Is(err, ErrInvalidEntryKind) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrNoSettlements) ||
		errors.Is(err, ErrEmptyDescription) ||
		errors.Is(err, ErrDescriptionTooLong) ||
		errors.Is(err, ErrSameSession)
}
