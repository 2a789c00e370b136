package core

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindDue            EntryKind = "due"
	KindAdmissionFee   EntryKind = "admission_fee"
	KindPayment        EntryKind = "payment"
	KindAdjustment     EntryKind = "adjustment"
	KindOpeningBalance EntryKind = "opening_balance"
	KindReversal       EntryKind = "reversal"
	KindRestore        EntryKind = "restore"
)

// PaymentMode is how a receipt was paid.
type PaymentMode string

const (
	ModeCash         PaymentMode = "cash"
	ModeCheque       PaymentMode = "cheque"
	ModeBankTransfer PaymentMode = "bank_transfer"
	ModeUPI          PaymentMode = "upi"
	ModeCard         PaymentMode = "card"
)

// AuditAction tags an audit record.
type AuditAction string

const (
	ActionCreate  AuditAction = "CREATE"
	ActionUpdate  AuditAction = "UPDATE"
	ActionDelete  AuditAction = "DELETE"
	ActionRestore AuditAction = "RESTORE"
)

// EntityType names the kind of row an audit record describes.
type EntityType string

const (
	EntityLedgerEntry      EntityType = "ledger_entry"
	EntityReceipt          EntityType = "receipt"
	EntitySessionPromotion EntityType = "session_promotion"
	EntityAcademicSession  EntityType = "academic_session"
)

// ConcessionKind selects how a concession reduces tuition.
type ConcessionKind string

const (
	ConcessionFixed   ConcessionKind = "fixed"
	ConcessionPercent ConcessionKind = "percent"
)

// MaxDescriptionLen is the longest description or remark, in characters.
const MaxDescriptionLen = 200

// TruncateDescription cuts s to MaxDescriptionLen characters on a rune
// boundary.
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= MaxDescriptionLen {
		return s
	}
	return string([]rune(s)[:MaxDescriptionLen])
}

type (
	Student struct {
		ID                 int64
		AdmissionNumber    string
		Name               string
		AdmissionSessionID int64
		AdmittedAt         time.Time
		Active             bool
	}

	AcademicSession struct {
		ID        int64
		Name      string // e.g. "2025-26"
		Start     time.Time
		End       time.Time
		IsCurrent bool
		Archived  bool
	}

	// Enrollment places a student in a class for a session from EffectiveFrom on.
	Enrollment struct {
		ID            int64
		StudentID     int64
		SessionID     int64
		Class         string
		Section       string
		EffectiveFrom time.Time
	}

	// FeeStructure is one version of the tuition schedule of a class.
	// Corrections insert a new version; rows are never edited in place.
	FeeStructure struct {
		ID           int64
		Class        string
		SessionID    int64
		Version      int
		AdmissionFee Money
		Tuition      map[time.Month]Money
		CreatedAt    time.Time
	}

	TransportFee struct {
		ID            int64
		Route         string
		Fee           Money
		EffectiveFrom time.Time
		EffectiveTo   *time.Time // inclusive, nil while current
	}

	TransportEnrollment struct {
		ID        int64
		StudentID int64
		SessionID int64
		Route     string
		Start     time.Time
		End       *time.Time
	}

	// Concession reduces monthly tuition. Value holds cents for fixed
	// concessions and basis points of tuition for percent ones.
	Concession struct {
		ID          int64
		StudentID   int64
		SessionID   int64
		Kind        ConcessionKind
		Value       int64
		ValidFrom   time.Time
		ValidTo     *time.Time
		Active      bool
		Description string
	}

	// LedgerEntry is an immutable signed amount on a student's session
	// balance. Positive amounts raise what is owed, negative ones credit it.
	LedgerEntry struct {
		ID           int64      `json:"id"`
		StudentID    int64      `json:"student_id"`
		SessionID    int64      `json:"session_id"`
		Month        time.Month `json:"month,omitempty"` // 0 for non-monthly entries
		Kind         EntryKind  `json:"kind"`
		Amount       Money      `json:"amount"`
		Description  string     `json:"description"`
		ReceiptID    *int64     `json:"receipt_id,omitempty"`
		Reverses     *int64     `json:"reverses,omitempty"`
		Restores     *int64     `json:"restores,omitempty"`
		SupersededBy *int64     `json:"superseded_by,omitempty"`
		CreatedAt    time.Time  `json:"created_at"`
	}

	// LedgerEntryDraft is the caller-supplied part of a ledger entry.
	LedgerEntryDraft struct {
		StudentID   int64      `json:"student_id"`
		SessionID   int64      `json:"session_id"`
		Month       time.Month `json:"month,omitempty"`
		Kind        EntryKind  `json:"kind"`
		Amount      Money      `json:"amount"`
		Description string     `json:"description"`
	}

	Receipt struct {
		ID             int64        `json:"id"`
		Number         int64        `json:"receipt_number"`
		StudentID      int64        `json:"student_id"`
		SessionID      int64        `json:"session_id"`
		IssuedAt       time.Time    `json:"issued_at"`
		Total          Money        `json:"total"`
		Discount       Money        `json:"discount"`
		Net            Money        `json:"net"`
		Mode           PaymentMode  `json:"payment_mode"`
		Remarks        string       `json:"remarks,omitempty"`
		FeeStructureID *int64       `json:"fee_structure_id,omitempty"`
		EntryIDs       []int64      `json:"entry_ids"`
		Void           *ReceiptVoid `json:"void,omitempty"`
	}

	ReceiptVoid struct {
		VoidedAt time.Time `json:"voided_at"`
		Reason   string    `json:"reason"`
	}

	// IssueRequest asks for one receipt covering one or more settlements.
	// Settlement amounts are the positive sums being paid.
	IssueRequest struct {
		StudentID   int64
		SessionID   int64
		Settlements []LedgerEntryDraft
		Mode        PaymentMode
		Discount    Money
		Remarks     string
	}

	AuditLog struct {
		ID          int64           `json:"id"`
		Timestamp   time.Time       `json:"timestamp"`
		Action      AuditAction     `json:"action"`
		EntityType  EntityType      `json:"entity_type"`
		EntityID    string          `json:"entity_id"`
		Before      json.RawMessage `json:"before,omitempty"`
		After       json.RawMessage `json:"after"`
		Description string          `json:"description"`
	}

	// AuditFilter narrows History. Zero fields match everything.
	AuditFilter struct {
		EntityType EntityType
		EntityID   string
		Action     AuditAction
		Since      time.Time
		Until      time.Time
		Limit      int
	}

	SessionPromotion struct {
		FromSessionID  int64     `json:"from_session_id"`
		ToSessionID    int64     `json:"to_session_id"`
		StudentID      int64     `json:"student_id"`
		CarriedBalance Money     `json:"carried_balance"`
		OpeningEntryID *int64    `json:"opening_entry_id,omitempty"`
		ProcessedAt    time.Time `json:"processed_at"`
	}

	Balance struct {
		StudentID int64     `json:"student_id"`
		SessionID int64     `json:"session_id"`
		AsOf      time.Time `json:"as_of"`
		Amount    Money     `json:"amount"`
	}

	// MonthlyDue is the resolved amount due for one month with its parts.
	MonthlyDue struct {
		StudentID      int64      `json:"student_id"`
		SessionID      int64      `json:"session_id"`
		Month          time.Month `json:"month"`
		Class          string     `json:"class"`
		FeeStructureID int64      `json:"fee_structure_id"`
		Tuition        Money      `json:"tuition"`
		Route          string     `json:"route,omitempty"`
		Transport      Money      `json:"transport"`
		Concession     Money      `json:"concession"`
		Total          Money      `json:"total"`
	}

	BalanceDrift struct {
		StudentID int64 `json:"student_id"`
		Cached    Money `json:"cached"`
		Computed  Money `json:"computed"`
	}

	// ReconcileReport compares cached balances with recomputed ones.
	ReconcileReport struct {
		SessionID int64          `json:"session_id"`
		Checked   int            `json:"checked"`
		Drift     []BalanceDrift `json:"drift,omitempty"`
	}

	PromotionFailure struct {
		StudentID int64  `json:"student_id"`
		Error     string `json:"error"`
	}

	// BatchResult summarises a PromoteAll run.
	BatchResult struct {
		Promoted int                `json:"promoted"`
		Skipped  int                `json:"skipped"`
		Failed   []PromotionFailure `json:"failed,omitempty"`
	}

	// ChangeEvent is published after every committed write.
	ChangeEvent struct {
		ID         string      `json:"id"`
		Kind       AuditAction `json:"kind"`
		EntityType EntityType  `json:"entity_type"`
		EntityID   string      `json:"entity_id"`
		StudentID  int64       `json:"student_id,omitempty"`
		SessionID  int64       `json:"session_id,omitempty"`
		At         time.Time   `json:"at"`
	}
)

// IsLive reports whether the entry has not been reversed.
func (e LedgerEntry) IsLive() bool { return e.SupersededBy == nil }

// IsVoided reports whether the receipt has been voided.
func (r Receipt) IsVoided() bool { return r.Void != nil }

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindDue, KindAdmissionFee, KindPayment, KindAdjustment,
		KindOpeningBalance, KindReversal, KindRestore:
		return true
	}
	return false
}

// Postable reports whether callers may post entries of kind k directly.
// Reversal and restore entries are only created by the ledger itself.
func (k EntryKind) Postable() bool {
	return k.Valid() && k != KindReversal && k != KindRestore
}

// ParsePaymentMode normalises s into a PaymentMode.
func ParsePaymentMode(s string) (PaymentMode, error) {
	m := PaymentMode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModeCash, ModeCheque, ModeBankTransfer, ModeUPI, ModeCard:
		return m, nil
	}
	return "", ErrInvalidPaymentMode
}

func (d LedgerEntryDraft) Validate() error {
	if d.StudentID <= 0 || d.SessionID <= 0 {
		return ErrInvalidID
	}
	if !d.Kind.Valid() {
		return ErrInvalidEntryKind
	}
	if d.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if d.Month != 0 && (d.Month < time.January || d.Month > time.December) {
		return ErrInvalidMonth
	}
	if d.Kind == KindDue && d.Month == 0 {
		return ErrInvalidMonth
	}
	if utf8.RuneCountInString(d.Description) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

// Total sums the settlement amounts.
func (r IssueRequest) Total() Money {
	var total Money
	for _, s := range r.Settlements {
		total = total.Add(s.Amount)
	}
	return total
}

func (r IssueRequest) Validate() error {
	if r.StudentID <= 0 || r.SessionID <= 0 {
		return ErrInvalidID
	}
	if len(r.Settlements) == 0 {
		return ErrNoSettlements
	}
	for _, s := range r.Settlements {
		if err := s.Amount.Validate(); err != nil {
			return err
		}
		if s.Month != 0 && (s.Month < time.January || s.Month > time.December) {
			return ErrInvalidMonth
		}
		if utf8.RuneCountInString(s.Description) > MaxDescriptionLen {
			return ErrDescriptionTooLong
		}
	}
	if _, err := ParsePaymentMode(string(r.Mode)); err != nil {
		return err
	}
	if r.Discount.IsNegative() || r.Discount.Cents > r.Total().Cents {
		return ErrInvalidDiscount
	}
	if utf8.RuneCountInString(r.Remarks) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

func (c Concession) Validate() error {
	switch c.Kind {
	case ConcessionFixed:
		if c.Value <= 0 {
			return ErrInvalidAmount
		}
	case ConcessionPercent:
		if c.Value <= 0 || c.Value > 10000 {
			return ErrInvalidAmount
		}
	default:
		return ErrInvalidAmount
	}
	if c.ValidTo != nil && c.ValidTo.Before(c.ValidFrom) {
		return ErrInvalidMonth
	}
	return nil
}
