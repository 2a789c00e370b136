package http

import (
	"time"

	"feeledger/internal/core"
)

// Request bodies. Field rules live in validator tags; amounts are checked
// by the ledger itself so the API and the service agree on what is valid.

type adjustmentRequest struct {
	StudentID   int64      `json:"student_id" validate:"required,gt=0"`
	SessionID   int64      `json:"session_id" validate:"required,gt=0"`
	Month       string     `json:"month" validate:"omitempty,month"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description" validate:"required,max=200"`
}

func (r adjustmentRequest) draft() core.LedgerEntryDraft {
	month, _ := parseMonth(r.Month) // zero when absent
	return core.LedgerEntryDraft{
		StudentID:   r.StudentID,
		SessionID:   r.SessionID,
		Month:       month,
		Kind:        core.KindAdjustment,
		Amount:      r.Amount,
		Description: sanitizeInput(r.Description),
	}
}

type chargeRequest struct {
	StudentID int64  `json:"student_id" validate:"required,gt=0"`
	SessionID int64  `json:"session_id" validate:"required,gt=0"`
	Month     string `json:"month" validate:"required,month"`
}

type admissionRequest struct {
	StudentID int64 `json:"student_id" validate:"required,gt=0"`
	SessionID int64 `json:"session_id" validate:"required,gt=0"`
}

type settlementRequest struct {
	Month       string     `json:"month" validate:"omitempty,month"`
	Amount      core.Money `json:"amount"`
	Description string     `json:"description" validate:"max=200"`
}

type receiptRequest struct {
	StudentID   int64               `json:"student_id" validate:"required,gt=0"`
	SessionID   int64               `json:"session_id" validate:"required,gt=0"`
	PaymentMode string              `json:"payment_mode" validate:"required,payment_mode"`
	Discount    core.Money          `json:"discount"`
	Remarks     string              `json:"remarks" validate:"max=200"`
	Settlements []settlementRequest `json:"settlements" validate:"required,min=1,max=24,dive"`
}

func (r receiptRequest) issueRequest() core.IssueRequest {
	mode, _ := core.ParsePaymentMode(r.PaymentMode)
	req := core.IssueRequest{
		StudentID:   r.StudentID,
		SessionID:   r.SessionID,
		Mode:        mode,
		Discount:    r.Discount,
		Remarks:     sanitizeInput(r.Remarks),
		Settlements: make([]core.LedgerEntryDraft, 0, len(r.Settlements)),
	}
	for _, s := range r.Settlements {
		var month time.Month
		if s.Month != "" {
			month, _ = parseMonth(s.Month)
		}
		req.Settlements = append(req.Settlements, core.LedgerEntryDraft{
			StudentID:   r.StudentID,
			SessionID:   r.SessionID,
			Month:       month,
			Kind:        core.KindPayment,
			Amount:      s.Amount,
			Description: sanitizeInput(s.Description),
		})
	}
	return req
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

type promotionRequest struct {
	FromSessionID int64 `json:"from_session_id" validate:"required,gt=0"`
	ToSessionID   int64 `json:"to_session_id" validate:"required,gt=0,nefield=FromSessionID"`
	// StudentID promotes one student; zero promotes the whole session.
	StudentID int64 `json:"student_id" validate:"omitempty,gt=0"`
}

type rolloverRequest struct {
	FromSessionID int64 `json:"from_session_id" validate:"required,gt=0"`
	ToSessionID   int64 `json:"to_session_id" validate:"required,gt=0,nefield=FromSessionID"`
}

// Response bodies that wrap more than one value.

type chargeResponse struct {
	Entry   *core.LedgerEntry `json:"entry"`
	Created bool              `json:"created"`
}

type promotionResponse struct {
	Promotion core.SessionPromotion `json:"promotion"`
	Created   bool                  `json:"created"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

type sessionView struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	IsCurrent bool      `json:"is_current"`
	Archived  bool      `json:"archived"`
}

func newSessionView(s core.AcademicSession) sessionView {
	return sessionView{
		ID:        s.ID,
		Name:      s.Name,
		Start:     s.Start,
		End:       s.End,
		IsCurrent: s.IsCurrent,
		Archived:  s.Archived,
	}
}
