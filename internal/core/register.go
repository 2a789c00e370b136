package core

import "time"

// Register events.
const (
	RegisterIssued = "issued"
	RegisterVoided = "voided"
)

// RegisterRow is one line of the external receipt register. A voided
// receipt gets a second row with negated amounts so the register sums to
// what was actually collected.
type RegisterRow struct {
	Event           string
	SessionName     string
	ReceiptID       int64
	ReceiptNumber   int64
	Date            time.Time
	AdmissionNumber string
	StudentName     string
	Total           Money
	Discount        Money
	Net             Money
	Mode            PaymentMode
	Remarks         string
}

// NewRegisterRow builds the register row for a receipt event.
func NewRegisterRow(event string, r Receipt, st Student, sess AcademicSession) RegisterRow {
	row := RegisterRow{
		Event:           event,
		SessionName:     sess.Name,
		ReceiptID:       r.ID,
		ReceiptNumber:   r.Number,
		Date:            r.IssuedAt,
		AdmissionNumber: st.AdmissionNumber,
		StudentName:     st.Name,
		Total:           r.Total,
		Discount:        r.Discount,
		Net:             r.Net,
		Mode:            r.Mode,
		Remarks:         r.Remarks,
	}
	if event == RegisterVoided && r.Void != nil {
		row.Date = r.Void.VoidedAt
		row.Total = r.Total.Neg()
		row.Discount = r.Discount.Neg()
		row.Net = r.Net.Neg()
		row.Remarks = r.Void.Reason
	}
	return row
}
