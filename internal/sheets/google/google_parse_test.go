package google

import (
	"strings"
	"testing"
	"time"

	"feeledger/internal/core"
)

func TestRegisterValuesRoundTrip(t *testing.T) {
	row := core.RegisterRow{
		Event:           core.RegisterIssued,
		SessionName:     "2025-26",
		ReceiptID:       7,
		ReceiptNumber:   3,
		Date:            time.Date(2025, 4, 10, 9, 30, 0, 0, time.UTC),
		AdmissionNumber: "ADM-001",
		StudentName:     "Asha",
		Total:           core.Money{Cents: 100000},
		Discount:        core.Money{Cents: 10000},
		Net:             core.Money{Cents: 90000},
		Mode:            core.ModeUPI,
	}
	values := [][]interface{}{toAny(registerHeader), registerValues(row)}

	got, err := parseRegister(values, "2025-26")
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	want := row
	want.Date = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)
	if got[0] != want {
		t.Fatalf("row mismatch:\n got %+v\nwant %+v", got[0], want)
	}
}

func TestParseRegister(t *testing.T) {
	// Columns reordered and amounts formatted the way a sheet renders them.
	values := [][]interface{}{
		{"Receipt", "Date", "Event", "Student", "Admission No", "Net", "Total", "Discount", "Mode", "Remarks", "Receipt ID"},
		{1, "2025-04-01", "issued", "Asha", "ADM-001", "1,000.00", "1,000.00", "0", "cash", "", 1},
		{"", "", "", "", "", "", "", "", "", "carried over by hand", ""},
		{1, "2025-04-03", "voided", "Asha", "ADM-001", "-1000,00", "-1000,00", "0", "cash", "cheque bounced", 1},
	}
	rows, err := parseRegister(values, "2025-26")
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Net.Cents != 100000 || rows[1].Net.Cents != -100000 {
		t.Fatalf("unexpected amounts: %s, %s", rows[0].Net, rows[1].Net)
	}
	if rows[1].Remarks != "cheque bounced" || rows[1].Event != core.RegisterVoided {
		t.Fatalf("unexpected void row: %+v", rows[1])
	}
	if rows[0].SessionName != "2025-26" {
		t.Fatalf("session name not set: %+v", rows[0])
	}
}

func TestParseRegister_BadHeader(t *testing.T) {
	values := [][]interface{}{{"Date", "Receipt", "Amount"}}
	_, err := parseRegister(values, "2025-26")
	if err == nil || !strings.Contains(err.Error(), "unexpected register header") {
		t.Fatalf("expected header error, got %v", err)
	}
}

func TestParseRegister_BadAmount(t *testing.T) {
	values := [][]interface{}{
		toAny(registerHeader),
		{"2025-04-01", 1, "issued", "ADM-001", "Asha", "ten", "0", "10", "cash", "", 1},
	}
	if _, err := parseRegister(values, "2025-26"); err == nil {
		t.Fatal("expected error for non-numeric total")
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"12.5", 1250},
		{"12,50", 1250},
		{"1,234.56", 123456},
		{"-7.005", -701},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if err != nil {
			t.Fatalf("parseAmount(%q): %v", tt.in, err)
		}
		if got.Cents != tt.want {
			t.Errorf("parseAmount(%q) = %d, want %d", tt.in, got.Cents, tt.want)
		}
	}
}
