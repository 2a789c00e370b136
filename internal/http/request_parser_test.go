package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseMonth(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Month
		wantErr bool
	}{
		{"4", time.April, false},
		{"12", time.December, false},
		{"April", time.April, false},
		{" sep ", time.September, false},
		{"MAR", time.March, false},
		{"0", 0, true},
		{"13", 0, true},
		{"ap", 0, true},
		{"", 0, true},
		{"smarch", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMonth(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseMonth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseMonth(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDateAndEndOfDay(t *testing.T) {
	d, err := parseDate("2025-04-30")
	if err != nil {
		t.Fatalf("parseDate() error = %v", err)
	}
	if got := endOfDay(d); got != time.Date(2025, time.April, 30, 23, 59, 59, 999999999, time.UTC) {
		t.Errorf("endOfDay() = %v", got)
	}

	ts, err := parseDate("2025-04-30T10:15:00Z")
	if err != nil {
		t.Fatalf("parseDate(RFC3339) error = %v", err)
	}
	if endOfDay(ts) != ts {
		t.Error("timestamps must not be moved")
	}
	if !endOfDay(time.Time{}).IsZero() {
		t.Error("zero time must stay zero")
	}
	if _, err := parseDate("30/04/2025"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestQueryParsers(t *testing.T) {
	q := url.Values{
		"student_id": {"7"},
		"bad_id":     {"-3"},
		"month":      {"june"},
		"as_of":      {"2025-06-01"},
		"limit":      {"900"},
	}

	if id, err := queryID(q, "student_id", true); err != nil || id != 7 {
		t.Errorf("queryID(student_id) = %d, %v", id, err)
	}
	if _, err := queryID(q, "bad_id", false); err == nil {
		t.Error("expected error for negative id")
	}
	if _, err := queryID(q, "session_id", true); err == nil {
		t.Error("expected error for missing required id")
	}
	if id, err := queryID(q, "session_id", false); err != nil || id != 0 {
		t.Errorf("optional missing id = %d, %v", id, err)
	}
	if m, err := queryMonth(q, "month"); err != nil || m != time.June {
		t.Errorf("queryMonth() = %v, %v", m, err)
	}
	if at, err := queryTime(q, "as_of"); err != nil || at.Day() != 1 {
		t.Errorf("queryTime() = %v, %v", at, err)
	}
	if n, err := queryLimit(q, 50, 500); err != nil || n != 500 {
		t.Errorf("queryLimit() = %d, %v; want capped at 500", n, err)
	}
	if n, err := queryLimit(url.Values{}, 50, 500); err != nil || n != 50 {
		t.Errorf("default queryLimit() = %d, %v", n, err)
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{"valid", "application/json", `{"reason":"duplicate"}`, false},
		{"charset suffix", "application/json; charset=utf-8", `{"reason":"duplicate"}`, false},
		{"form content type", "application/x-www-form-urlencoded", `reason=duplicate`, true},
		{"missing reason", "application/json", `{}`, true},
		{"reason too long", "application/json", `{"reason":"` + strings.Repeat("x", 201) + `"}`, true},
		{"too large", "application/json", `{"reason":"` + strings.Repeat("x", maxBodyBytes) + `"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			var dst reasonRequest
			err := decodeJSON(httptest.NewRecorder(), req, &dst)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && dst.Reason != "duplicate" {
				t.Errorf("Reason = %q", dst.Reason)
			}
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := sanitizeInput("  fee\x00 waived\x07\t "); got != "fee waived" {
		t.Errorf("sanitizeInput() = %q", got)
	}
}

func TestPathID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/receipts/12", nil)
	req.SetPathValue("id", "12")
	if id, err := pathID(req, "id"); err != nil || id != 12 {
		t.Errorf("pathID() = %d, %v", id, err)
	}
	req.SetPathValue("id", "0")
	if _, err := pathID(req, "id"); err == nil {
		t.Error("expected error for zero id")
	}
}
