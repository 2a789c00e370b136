package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"feeledger/internal/core"
)

const registerDateLayout = "2006-01-02"

// registerHeader is the first row of every register sheet. Column order
// follows this slice.
var registerHeader = []string{
	"Date", "Receipt", "Event", "Admission No", "Student",
	"Total", "Discount", "Net", "Mode", "Remarks", "Receipt ID",
}

// registerValues renders a row in registerHeader order. Amounts are written
// as plain decimal strings so USER_ENTERED turns them into numbers.
func registerValues(row core.RegisterRow) []any {
	return []any{
		row.Date.UTC().Format(registerDateLayout),
		row.ReceiptNumber,
		row.Event,
		row.AdmissionNumber,
		row.StudentName,
		row.Total.String(),
		row.Discount.String(),
		row.Net.String(),
		string(row.Mode),
		row.Remarks,
		row.ReceiptID,
	}
}

// parseRegister converts a values matrix (as returned by Sheets API) into
// register rows. The first row must hold the register header; columns are
// located by name so reordered sheets still parse.
func parseRegister(values [][]interface{}, sessionName string) ([]core.RegisterRow, error) {
	if len(values) == 0 {
		return nil, nil
	}
	headers := toStrings(values[0])
	cols := make(map[string]int, len(registerHeader))
	var missing []string
	for _, h := range registerHeader {
		idx := indexOf(headers, h)
		if idx == -1 {
			missing = append(missing, h)
		}
		cols[h] = idx
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unexpected register header: missing %s; got headers=%v", strings.Join(missing, ","), headers)
	}

	out := make([]core.RegisterRow, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		row := toStrings(values[i])
		number, err := strconv.ParseInt(safeGet(row, cols["Receipt"]), 10, 64)
		if err != nil {
			// Blank or annotation rows.
			continue
		}
		date, err := time.Parse(registerDateLayout, safeGet(row, cols["Date"]))
		if err != nil {
			return nil, fmt.Errorf("row %d: bad date: %w", i+1, err)
		}
		r := core.RegisterRow{
			Event:           safeGet(row, cols["Event"]),
			SessionName:     sessionName,
			ReceiptNumber:   number,
			Date:            date,
			AdmissionNumber: safeGet(row, cols["Admission No"]),
			StudentName:     safeGet(row, cols["Student"]),
			Mode:            core.PaymentMode(safeGet(row, cols["Mode"])),
			Remarks:         safeGet(row, cols["Remarks"]),
		}
		r.ReceiptID, _ = strconv.ParseInt(safeGet(row, cols["Receipt ID"]), 10, 64)
		for _, f := range []struct {
			col string
			dst *core.Money
		}{{"Total", &r.Total}, {"Discount", &r.Discount}, {"Net", &r.Net}} {
			m, err := parseAmount(safeGet(row, cols[f.col]))
			if err != nil {
				return nil, fmt.Errorf("row %d: bad %s: %w", i+1, strings.ToLower(f.col), err)
			}
			*f.dst = m
		}
		out = append(out, r)
	}
	return out, nil
}

// parseAmount reads a sheet amount. Sheets may render a decimal comma or
// thousands separators depending on the spreadsheet locale.
func parseAmount(s string) (core.Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return core.Zero, nil
	}
	if strings.Contains(s, ".") {
		s = strings.ReplaceAll(s, ",", "")
	}
	return core.ParseAmount(s)
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
