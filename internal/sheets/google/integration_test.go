//go:build integration

package google

import (
	"context"
	"os"
	"testing"
	"time"

	"feeledger/internal/core"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_RegisterFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	if os.Getenv("GOOGLE_SPREADSHEET_ID") == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}
	if os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON") == "" && os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE") == "" &&
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		t.Skip("service account credentials not configured, skipping integration test")
	}

	ctx := context.Background()
	client, err := NewFromEnv(ctx)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	session := os.Getenv("INTEGRATION_SESSION_NAME")
	if session == "" {
		session = "Integration"
	}
	number := time.Now().Unix()
	ref, err := client.AppendRow(ctx, core.RegisterRow{
		Event:         core.RegisterIssued,
		SessionName:   session,
		ReceiptNumber: number,
		Date:          time.Now().UTC(),
		StudentName:   "Integration Test",
		Total:         core.Money{Cents: 1234},
		Net:           core.Money{Cents: 1234},
		Mode:          core.ModeCash,
	})
	if err != nil {
		t.Fatalf("Failed to append row: %v", err)
	}
	t.Logf("Appended register row at %s", ref)

	rows, err := client.ListRows(ctx, session)
	if err != nil {
		t.Fatalf("Failed to list rows: %v", err)
	}
	found := false
	for _, r := range rows {
		if r.ReceiptNumber == number {
			found = true
			if r.Net.Cents != 1234 {
				t.Errorf("net = %s, want 12.34", r.Net)
			}
		}
	}
	if !found {
		t.Errorf("appended receipt %d not found in %d rows", number, len(rows))
	}
}
