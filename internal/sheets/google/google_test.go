package google

import (
	"context"
	"os"
	"strings"
	"testing"

	"feeledger/internal/core"
)

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "test-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestNewFromEnv_InvalidCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "test-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "invalid-json")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "parse service account credentials") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestNewFromEnv_UnreadableCredentialsFile(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "test-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", t.TempDir()+string(os.PathSeparator)+"missing.json")

	_, err := NewFromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestClient_UninitializedService(t *testing.T) {
	c := newClient(nil, "test", "Receipts")
	ctx := context.Background()

	if _, err := c.AppendRow(ctx, core.RegisterRow{SessionName: "2025-26"}); err == nil {
		t.Error("expected error for a row without receipt number")
	}
	if _, err := c.AppendRow(ctx, core.RegisterRow{SessionName: "2025-26", ReceiptNumber: 1}); err == nil ||
		!strings.Contains(err.Error(), "not initialized") {
		t.Errorf("expected not initialized error, got %v", err)
	}
	if _, err := c.ListRows(ctx, "2025-26"); err == nil {
		t.Error("expected error listing without service")
	}
}

func TestSessionPrefixedName(t *testing.T) {
	tests := []struct {
		base, session, want string
	}{
		{"Receipts", "2025-26", "2025-26 Receipts"},
		{"2025-26 Receipts", "2025-26", "2025-26 Receipts"},
		{" Receipts ", " 2026-27 ", "2026-27 Receipts"},
		{"Receipts", "", "Receipts"},
		{"", "2025-26", ""},
	}
	for _, tt := range tests {
		if got := sessionPrefixedName(tt.base, tt.session); got != tt.want {
			t.Errorf("sessionPrefixedName(%q, %q) = %q, want %q", tt.base, tt.session, got, tt.want)
		}
	}
}
