package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"feeledger/internal/core"
	ports "feeledger/internal/sheets"
)

const defaultRowCacheTTL = 5 * time.Minute

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without session (e.g. "Receipts"); code prefixes the session name.
	registerBase string

	// Row counts per sheet, so consecutive appends skip the dimension read.
	// Appends hold mu for their whole duration.
	mu                 sync.Mutex
	rowCounts          map[string]int
	cacheExpiresAt     map[string]time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var _ ports.Register = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Auth: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional: GOOGLE_REGISTER_SHEET_NAME (default "Receipts").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(os.Getenv("GOOGLE_REGISTER_SHEET_NAME"))
	if base == "" {
		base = "Receipts"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, spreadsheetID, base), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, base string) *Client {
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		registerBase:       base,
		rowCounts:          map[string]int{},
		cacheExpiresAt:     map[string]time.Time{},
		cacheValidDuration: defaultRowCacheTTL,
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	// Also check the standard Google Cloud environment variable
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		var err error
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	creds, err := googleauth.CredentialsFromJSON(ctx, credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	// oauth2 builds its transport on top of the client found in the context.
	authCtx := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(oauth2.NewClient(authCtx, creds.TokenSource)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client optimized for Google Sheets API
// with connection pooling, proper timeouts, and keep-alive settings
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext: dialer.DialContext,

		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// AppendRow writes row below the last used row of its session's register
// sheet. An empty sheet gets the header row first.
func (c *Client) AppendRow(ctx context.Context, row core.RegisterRow) (string, error) {
	if row.ReceiptNumber <= 0 {
		return "", errors.New("register row has no receipt number")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	sheet := c.sheetName(row.SessionName)

	c.mu.Lock()
	defer c.mu.Unlock()

	used, err := c.usedRows(ctx, sheet)
	if err != nil {
		return "", err
	}
	if used == 0 {
		if err := c.writeRow(ctx, sheet, 1, toAny(registerHeader)); err != nil {
			return "", err
		}
		used = 1
	}

	next := used + 1
	if err := c.writeRow(ctx, sheet, next, registerValues(row)); err != nil {
		c.invalidate(sheet)
		return "", err
	}
	c.rowCounts[sheet] = next
	return fmt.Sprintf("%s!A%d:K%d", sheet, next, next), nil
}

// usedRows returns the number of rows in use, from cache when fresh.
// Callers hold c.mu.
func (c *Client) usedRows(ctx context.Context, sheet string) (int, error) {
	if n, ok := c.rowCounts[sheet]; ok && time.Now().Before(c.cacheExpiresAt[sheet]) {
		return n, nil
	}
	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet dimensions for %s: %w", sheet, err)
	}
	c.rowCounts[sheet] = len(resp.Values)
	c.cacheExpiresAt[sheet] = time.Now().Add(c.cacheValidDuration)
	return len(resp.Values), nil
}

func (c *Client) invalidate(sheet string) {
	delete(c.rowCounts, sheet)
	delete(c.cacheExpiresAt, sheet)
}

func (c *Client) writeRow(ctx context.Context, sheet string, n int, values []any) error {
	rng := fmt.Sprintf("%s!A%d:K%d", sheet, n, n)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rng, err)
	}
	return nil
}

// ListRows reads the register sheet of one session.
func (c *Client) ListRows(ctx context.Context, sessionName string) ([]core.RegisterRow, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:K", c.sheetName(sessionName))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseRegister(resp.Values, sessionName)
}

func (c *Client) sheetName(sessionName string) string {
	return sessionPrefixedName(c.registerBase, sessionName)
}

// sessionPrefixedName returns "<session> <base>" unless base already starts
// with the session name.
func sessionPrefixedName(base, session string) string {
	base = strings.TrimSpace(base)
	session = strings.TrimSpace(session)
	if base == "" || session == "" || strings.HasPrefix(base, session+" ") {
		return base
	}
	return fmt.Sprintf("%s %s", session, base)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
