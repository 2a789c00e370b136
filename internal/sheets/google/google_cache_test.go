package google

import (
	"context"
	"testing"
	"time"
)

func TestRowCacheExpiration(t *testing.T) {
	c := newClient(nil, "test", "Receipts")
	c.cacheValidDuration = 100 * time.Millisecond
	sheet := c.sheetName("2025-26")

	// A fresh entry is served without touching the API (svc is nil).
	c.mu.Lock()
	c.rowCounts[sheet] = 10
	c.cacheExpiresAt[sheet] = time.Now().Add(c.cacheValidDuration)
	n, err := c.usedRows(context.Background(), sheet)
	c.mu.Unlock()
	if err != nil || n != 10 {
		t.Fatalf("expected cached row count 10, got %d (err=%v)", n, err)
	}

	time.Sleep(150 * time.Millisecond)

	c.mu.Lock()
	valid := time.Now().Before(c.cacheExpiresAt[sheet])
	c.mu.Unlock()
	if valid {
		t.Error("cache should be expired after TTL")
	}
}

func TestRowCacheInvalidate(t *testing.T) {
	c := newClient(nil, "test", "Receipts")
	c.rowCounts["s"] = 4
	c.cacheExpiresAt["s"] = time.Now().Add(time.Hour)
	c.invalidate("s")
	if _, ok := c.rowCounts["s"]; ok {
		t.Fatal("row count should be dropped")
	}
}
