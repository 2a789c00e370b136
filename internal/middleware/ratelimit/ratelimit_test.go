package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_AllowWindow(t *testing.T) {
	rl := NewLimiter(Config{Requests: 3, Window: time.Minute})
	defer rl.Stop()

	start := time.Date(2025, time.April, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if !rl.allowAt("10.0.0.1", start.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.allowAt("10.0.0.1", start.Add(5*time.Second)) {
		t.Fatal("fourth request in the window should be rejected")
	}
	if !rl.allowAt("10.0.0.2", start.Add(5*time.Second)) {
		t.Fatal("other clients keep their own budget")
	}
	if !rl.allowAt("10.0.0.1", start.Add(time.Minute)) {
		t.Fatal("a new window should reset the budget")
	}
	if got := rl.Hits(); got != 1 {
		t.Errorf("Hits() = %d, want 1", got)
	}
}

func TestLimiter_CleanupStaleEntries(t *testing.T) {
	rl := NewLimiter(Config{Requests: 10, Window: time.Minute})
	defer rl.Stop()

	now := time.Now()
	rl.allowAt("old", now.Add(-10*time.Minute))
	rl.allowAt("fresh", now)
	rl.cleanupStaleEntries(now)

	if got := rl.ActiveClients(); got != 1 {
		t.Errorf("ActiveClients() = %d, want 1", got)
	}
}

func TestLimiter_Defaults(t *testing.T) {
	rl := NewLimiter(Config{})
	defer rl.Stop()

	if rl.requests != 60 || rl.window != time.Minute {
		t.Errorf("unexpected defaults: %d per %v", rl.requests, rl.window)
	}
	if rl.RetryAfter() != 60 {
		t.Errorf("RetryAfter() = %d, want 60", rl.RetryAfter())
	}
	rl.Stop()
}

func TestLimiter_Middleware(t *testing.T) {
	rl := NewLimiter(Config{Requests: 1, Window: time.Minute})
	defer rl.Stop()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := rl.Middleware(func(*http.Request) string { return "client" }, nil)(next)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}
