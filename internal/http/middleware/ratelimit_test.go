package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	limiter := NewRateLimiter(1, 2)
	limiter.now = func() time.Time { return time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC) }
	h := RateLimit(limiter)(okHandler(nil))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/tenants/tenant-1/appointments", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodPost, "/v1/tenants/tenant-1/appointments", nil)
	req.RemoteAddr = "198.51.100.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected second client to pass, got %d", rec.Code)
	}
}

func TestRateLimiterRefillsAndSweeps(t *testing.T) {
	now := time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(1, 1)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("a") {
		t.Fatalf("expected first request to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected bucket to be empty")
	}
	now = now.Add(time.Second)
	if !limiter.Allow("a") {
		t.Fatalf("expected refill after one second")
	}

	now = now.Add(11 * time.Minute)
	if removed := limiter.Sweep(); removed != 1 {
		t.Fatalf("expected 1 idle bucket removed, got %d", removed)
	}
}
