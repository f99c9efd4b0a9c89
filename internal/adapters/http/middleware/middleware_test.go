package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var testCSRFKey = []byte("0123456789abcdef0123456789abcdef")

// TestCSRF_Exemptions verifies JSON and bearer requests skip the token check
// while a bare form post is rejected.
func TestCSRF_Exemptions(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	handler := CSRF(testCSRFKey, nil)(ok)

	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"json body", map[string]string{"Content-Type": "application/json"}, http.StatusOK},
		{"bearer token", map[string]string{"Authorization": "Bearer abc"}, http.StatusOK},
		{"form post", map[string]string{"Content-Type": "application/x-www-form-urlencoded"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/offline/sync", strings.NewReader("{}"))
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

// TestRateLimiter_Allow verifies the bucket empties and is per client.
func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("third request passed, want limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other client limited, want allowed")
	}
}

// TestRateLimiter_SteadyRateUnderLimit verifies a client sending at half the
// allowed rate is never limited, even though its requests arrive closer
// together than one refill interval.
func TestRateLimiter_SteadyRateUnderLimit(t *testing.T) {
	rl := NewRateLimiter(2, 100*time.Millisecond)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	denied := 0
	for i := 0; i < 20; i++ {
		if !rl.Allow("127.0.0.1") {
			denied++
		}
		now = now.Add(90 * time.Millisecond)
	}
	if denied != 0 {
		t.Errorf("denied %d of 20 requests at half the allowed rate", denied)
	}
}

// TestRateLimiter_RefillAfterBurst verifies an exhausted bucket refills after
// one interval and stays capped at the rate.
func TestRateLimiter_RefillAfterBurst(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("127.0.0.1")
	rl.Allow("127.0.0.1")
	if rl.Allow("127.0.0.1") {
		t.Fatal("third request in the same instant passed")
	}

	now = now.Add(10 * time.Second)
	passed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow("127.0.0.1") {
			passed++
		}
	}
	if passed != 2 {
		t.Errorf("passed %d after a long pause, want 2 (bucket capped at rate)", passed)
	}
}

// TestRateLimiter_SweepsIdleVisitors verifies idle buckets are dropped.
func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(2, time.Second)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("10.0.0.1")
	now = now.Add(visitorIdle + time.Minute)
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	_, kept := rl.visitors["10.0.0.1"]
	n := len(rl.visitors)
	rl.mu.Unlock()
	if kept || n != 1 {
		t.Errorf("visitors = %d (idle kept = %v), want only the active client", n, kept)
	}
}

// TestSecurityHeaders verifies the JSON-only policy headers are set.
func TestSecurityHeaders(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	for _, h := range []string{"Content-Security-Policy", "X-Frame-Options", "X-Content-Type-Options", "Cache-Control"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("header %s missing", h)
		}
	}
}
