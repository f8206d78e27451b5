package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   int
	}{
		{name: "zero", window: 0, want: 1},
		{name: "negative", window: -time.Second, want: 1},
		{name: "fractional_rounds_up", window: 1500 * time.Millisecond, want: 2},
		{name: "whole_second", window: time.Second, want: 1},
		{name: "minute", window: time.Minute, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterSeconds(tt.window); got != tt.want {
				t.Fatalf("retryAfterSeconds(%s) = %d, want %d", tt.window, got, tt.want)
			}
		})
	}
}

func TestRateLimitByIPRejectsWithRetryAfter(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	if err != nil {
		t.Fatalf("NewClientIPResolver() error = %v", err)
	}

	handler := rateLimitByIP(resolver, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = remote
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("203.0.113.1:1000"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want %d", i+1, rr.Code, http.StatusNoContent)
		}
	}

	rr := send("203.0.113.1:1001")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want 60", got)
	}

	if rr := send("203.0.113.2:1000"); rr.Code != http.StatusNoContent {
		t.Fatalf("other client status = %d, want %d", rr.Code, http.StatusNoContent)
	}
}
