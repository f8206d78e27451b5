package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantStatus int
		wantCalled bool
		wantACAO   string
	}{
		{
			name:       "configured_origin",
			allowed:    []string{"https://example.com/"},
			method:     http.MethodGet,
			origin:     "https://example.com",
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantACAO:   "https://example.com",
		},
		{
			name:       "loopback_origin",
			method:     http.MethodGet,
			origin:     "http://127.0.0.1:5173",
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantACAO:   "http://127.0.0.1:5173",
		},
		{
			name:       "localhost_origin",
			method:     http.MethodGet,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusOK,
			wantCalled: true,
			wantACAO:   "http://localhost:3000",
		},
		{
			name:       "no_origin",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "preflight",
			allowed:    []string{"https://example.com"},
			method:     http.MethodOptions,
			origin:     "https://example.com",
			wantStatus: http.StatusNoContent,
			wantACAO:   "https://example.com",
		},
		{
			name:       "disallowed_origin",
			allowed:    []string{"https://example.com"},
			method:     http.MethodGet,
			origin:     "https://evil.com",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := corsMiddleware(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/server/info", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if called != tt.wantCalled {
				t.Fatalf("next called = %v, want %v", called, tt.wantCalled)
			}
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantACAO)
			}

			if tt.wantStatus == http.StatusForbidden {
				var resp ErrorResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
					t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
				}
				if resp.Error.Code != ErrCodeInvalidRequest {
					t.Fatalf("error.code = %q, want %q", resp.Error.Code, ErrCodeInvalidRequest)
				}
			}
		})
	}
}
