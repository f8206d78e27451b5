package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pollchat/internal/blob"
	"pollchat/internal/config"
	"pollchat/internal/db"
	"pollchat/internal/models"
	"pollchat/internal/presence"
)

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{Name: "test chat", BaseURL: "http://chat.test"},
		Auth:     config.AuthConfig{JWTSecret: strings.Repeat("s", 32), SessionTTL: time.Hour},
		Storage:  config.StorageConfig{MaxUploadBytes: 1 << 20, MaxFiles: 3},
		Presence: config.PresenceConfig{Window: time.Minute},
	}

	blobs, err := blob.NewService(t.TempDir(), cfg.Storage.MaxUploadBytes)
	if err != nil {
		t.Fatalf("blob.NewService() error = %v", err)
	}

	srv, err := NewServer(cfg, openTestDB(t), blobs, presence.NewTracker(cfg.Presence.Window), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return &testServer{t: t, handler: srv}
}

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

func (s *testServer) request(method, path, token string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	s.t.Helper()

	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.10:40000"
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) json(method, path, token string, payload any, header http.Header) *httptest.ResponseRecorder {
	s.t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			s.t.Fatalf("json.Marshal() error = %v", err)
		}
		body = bytes.NewReader(data)
	}
	return s.request(method, path, token, body, header)
}

// signUp registers and logs in a user and returns the session token.
func (s *testServer) signUp(username string) string {
	s.t.Helper()

	rr := s.json(http.MethodPost, "/api/register", "", RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password-" + username,
	}, nil)
	if rr.Code != http.StatusCreated {
		s.t.Fatalf("register status = %d, want %d, body=%q", rr.Code, http.StatusCreated, rr.Body.String())
	}

	rr = s.json(http.MethodPost, "/api/login", "", LoginRequest{Username: username, Password: "password-" + username}, nil)
	if rr.Code != http.StatusOK {
		s.t.Fatalf("login status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp models.LoginResponse
	decode(s.t, rr, &resp)
	if resp.AccessToken == "" || resp.Username != username {
		s.t.Fatalf("login response = %+v", resp)
	}
	return resp.AccessToken
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("json.Unmarshal() error = %v, body=%q", err, rr.Body.String())
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, rr, &resp)
	return resp.Error.Code
}

func TestHealthAndServerInfo(t *testing.T) {
	srv := newTestServer(t)

	rr := srv.request(http.MethodGet, "/health", "", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d, body=%q", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = srv.request(http.MethodGet, "/api/server/info", "", nil, nil)
	var info models.ServerInfo
	decode(t, rr, &info)
	if info.Name != "test chat" || info.UploadMaxBytes != 1<<20 || info.UploadMaxFiles != 3 {
		t.Fatalf("server info = %+v", info)
	}

	rr = srv.request(http.MethodGet, "/metrics", "", nil, nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "pollchat_http_requests_total") {
		t.Fatalf("metrics status = %d, missing request counter", rr.Code)
	}
}
