package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollchat/internal/models"
)

type seen struct {
	mu    sync.Mutex
	auths []string
}

func (s *seen) add(v string) {
	s.mu.Lock()
	s.auths = append(s.auths, v)
	s.mu.Unlock()
}

func (s *seen) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...)
}

func newServer(t *testing.T, got *seen) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/messages", func(w http.ResponseWriter, r *http.Request) {
		got.add(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id":1,"content":"hi","username":"ann","user_id":1,"created_at":"2024-05-01T09:00:00Z"},
			{"id":2,"content":"","username":"bob","user_id":2,"created_at":"2024-05-01T09:01:00Z",
			 "file_url":"/media/x","file_name":"x.png","file_size":"12","file_type":"image"}
		]`))
	})
	mux.HandleFunc("GET /api/online-users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"online_users":["ann","bob"]}`))
	})
	mux.HandleFunc("POST /api/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid username or password"}}`))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "cookie-token", Path: "/"})
		_ = json.NewEncoder(w).Encode(models.LoginResponse{AccessToken: "tok-" + req.Username, Username: req.Username})
	})
	mux.HandleFunc("POST /api/logout", func(w http.ResponseWriter, r *http.Request) {
		got.add(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchMessagesDecodesWireFormat(t *testing.T) {
	got := &seen{}
	srv := newServer(t, got)
	c := New(srv.URL + "/api/")

	msgs, err := c.FetchMessages(context.Background())
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, "ann", msgs[0].Author)
	assert.Nil(t, msgs[0].Attachment)
	require.NotNil(t, msgs[1].Attachment)
	assert.Equal(t, int64(12), msgs[1].Attachment.Size)
	assert.Equal(t, models.AttachmentImage, msgs[1].Attachment.Kind)
	assert.Equal(t, []string{""}, got.all())
}

func TestOnlineUsers(t *testing.T) {
	srv := newServer(t, &seen{})

	users, err := New(srv.URL + "/api").OnlineUsers(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"ann", "bob"}, users)
}

func TestLoginStoresTokenAndLogoutDropsIt(t *testing.T) {
	got := &seen{}
	srv := newServer(t, got)
	c := New(srv.URL + "/api")

	resp, err := c.Login(context.Background(), "ann", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-ann", resp.AccessToken)
	assert.Equal(t, "tok-ann", c.Token())

	_, err = c.FetchMessages(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, c.Token())
	assert.Equal(t, []string{"Bearer tok-ann", "Bearer tok-ann"}, got.all())
}

func TestLoginRejected(t *testing.T) {
	srv := newServer(t, &seen{})
	c := New(srv.URL + "/api")

	_, err := c.Login(context.Background(), "ann", "wrong")

	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
	assert.Empty(t, c.Token())
}

func TestWithTokenIsSentOnEveryRequest(t *testing.T) {
	got := &seen{}
	srv := newServer(t, got)
	c := New(srv.URL+"/api", WithToken("saved"))

	_, err := c.FetchMessages(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer saved"}, got.all())
}

func TestDecodeAPIErrorShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want APIError
	}{
		{name: "envelope", body: `{"error":{"code":"FORBIDDEN","message":"nope"}}`, want: APIError{Status: 403, Code: "FORBIDDEN", Message: "nope"}},
		{name: "detail", body: `{"detail":"Not authenticated"}`, want: APIError{Status: 403, Message: "Not authenticated"}},
		{name: "garbage", body: `<html>`, want: APIError{Status: 403}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *decodeAPIError(403, []byte(tt.body)))
		})
	}
}
