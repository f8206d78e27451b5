// Package rest is the read side of the chat client plus account calls: it
// fetches the message log and presence list and handles register, login and
// logout. Its http.Client carries the session cookie and bearer token and is
// shared with the mutation client.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pollchat/internal/models"
	"pollchat/internal/telemetry"
)

const maxResponseBytes = 8 << 20

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

// IsUnauthorized reports whether err is a 401 from the server.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithToken restores a token saved by an earlier login.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     slog.Default(),
	}
	c.http = &http.Client{
		Jar:       jar,
		Transport: &bearerTransport{client: c, next: http.DefaultTransport},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPClient returns the authenticated client for other components that talk
// to the same server.
func (c *Client) HTTPClient() *http.Client { return c.http }

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// FetchMessages returns the latest page of the message log in ascending ID order.
func (c *Client) FetchMessages(ctx context.Context) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.call(ctx, "fetch_messages", http.MethodGet, "/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	var resp models.OnlineUsers
	if err := c.call(ctx, "online_users", http.MethodGet, "/online-users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.OnlineUsers, nil
}

func (c *Client) ServerInfo(ctx context.Context) (models.ServerInfo, error) {
	var info models.ServerInfo
	err := c.call(ctx, "server_info", http.MethodGet, "/server/info", nil, &info)
	return info, err
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, username, email, password string) (models.User, error) {
	var user models.User
	err := c.call(ctx, "register", http.MethodPost, "/register", registerRequest{
		Username: username,
		Email:    email,
		Password: password,
	}, &user)
	return user, err
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates and keeps the returned token for later requests.
func (c *Client) Login(ctx context.Context, username, password string) (models.LoginResponse, error) {
	var resp models.LoginResponse
	if err := c.call(ctx, "login", http.MethodPost, "/login", loginRequest{Username: username, Password: password}, &resp); err != nil {
		return models.LoginResponse{}, err
	}
	c.setToken(resp.AccessToken)
	return resp, nil
}

// Logout ends the server session. The local token is dropped even when the
// request fails; the server expires the cookie itself.
func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, "logout", http.MethodPost, "/logout", nil, nil)
	c.setToken("")
	return err
}

func (c *Client) call(ctx context.Context, op, method, path string, body, out any) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "rest."+op)
	defer func() { telemetry.EndSpan(span, err) }()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(telemetry.AttrStatus.Int(resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := decodeAPIError(resp.StatusCode, data)
		c.log.Debug("request rejected", "component", "rest", "op", op, "status", resp.StatusCode, "error", apiErr)
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Detail string `json:"detail"`
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apiErr
	}
	switch {
	case env.Error != nil:
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	case env.Detail != "":
		apiErr.Message = env.Detail
	}
	return apiErr
}

// bearerTransport adds the current token to every request that lacks an
// Authorization header.
type bearerTransport struct {
	client *Client
	next   http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token := t.client.Token()
	if token == "" || req.Header.Get("Authorization") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return t.next.RoundTrip(req)
}
