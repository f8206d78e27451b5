// Package mutation issues the state-changing requests against the message log:
// send, upload, edit, delete and clear.
//
// Every call reports one of three outcomes. Validation failures are returned as
// a *ValidationError before any network traffic. Nothing is retried.
// Requests that target the same message are serialized; requests for different
// messages run concurrently.
package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"pollchat/internal/metrics"
	"pollchat/internal/models"
	"pollchat/internal/staging"
	"pollchat/internal/telemetry"
	"pollchat/internal/transport"
)

const maxResponseBytes = 1 << 20

type Outcome int

const (
	Success Outcome = iota + 1
	ServerRejected
	TransportError
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ServerRejected:
		return "rejected"
	case TransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one mutation. Messages holds any authoritative
// messages the server returned with a successful response.
type Result struct {
	Outcome  Outcome
	Status   int
	Err      error
	Messages []models.Message
}

func (r Result) OK() bool {
	return r.Outcome == Success
}

// ValidationError is returned for input rejected locally.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Op + ": " + e.Reason
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ServerError is the Err of a ServerRejected result.
type ServerError struct {
	Status  int
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server rejected request: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("server rejected request (%d): %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	uploads *transport.Transport
	log     *slog.Logger
	metrics *metrics.Client
	serial  *serializer
	newKey  func() string
}

type Option func(*Client)

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func WithMetrics(m *metrics.Client) Option {
	return func(c *Client) { c.metrics = m }
}

func WithUploadTransport(t *transport.Transport) Option {
	return func(c *Client) { c.uploads = t }
}

// WithIdempotencyKeys replaces the generator used for create requests.
func WithIdempotencyKeys(gen func() string) Option {
	return func(c *Client) { c.newKey = gen }
}

// New returns a client for the API rooted at baseURL (for example
// http://localhost:8080/api). httpClient should carry the session cookie jar.
func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		log:     slog.Default(),
		serial:  newSerializer(),
		newKey:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.uploads == nil {
		c.uploads = transport.New(httpClient, transport.WithLogger(c.log), transport.WithMetrics(c.metrics))
	}
	return c
}

type contentRequest struct {
	Content string `json:"content"`
}

// SendText creates a text-only message.
func (c *Client) SendText(ctx context.Context, content string) (Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{}, &ValidationError{Op: "send", Reason: "message is empty"}
	}

	header := http.Header{"Idempotency-Key": []string{c.newKey()}}
	return c.do(ctx, "send", "", http.MethodPost, "/messages", header, contentRequest{Content: content}), nil
}

// SendWithAttachments uploads files with an optional caption. The server
// creates one message per file. onProgress, if set, is called from the calling
// goroutine with non-decreasing fractions while the body is transmitted.
func (c *Client) SendWithAttachments(ctx context.Context, content string, files []staging.File, onProgress func(float64)) (Result, error) {
	content = strings.TrimSpace(content)
	if len(files) == 0 {
		if content == "" {
			return Result{}, &ValidationError{Op: "upload", Reason: "message is empty"}
		}
		return c.SendText(ctx, content)
	}

	payload := transport.Payload{
		Header: http.Header{"Idempotency-Key": []string{c.newKey()}},
		Files:  make([]transport.Part, 0, len(files)),
	}
	if content != "" {
		payload.Fields = append(payload.Fields, transport.Field{Name: "content", Value: content})
	}
	for _, f := range files {
		payload.Files = append(payload.Files, transport.Part{
			Field:       "files",
			FileName:    f.Name,
			ContentType: f.MIMEType,
			Size:        f.Size,
			Open:        f.Open,
		})
	}

	up := c.uploads.Start(ctx, c.baseURL+"/upload", payload)
	for frac := range up.Fractions() {
		if onProgress != nil {
			onProgress(frac)
		}
	}
	resp, err := up.Wait()
	if err != nil {
		return c.finish("upload", Result{Outcome: TransportError, Err: err}), nil
	}
	return c.finish("upload", c.interpret(resp.Status, resp.Body, false)), nil
}

// EditMessage replaces the content of message id. An empty edit is a
// ValidationError; callers treat it as a cancel.
func (c *Client) EditMessage(ctx context.Context, id int64, content string) (Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Result{}, &ValidationError{Op: "edit", Reason: "message is empty"}
	}
	path := "/messages/" + strconv.FormatInt(id, 10)
	return c.do(ctx, "edit", messageKey(id), http.MethodPut, path, nil, contentRequest{Content: content}), nil
}

// DeleteMessage removes message id. Deleting a message that no longer exists
// is a success.
func (c *Client) DeleteMessage(ctx context.Context, id int64) (Result, error) {
	path := "/messages/" + strconv.FormatInt(id, 10)
	return c.do(ctx, "delete", messageKey(id), http.MethodDelete, path, nil, nil), nil
}

// ClearAll deletes every message owned by the current user.
func (c *Client) ClearAll(ctx context.Context) (Result, error) {
	return c.do(ctx, "clear", clearAllKey, http.MethodDelete, "/messages", nil, nil), nil
}

func (c *Client) do(ctx context.Context, op, key, method, path string, header http.Header, body any) Result {
	if key != "" {
		release, err := c.serial.acquire(ctx, key)
		if err != nil {
			return c.finish(op, Result{Outcome: TransportError, Err: fmt.Errorf("waiting for %s: %w", key, err)})
		}
		defer release()
	}

	ctx, span := telemetry.StartSpan(ctx, "mutation."+op)
	result := c.roundTrip(ctx, op, method, path, header, body)
	span.SetAttributes(telemetry.AttrStatus.Int(result.Status))
	telemetry.EndSpan(span, result.Err)

	return c.finish(op, result)
}

func (c *Client) roundTrip(ctx context.Context, op, method, path string, header http.Header, body any) Result {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{Outcome: TransportError, Err: fmt.Errorf("encoding %s request: %w", op, err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Result{Outcome: TransportError, Err: fmt.Errorf("building %s request: %w", op, err)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Outcome: TransportError, Err: fmt.Errorf("%s request: %w", op, err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{Outcome: TransportError, Status: resp.StatusCode, Err: fmt.Errorf("reading %s response: %w", op, err)}
	}

	return c.interpret(resp.StatusCode, data, op == "delete")
}

func (c *Client) interpret(status int, body []byte, notFoundIsSuccess bool) Result {
	if status >= 200 && status < 300 {
		return Result{Outcome: Success, Status: status, Messages: decodeMessages(body)}
	}
	if status == http.StatusNotFound && notFoundIsSuccess {
		return Result{Outcome: Success, Status: status}
	}
	return Result{Outcome: ServerRejected, Status: status, Err: decodeServerError(status, body)}
}

func (c *Client) finish(op string, r Result) Result {
	if c.metrics != nil {
		c.metrics.Mutations.WithLabelValues(op, r.Outcome.String()).Inc()
	}
	if r.Outcome != Success {
		c.log.Warn("mutation failed",
			"component", "mutation",
			"op", op,
			"outcome", r.Outcome.String(),
			"status", r.Status,
			"error", r.Err,
		)
	}
	return r
}

// decodeMessages pulls authoritative messages out of a success body. Bodies
// without messages yield nil.
func decodeMessages(body []byte) []models.Message {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}

	if trimmed[0] == '[' {
		var list []models.Message
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil
		}
		return list
	}

	var resp models.MutationResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil
	}
	all := resp.All()
	if len(all) == 0 {
		return nil
	}
	return all
}

type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Detail string `json:"detail"`
}

func decodeServerError(status int, body []byte) *ServerError {
	se := &ServerError{Status: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return se
	}
	switch {
	case env.Error != nil:
		se.Code = env.Error.Code
		se.Message = env.Error.Message
	case env.Detail != "":
		se.Message = env.Detail
	}
	return se
}
