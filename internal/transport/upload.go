// Package transport performs multipart uploads and reports how much of the
// request body has been transmitted.
package transport

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"pollchat/internal/metrics"
	"pollchat/internal/telemetry"
)

const maxResponseBytes = 1 << 20

// Field is a plain multipart form value.
type Field struct {
	Name  string
	Value string
}

// Part is a file part. Size < 0 means the size is not known up front, which
// disables progress reporting for the whole payload.
type Part struct {
	Field       string
	FileName    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

type Payload struct {
	Header http.Header
	Fields []Field
	Files  []Part
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

type Transport struct {
	client  *http.Client
	log     *slog.Logger
	metrics *metrics.Client
}

type Option func(*Transport)

func WithLogger(log *slog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

func WithMetrics(m *metrics.Client) Option {
	return func(t *Transport) { t.metrics = m }
}

func New(client *http.Client, opts ...Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &Transport{client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Upload is one in-flight request. Progress fractions are produced while the
// body is transmitted and the channel is closed once the request completes.
type Upload struct {
	progress *progress
	done     chan struct{}
	resp     Response
	err      error
}

// Progress returns the fraction channel. Values are non-decreasing and never
// exceed 1. Intermediate values may be coalesced when the reader falls behind.
func (u *Upload) Progress() <-chan float64 {
	return u.progress.ch
}

// Fractions exposes Progress as a finite sequence.
func (u *Upload) Fractions() iter.Seq[float64] {
	return func(yield func(float64) bool) {
		for f := range u.progress.ch {
			if !yield(f) {
				return
			}
		}
	}
}

// Wait blocks until the request completes and returns the final response or
// the network error.
func (u *Upload) Wait() (Response, error) {
	<-u.done
	return u.resp, u.err
}

// Start issues one multipart POST to url. The caller is responsible for not
// starting a second upload for the same send action.
func (t *Transport) Start(ctx context.Context, url string, payload Payload) *Upload {
	u := &Upload{
		progress: newProgress(),
		done:     make(chan struct{}),
	}
	go t.run(ctx, url, payload, u)
	return u
}

func (t *Transport) run(ctx context.Context, url string, payload Payload, u *Upload) {
	defer close(u.done)
	defer u.progress.close()

	ctx, span := telemetry.StartSpan(ctx, "upload", telemetry.AttrFiles.Int(len(payload.Files)))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	boundary := multipart.NewWriter(io.Discard).Boundary()
	total, err := contentLength(boundary, payload)
	if err != nil {
		u.err = err
		spanErr = err
		return
	}

	pr, pw := io.Pipe()
	go writeMultipart(pw, boundary, payload)

	body := &countingReader{r: pr, total: total, report: func(n int64, frac float64, known bool) {
		if t.metrics != nil {
			t.metrics.UploadBytes.Add(float64(n))
		}
		if known {
			u.progress.report(frac)
		}
	}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		_ = pr.CloseWithError(err)
		u.err = fmt.Errorf("building upload request: %w", err)
		spanErr = u.err
		return
	}
	req.ContentLength = total
	for k, vs := range payload.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	resp, err := t.client.Do(req)
	_ = pr.Close()
	if err != nil {
		t.log.Warn("upload failed", "component", "transport", "url", url, "error", err)
		u.err = fmt.Errorf("upload request: %w", err)
		spanErr = u.err
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		u.err = fmt.Errorf("reading upload response: %w", err)
		spanErr = u.err
		return
	}
	span.SetAttributes(telemetry.AttrStatus.Int(resp.StatusCode))

	u.resp = Response{Status: resp.StatusCode, Header: resp.Header, Body: data}
}

func writeMultipart(pw *io.PipeWriter, boundary string, payload Payload) {
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(boundary); err != nil {
		_ = pw.CloseWithError(err)
		return
	}

	for _, f := range payload.Fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}

	for _, p := range payload.Files {
		w, err := mw.CreatePart(partHeader(p))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if err := copyPart(w, p); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
	}

	_ = pw.CloseWithError(mw.Close())
}

func copyPart(w io.Writer, p Part) error {
	if p.Open == nil {
		return fmt.Errorf("file part %q has no content", p.FileName)
	}
	rc, err := p.Open()
	if err != nil {
		return fmt.Errorf("opening %q: %w", p.FileName, err)
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("reading %q: %w", p.FileName, err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func partHeader(p Part) textproto.MIMEHeader {
	field := p.Field
	if field == "" {
		field = "files"
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(p.FileName)))
	h.Set("Content-Type", contentType)
	return h
}

// contentLength computes the exact encoded body size, or -1 when any file size
// is unknown.
func contentLength(boundary string, payload Payload) (int64, error) {
	var fileBytes int64
	for _, p := range payload.Files {
		if p.Size < 0 {
			return -1, nil
		}
		fileBytes += p.Size
	}

	cw := &countingWriter{}
	mw := multipart.NewWriter(cw)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, fmt.Errorf("setting boundary: %w", err)
	}
	for _, f := range payload.Fields {
		if err := mw.WriteField(f.Name, f.Value); err != nil {
			return 0, err
		}
	}
	for _, p := range payload.Files {
		if _, err := mw.CreatePart(partHeader(p)); err != nil {
			return 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}
	return cw.n + fileBytes, nil
}

type countingWriter struct{ n int64 }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

type countingReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report func(n int64, frac float64, known bool)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		frac := 0.0
		if c.total > 0 {
			frac = float64(c.sent) / float64(c.total)
		}
		c.report(int64(n), frac, c.total > 0)
	}
	return n, err
}

// progress delivers the latest fraction without ever blocking the body reader.
type progress struct {
	mu     sync.Mutex
	ch     chan float64
	last   float64
	closed bool
}

func newProgress() *progress {
	return &progress{ch: make(chan float64, 1), last: -1}
}

func (p *progress) report(frac float64) {
	if frac > 1 {
		frac = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || frac <= p.last {
		return
	}
	p.last = frac

	select {
	case p.ch <- frac:
	default:
		// drop the stale buffered value so the newest one is delivered
		select {
		case <-p.ch:
		default:
		}
		select {
		case p.ch <- frac:
		default:
		}
	}
}

func (p *progress) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}
