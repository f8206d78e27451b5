package mutation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pollchat/internal/metrics"
	"pollchat/internal/models"
	"pollchat/internal/staging"
)

type fakeLog struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
	handler  http.HandlerFunc
}

func (f *fakeLog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	f.bodies = append(f.bodies, string(body))
	h := f.handler
	f.mu.Unlock()

	h(w, r)
}

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLog) request(i int) (*http.Request, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i], f.bodies[i]
}

func newClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *fakeLog) {
	t.Helper()
	log := &fakeLog{handler: h}
	srv := httptest.NewServer(log)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", srv.Client(), opts...), log
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestSendTextEmptyMakesNoRequest(t *testing.T) {
	c, log := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request")
	})

	for _, content := range []string{"", "   ", "\n\t"} {
		res, err := c.SendText(context.Background(), content)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Zero(t, res.Outcome)
	}
	assert.Zero(t, log.count())
}

func TestSendTextSuccess(t *testing.T) {
	created := models.Message{ID: 7, Author: "ann", Content: "hello", CreatedAt: time.Unix(100, 0).UTC()}
	c, log := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, models.MutationResponse{MessageID: 7, Message: &created})
	}, WithIdempotencyKeys(func() string { return "key-1" }))

	res, err := c.SendText(context.Background(), "  hello  ")
	require.NoError(t, err)

	assert.Equal(t, Success, res.Outcome)
	assert.Equal(t, http.StatusCreated, res.Status)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, int64(7), res.Messages[0].ID)

	require.Equal(t, 1, log.count())
	req, body := log.request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/messages", req.URL.Path)
	assert.Equal(t, "key-1", req.Header.Get("Idempotency-Key"))
	assert.JSONEq(t, `{"content":"hello"}`, body)
}

func TestEditEmptyIsValidationError(t *testing.T) {
	c, log := newClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := c.EditMessage(context.Background(), 5, "  ")

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "edit", ve.Op)
	assert.Zero(t, log.count())
}

func TestEditRejectedCarriesServerMessage(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": map[string]string{"code": "FORBIDDEN", "message": "Can only edit your own messages"},
		})
	})

	res, err := c.EditMessage(context.Background(), 5, "changed")
	require.NoError(t, err)

	assert.Equal(t, ServerRejected, res.Outcome)
	assert.Equal(t, http.StatusForbidden, res.Status)
	var se *ServerError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, "FORBIDDEN", se.Code)
	assert.Equal(t, "Can only edit your own messages", se.Message)
}

func TestDeleteNotFoundIsSuccess(t *testing.T) {
	c, log := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Message not found"})
	})

	res, err := c.DeleteMessage(context.Background(), 9)
	require.NoError(t, err)

	assert.Equal(t, Success, res.Outcome)
	req, _ := log.request(0)
	assert.Equal(t, http.MethodDelete, req.Method)
	assert.Equal(t, "/api/messages/9", req.URL.Path)
}

func TestClearAllNotFoundIsRejected(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "gone"})
	})

	res, err := c.ClearAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ServerRejected, res.Outcome)
	assert.EqualError(t, res.Err, "server rejected request (404): gone")
}

func TestTransportErrorOutcome(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	m := metrics.NewClient(nil)
	c := New(base, nil, WithMetrics(m))

	res, err := c.DeleteMessage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, TransportError, res.Outcome)
	assert.Error(t, res.Err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Mutations.WithLabelValues("delete", "transport_error")))
}

func TestSendWithAttachments(t *testing.T) {
	var mu sync.Mutex
	var gotFiles []string
	var gotContent string
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		gotContent = r.FormValue("content")
		for _, fh := range r.MultipartForm.File["files"] {
			gotFiles = append(gotFiles, fh.Filename)
		}
		writeJSON(w, http.StatusCreated, models.MutationResponse{Messages: []models.Message{{ID: 1}, {ID: 2}}})
	})

	files := []staging.File{
		{Name: "a.png", Size: 3, MIMEType: "image/png", Open: opener("png")},
		{Name: "b.txt", Size: 4, MIMEType: "text/plain", Open: opener("text")},
	}

	var fractions []float64
	res, err := c.SendWithAttachments(context.Background(), "", files, func(f float64) {
		fractions = append(fractions, f)
	})
	require.NoError(t, err)

	assert.Equal(t, Success, res.Outcome)
	assert.Len(t, res.Messages, 2)
	mu.Lock()
	assert.Equal(t, []string{"a.png", "b.txt"}, gotFiles)
	assert.Empty(t, gotContent)
	mu.Unlock()
	require.NotEmpty(t, fractions)
	assert.Equal(t, 1.0, fractions[len(fractions)-1])
}

func TestSendWithAttachmentsValidation(t *testing.T) {
	c, log := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, models.MutationResponse{MessageID: 1})
	})

	_, err := c.SendWithAttachments(context.Background(), " ", nil, nil)
	assert.True(t, IsValidation(err))
	assert.Zero(t, log.count())

	res, err := c.SendWithAttachments(context.Background(), "text only", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Success, res.Outcome)
	req, _ := log.request(0)
	assert.Equal(t, "/api/messages", req.URL.Path)
}

func opener(s string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(s))), nil
	}
}

func TestSameMessageMutationsAreSerialized(t *testing.T) {
	release := make(chan struct{})
	var inFlight, maxInFlight atomic.Int32
	var seen atomic.Int32

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		if seen.Add(1) == 1 {
			<-release
		}
		inFlight.Add(-1)
		writeJSON(w, http.StatusOK, map[string]int{"deleted_id": 4})
	})

	var wg sync.WaitGroup
	for _, op := range []func() (Result, error){
		func() (Result, error) { return c.EditMessage(context.Background(), 4, "x") },
		func() (Result, error) { return c.DeleteMessage(context.Background(), 4) },
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := op()
			assert.NoError(t, err)
			assert.Equal(t, Success, res.Outcome)
		}()
	}

	require.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), seen.Load(), "second request reached the server while the first was in flight")

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Zero(t, c.serial.active())
}

func TestDifferentMessagesRunConcurrently(t *testing.T) {
	arrived := make(chan struct{}, 2)
	release := make(chan struct{})

	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		arrived <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	})

	var wg sync.WaitGroup
	for _, id := range []int64{1, 2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.DeleteMessage(context.Background(), id)
		}()
	}

	for range 2 {
		select {
		case <-arrived:
		case <-time.After(time.Second):
			t.Fatal("requests for different messages did not overlap")
		}
	}
	close(release)
	wg.Wait()
}

func TestSerializerHonoursContext(t *testing.T) {
	s := newSerializer()
	release, err := s.acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.acquire(ctx, "k")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	release()
	release()
	assert.Zero(t, s.active())
}

func TestDecodeMessagesShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []int64
	}{
		{"empty", "", nil},
		{"list", `[{"id":1},{"id":2}]`, []int64{1, 2}},
		{"single", `{"message_id":3,"message":{"id":3}}`, []int64{3}},
		{"many", `{"messages":[{"id":4},{"id":5}]}`, []int64{4, 5}},
		{"status only", `{"deleted_id":9}`, nil},
		{"not json", `ok`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []int64
			for _, m := range decodeMessages([]byte(tt.body)) {
				ids = append(ids, m.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
