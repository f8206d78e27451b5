package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"pollchat/internal/constants"
	"pollchat/internal/db"
)

// apiResult is a handler outcome that can be stored and replayed.
type apiResult struct {
	status int
	body   any
}

func errorResult(status int, code, message string) apiResult {
	return apiResult{status: status, body: ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}}
}

func internalResult() apiResult {
	return errorResult(http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred")
}

// Idempotency makes creates safe to retry. Successful responses are stored
// per user and key; a retry gets the stored response and concurrent
// duplicates share one execution.
type Idempotency struct {
	repo  *db.IdempotencyRepository
	group singleflight.Group
}

func NewIdempotency(repo *db.IdempotencyRepository) *Idempotency {
	return &Idempotency{repo: repo}
}

type replayable struct {
	resp     db.StoredResponse
	replayed bool
}

// serve runs fn at most once per (user, key) and writes the response. An empty
// key runs fn unconditionally.
func (s *Idempotency) serve(w http.ResponseWriter, r *http.Request, userID int64, key string, fn func(ctx context.Context) apiResult) {
	if key == "" {
		res := fn(r.Context())
		writeJSON(w, res.status, res.body)
		return
	}

	v, err, _ := s.group.Do(fmt.Sprintf("%d:%s", userID, key), func() (any, error) {
		return s.run(r.Context(), userID, key, fn)
	})
	if err != nil {
		slog.Error("error running idempotent request", "error", err, "user_id", userID)
		internalError(w)
		return
	}

	out := v.(*replayable)
	w.Header().Set("Content-Type", "application/json")
	if out.replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.WriteHeader(out.resp.Status)
	_, _ = w.Write(out.resp.Body)
}

func (s *Idempotency) run(ctx context.Context, userID int64, key string, fn func(ctx context.Context) apiResult) (*replayable, error) {
	stored, err := s.repo.Find(ctx, userID, key)
	if err == nil {
		return &replayable{resp: *stored, replayed: true}, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	res := fn(ctx)
	body, err := json.Marshal(res.body)
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	body = append(body, '\n')

	resp := db.StoredResponse{Status: res.status, Body: body}
	if res.status >= 200 && res.status < 300 {
		if err := s.repo.Save(ctx, userID, key, resp); err != nil {
			slog.Error("error saving idempotency key", "error", err, "user_id", userID)
		}
	}
	return &replayable{resp: resp}, nil
}

// idempotencyKey returns the request's key, or ok=false when it is malformed.
func idempotencyKey(r *http.Request) (string, bool) {
	key := strings.TrimSpace(r.Header.Get(constants.IdempotencyKeyHeader))
	if len(key) > constants.MaxIdempotencyKeyLength {
		return "", false
	}
	for _, c := range key {
		if c < 0x21 || c > 0x7e {
			return "", false
		}
	}
	return key, true
}
