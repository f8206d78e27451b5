package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StoredResponse is a response recorded under an idempotency key.
type StoredResponse struct {
	Status int
	Body   []byte
}

// IdempotencyRepository remembers create responses per user and key so a
// retried request gets the original answer instead of a duplicate message.
type IdempotencyRepository struct {
	db *DB
}

func NewIdempotencyRepository(db *DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Find(ctx context.Context, userID int64, key string) (*StoredResponse, error) {
	var resp StoredResponse
	err := r.db.QueryRowContext(ctx,
		`SELECT status, body FROM idempotency_keys WHERE user_id = ? AND key = ?`,
		userID, key,
	).Scan(&resp.Status, &resp.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying idempotency key: %w", err)
	}
	return &resp, nil
}

// Save stores the response. A concurrent save of the same key keeps the first.
func (r *IdempotencyRepository) Save(ctx context.Context, userID int64, key string, resp StoredResponse) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (user_id, key, status, body, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, key) DO NOTHING`,
		userID, key, resp.Status, resp.Body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting idempotency keys: %w", err)
	}
	return result.RowsAffected()
}
