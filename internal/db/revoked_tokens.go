package db

import (
	"context"
	"fmt"
	"time"
)

// RevokedTokenRepository records session tokens ended by logout before they
// expire. Rows are only needed until the token would have expired anyway.
type RevokedTokenRepository struct {
	db *DB
}

func NewRevokedTokenRepository(db *DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Revoke is idempotent: revoking a token twice keeps the first record.
func (r *RevokedTokenRepository) Revoke(ctx context.Context, tokenID string, userID int64, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, user_id, expires_at, revoked_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (token_id) DO NOTHING`,
		tokenID, userID, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

func (r *RevokedTokenRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking token revocation: %w", err)
	}
	return count > 0, nil
}

func (r *RevokedTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired revocations: %w", err)
	}

	return result.RowsAffected()
}
