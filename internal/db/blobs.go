package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pollchat/internal/models"
)

type BlobRepository struct {
	db *DB
}

func NewBlobRepository(db *DB) *BlobRepository {
	return &BlobRepository{db: db}
}

func (r *BlobRepository) Create(ctx context.Context, b *models.Blob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO blobs (id, uploader_id, storage_path, mime_type, size_bytes, original_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.UploaderID, b.StoragePath, b.MimeType, b.SizeBytes, b.OriginalName, b.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("creating blob: %w", err)
	}
	return nil
}

func (r *BlobRepository) FindByID(ctx context.Context, id string) (*models.Blob, error) {
	var b models.Blob
	err := r.db.QueryRowContext(ctx,
		`SELECT id, uploader_id, storage_path, mime_type, size_bytes, original_name, created_at FROM blobs WHERE id = ?`,
		id,
	).Scan(&b.ID, &b.UploaderID, &b.StoragePath, &b.MimeType, &b.SizeBytes, &b.OriginalName, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying blob: %w", err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

// Delete removes the row and returns its storage path.
func (r *BlobRepository) Delete(ctx context.Context, id string) (string, error) {
	var path string
	err := r.db.QueryRowContext(ctx, `DELETE FROM blobs WHERE id = ? RETURNING storage_path`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("deleting blob: %w", err)
	}
	return path, nil
}

// ListUnreferenced returns blobs created before cutoff that no message points
// at, oldest first.
func (r *BlobRepository) ListUnreferenced(ctx context.Context, cutoff time.Time, limit int) ([]models.Blob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.uploader_id, b.storage_path, b.mime_type, b.size_bytes, b.original_name, b.created_at
		   FROM blobs b
		  WHERE b.created_at < ?
		    AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.blob_id = b.id)
		  ORDER BY b.created_at
		  LIMIT ?`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unreferenced blobs: %w", err)
	}
	defer rows.Close()

	var blobs []models.Blob
	for rows.Next() {
		var b models.Blob
		if err := rows.Scan(&b.ID, &b.UploaderID, &b.StoragePath, &b.MimeType, &b.SizeBytes, &b.OriginalName, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning blob: %w", err)
		}
		blobs = append(blobs, b)
	}
	return blobs, rows.Err()
}
