package blob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pollchat/internal/db"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
	DefaultCleanupBatch    = 100
	// DefaultOrphanGrace keeps fresh blobs whose message insert may still be
	// in flight.
	DefaultOrphanGrace = 1 * time.Hour
)

// CleanupService removes blobs that no message references any more, both the
// row and the file.
type CleanupService struct {
	repo      *db.BlobRepository
	blobs     *Service
	interval  time.Duration
	grace     time.Duration
	batchSize int
}

func NewCleanupService(repo *db.BlobRepository, blobs *Service) *CleanupService {
	return &CleanupService{
		repo:      repo,
		blobs:     blobs,
		interval:  DefaultCleanupInterval,
		grace:     DefaultOrphanGrace,
		batchSize: DefaultCleanupBatch,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting blob cleanup service", "component", "blob_cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping blob cleanup service", "component", "blob_cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) int {
	rows, err := s.repo.ListUnreferenced(ctx, time.Now().Add(-s.grace), s.batchSize)
	if err != nil {
		slog.Error("error listing unreferenced blobs", "component", "blob_cleanup", "error", err)
		return 0
	}

	deleted := 0
	for _, row := range rows {
		if err := s.Remove(ctx, row.ID); err != nil {
			slog.Error("error deleting unreferenced blob", "component", "blob_cleanup", "error", err, "blob_id", row.ID)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		slog.Info("deleted unreferenced blobs", "component", "blob_cleanup", "count", deleted)
	}
	return deleted
}

// Remove deletes a blob row and its file. A blob already gone is not an error.
func (s *CleanupService) Remove(ctx context.Context, blobID string) error {
	path, err := s.repo.Delete(ctx, blobID)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(path); err != nil {
		slog.Warn("error deleting blob file", "component", "blob_cleanup", "error", err, "blob_id", blobID)
	}
	return nil
}
