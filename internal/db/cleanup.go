package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
)

// CleanupService drops expired token revocations and idempotency records.
type CleanupService struct {
	revoked        *RevokedTokenRepository
	idempotency    *IdempotencyRepository
	idempotencyTTL time.Duration
	interval       time.Duration
}

func NewCleanupService(revoked *RevokedTokenRepository, idempotency *IdempotencyRepository, idempotencyTTL time.Duration) *CleanupService {
	return &CleanupService{
		revoked:        revoked,
		idempotency:    idempotency,
		idempotencyTTL: idempotencyTTL,
		interval:       DefaultCleanupInterval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting cleanup service", "component", "cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	revokedDeleted, err := s.revoked.DeleteExpired(ctx)
	if err != nil {
		slog.Error("error deleting expired revocations", "component", "cleanup", "error", err)
	} else if revokedDeleted > 0 {
		slog.Info("deleted expired revocations", "component", "cleanup", "count", revokedDeleted)
	}

	keysDeleted, err := s.idempotency.DeleteOlderThan(ctx, time.Now().Add(-s.idempotencyTTL))
	if err != nil {
		slog.Error("error deleting idempotency keys", "component", "cleanup", "error", err)
	} else if keysDeleted > 0 {
		slog.Info("deleted idempotency keys", "component", "cleanup", "count", keysDeleted)
	}
}
