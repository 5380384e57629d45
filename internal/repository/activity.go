package repository

import (
	"context"

	"harmonic-universe/internal/domain"
)

// ActivityRepository is the durable, append-only room event log.
type ActivityRepository interface {
	// SaveBatch persists entries. Called from background workers, never from
	// the room hot path.
	SaveBatch(ctx context.Context, entries []domain.ActivityEntry) error

	// Tail returns the most recent entries for a room, newest first, capped
	// at limit.
	Tail(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error)
}
