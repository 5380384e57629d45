package repository

import (
	"context"

	"harmonic-universe/internal/domain"
)

// ParameterRepository checkpoints accepted parameter state to the durable
// store so a room survives a full process restart even when the Redis mirror
// is gone.
type ParameterRepository interface {
	// SaveCheckpoint upserts one field's accepted state.
	SaveCheckpoint(ctx context.Context, state domain.ParameterState) error

	// LoadAll returns every checkpointed field for a room.
	LoadAll(ctx context.Context, roomID uint) ([]domain.ParameterState, error)

	// DeleteRoom removes all checkpoints for a retired room.
	DeleteRoom(ctx context.Context, roomID uint) error
}
