package repository

import (
	"context"
	"time"

	"harmonic-universe/internal/domain"
)

// RoomRepository stores the durable attributes of universe rooms.
type RoomRepository interface {
	// FindByID returns ErrRoomNotFound when no such room exists.
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// FindByInviteToken returns ErrRoomNotFound when the token matches no room.
	FindByInviteToken(ctx context.Context, token string) (*domain.Room, error)

	// Save creates the room, or updates it when ID is already set.
	Save(ctx context.Context, room *domain.Room) error

	// TouchLastActive bumps the room's LastActive timestamp.
	TouchLastActive(ctx context.Context, id uint, at time.Time) error

	// FindInactiveSince lists rooms whose LastActive predates the cutoff.
	// Used by the periodic cleanup task.
	FindInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Room, error)

	// IsInviteTokenTaken reports whether the token is already assigned.
	IsInviteTokenTaken(ctx context.Context, token string) (bool, error)
}
