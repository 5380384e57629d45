package repository

import (
	"context"
	"time"

	"harmonic-universe/internal/domain"
)

// StateRepository holds the fast-changing room state, implemented on Redis.
// It is a write-through mirror of the room workers' in-memory state, used to
// warm-start a room after restart, to serve activity tails cheaply, and for
// the bounded presence-history window.
type StateRepository interface {
	// === Parameter mirror ===

	// MirrorParameter writes one accepted field state (value + version).
	MirrorParameter(ctx context.Context, roomID uint, state domain.ParameterState) error

	// LoadParameters returns the mirrored state for a room; empty when the
	// mirror is cold.
	LoadParameters(ctx context.Context, roomID uint) ([]domain.ParameterState, error)

	// === Activity tail ===

	// PushActivity prepends an entry to the room's capped recent-activity
	// list.
	PushActivity(ctx context.Context, roomID uint, entry domain.ActivityEntry) error

	// RecentActivity returns up to limit entries, newest first.
	RecentActivity(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error)

	// === Presence history ===

	// SetLastSeen records when a user was last seen in a room, retained for
	// the bounded history window (ttl) after they go offline.
	SetLastSeen(ctx context.Context, roomID, userID uint, at time.Time, ttl time.Duration) error

	// GetLastSeen returns ErrNotFound once the history window has lapsed.
	GetLastSeen(ctx context.Context, roomID, userID uint) (time.Time, error)

	// === Cleanup ===

	// CleanupRoomState removes every key belonging to a retired room.
	CleanupRoomState(ctx context.Context, roomID uint) error

	// === Rate limiting ===

	// CheckRateLimit increments the counter for key and reports whether the
	// caller exceeded limit within the window.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
