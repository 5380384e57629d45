package domain

import "time"

// PresenceStatus is the visibility state of a user inside a room.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusBusy    PresenceStatus = "busy"
	StatusOffline PresenceStatus = "offline"
)

// Cursor is a 2D position inside the shared scene.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PresenceRecord tracks one user inside one room. LastActive never moves
// backwards for a given user.
type PresenceRecord struct {
	UserID        uint           `json:"user_id"`
	Username      string         `json:"username"`
	Status        PresenceStatus `json:"status"`
	Cursor        *Cursor        `json:"cursor,omitempty"`
	LastActive    time.Time      `json:"last_active"`
	ActivityLabel string         `json:"activity_label,omitempty"`
}

// Clone returns a copy safe to hand to another goroutine for broadcast.
func (p PresenceRecord) Clone() PresenceRecord {
	out := p
	if p.Cursor != nil {
		c := *p.Cursor
		out.Cursor = &c
	}
	return out
}
