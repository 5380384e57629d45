package domain

import "time"

// Well-known activity actions. Target carries the object of the action, e.g.
// the field path for a parameter edit or empty for a chat message.
const (
	ActivityJoined   = "joined"
	ActivityLeft     = "left"
	ActivityEdited   = "edited"
	ActivityChat     = "chat"
	ActivityRenamed  = "renamed"
	ActivityResolved = "resolved_conflict"
)

// ActivityEntry is one immutable line of the per-room event log. Timestamp is
// server receipt time; client clocks are untrusted and never used for
// ordering.
type ActivityEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    uint      `gorm:"index;not null" json:"room_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Username  string    `gorm:"size:191" json:"username"`
	Action    string    `gorm:"size:50;not null" json:"action"`
	Target    string    `gorm:"size:191" json:"target"`
	Message   string    `gorm:"type:text" json:"message,omitempty"`
	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}
