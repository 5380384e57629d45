package domain

import "time"

// DefaultRoomCapacity is applied when a room is created without an explicit
// member limit.
const DefaultRoomCapacity = 16

// Room is a shared universe document that sessions collaborate on. Live
// membership is owned by the room's hub worker; this entity carries the
// durable attributes.
type Room struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CreatorID   uint      `gorm:"index;not null" json:"creator_id"`
	Name        string    `gorm:"size:191;not null" json:"name"`
	InviteToken string    `gorm:"uniqueIndex;size:191;not null" json:"invite_token"`
	Capacity    int       `gorm:"not null" json:"capacity"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	LastActive  time.Time `gorm:"index" json:"last_active"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"-"`
}
