package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// FieldPathSeparator joins nested parameter segments, e.g.
// "physics.gravity" or "harmony.scale.root".
const FieldPathSeparator = "."

// JoinFieldPath flattens a field path for use as a map or storage key.
func JoinFieldPath(segments []string) string {
	return strings.Join(segments, FieldPathSeparator)
}

// SplitFieldPath is the inverse of JoinFieldPath.
func SplitFieldPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, FieldPathSeparator)
}

// ParameterState is the current accepted value of one tracked universe field.
// Version strictly increases on every accepted write; a proposal carrying a
// stale base version is surfaced as a conflict, never applied.
type ParameterState struct {
	RoomID     uint            `gorm:"primaryKey;autoIncrement:false" json:"room_id"`
	FieldPath  string          `gorm:"primaryKey;size:191" json:"field_path"`
	Value      json.RawMessage `gorm:"type:text" json:"value"`
	Version    uint64          `gorm:"not null" json:"version"`
	LastWriter uint            `gorm:"not null" json:"last_writer"`
	UpdatedAt  time.Time       `gorm:"index" json:"updated_at"`
}

// CloneFor returns a copy stamped with the room and path, so even the zero
// state of a never-written field identifies itself.
func (p ParameterState) CloneFor(roomID uint, fieldPath string) ParameterState {
	out := p
	out.RoomID = roomID
	out.FieldPath = fieldPath
	if p.Value != nil {
		out.Value = append(json.RawMessage(nil), p.Value...)
	}
	return out
}

// PathSegments returns the ordered segments of FieldPath.
func (p ParameterState) PathSegments() []string {
	return SplitFieldPath(p.FieldPath)
}
