// Package protocol defines the websocket wire format: a JSON envelope
// carrying one of a closed set of event types. Inbound frames are decoded
// exactly once, here, into typed payloads; everything past this boundary
// works with concrete structs.
package protocol

import (
	"encoding/json"
	"time"

	"harmonic-universe/internal/domain"
)

// EventType tags an envelope. The set is closed: an unknown tag is a
// validation failure, not an extension point.
type EventType string

const (
	// Client to server.
	EventJoinRoom        EventType = "join_room"
	EventParameterUpdate EventType = "parameter:update"
	EventParameterBatch  EventType = "parameter:batch"
	EventPresenceUpdate  EventType = "presence:update"
	EventCursorMove      EventType = "cursor:move"
	EventChatMessage     EventType = "chat:message"
	EventSyncRequest     EventType = "sync:request"

	// Server to client. EventParameterUpdate and EventPresenceUpdate are
	// reused for broadcasts with the server-side payload shapes below.
	EventRoomJoined   EventType = "room_joined"
	EventRoomError    EventType = "room_error"
	EventParameterAck EventType = "parameter:ack"
	EventConflict     EventType = "conflict"
	EventBatchResult  EventType = "parameter:batch_result"
	EventSyncState    EventType = "sync:state"
	EventServerBusy   EventType = "server_busy"
)

// Envelope is the outer frame of every message in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Client payloads ---

// JoinRoom asks to attach the session to the room identified by the invite
// token.
type JoinRoom struct {
	RoomToken string `json:"room_token"`
	UserID    uint   `json:"user_id"`
}

// ParameterPropose is a single field-level write with optimistic version
// check.
type ParameterPropose struct {
	FieldPath   []string        `json:"field_path"`
	Value       json.RawMessage `json:"value"`
	BaseVersion uint64          `json:"base_version"`
}

// ParameterBatch proposes several field writes at once. Each field is checked
// independently; accepted fields stand even when siblings conflict.
type ParameterBatch struct {
	Updates []ParameterPropose `json:"updates"`
}

// PresenceSet reports an explicit status or activity change.
type PresenceSet struct {
	Status        domain.PresenceStatus `json:"status,omitempty"`
	ActivityLabel string                `json:"activity_label,omitempty"`
}

// CursorMove reports the sender's cursor position.
type CursorMove struct {
	Position domain.Cursor `json:"position"`
}

// ChatMessage is a chat line from the sender.
type ChatMessage struct {
	Message string `json:"message"`
}

// SyncRequest asks for a full state replay. Sent by clients after every
// reconnect; clients never assume state survived a disconnect.
type SyncRequest struct{}

// --- Server payloads ---

// RoomJoined replays the full room state to a freshly attached session,
// before the session is marked live.
type RoomJoined struct {
	Message string `json:"message"`
	RoomID  uint   `json:"room_id"`
	// HeartbeatSeconds tells the client how often to produce traffic; any
	// inbound frame counts as a heartbeat.
	HeartbeatSeconds  int                     `json:"heartbeat_seconds"`
	PresenceSnapshot  []domain.PresenceRecord `json:"presence_snapshot"`
	ParameterSnapshot []domain.ParameterState `json:"parameter_snapshot"`
}

// RoomError error kinds.
const (
	RoomErrorCapacity     = "capacity"
	RoomErrorInvalidToken = "invalid_token"
)

// RoomError reports a failed join. Neither kind is retried automatically.
type RoomError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParameterBroadcast announces an accepted write to every room member except
// the author.
type ParameterBroadcast struct {
	FieldPath []string        `json:"field_path"`
	Value     json.RawMessage `json:"value"`
	Version   uint64          `json:"version"`
	Author    uint            `json:"author"`
}

// ParameterAck tells the author their write was accepted; the author already
// applied the value locally and must not re-apply the broadcast.
type ParameterAck struct {
	FieldPath []string `json:"field_path"`
	Version   uint64   `json:"version"`
}

// Conflict reports a stale-version proposal back to its author. The server
// keeps the current value; the author must resolve and may resubmit against
// RemoteVersion.
type Conflict struct {
	FieldPath     []string        `json:"field_path"`
	LocalValue    json.RawMessage `json:"local_value"`
	RemoteValue   json.RawMessage `json:"remote_value"`
	RemoteVersion uint64          `json:"remote_version"`
}

// BatchResult reports the per-field outcome of a ParameterBatch.
type BatchResult struct {
	Accepted  []ParameterAck `json:"accepted"`
	Conflicts []Conflict     `json:"conflicts"`
}

// PresenceBroadcast mirrors one presence record to the rest of the room.
type PresenceBroadcast struct {
	UserID        uint                  `json:"user_id"`
	Username      string                `json:"username,omitempty"`
	Status        domain.PresenceStatus `json:"status"`
	Cursor        *domain.Cursor        `json:"cursor,omitempty"`
	ActivityLabel string                `json:"activity_label,omitempty"`
}

// CursorBroadcast mirrors a cursor move to the rest of the room.
type CursorBroadcast struct {
	UserID   uint          `json:"user_id"`
	Position domain.Cursor `json:"position"`
}

// ChatBroadcast fans a chat line out to the room. Timestamp is server receipt
// time.
type ChatBroadcast struct {
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncState answers a SyncRequest with the same snapshot shapes used on join.
type SyncState struct {
	PresenceSnapshot  []domain.PresenceRecord `json:"presence_snapshot"`
	ParameterSnapshot []domain.ParameterState `json:"parameter_snapshot"`
}

// ServerBusy warns a session that its room queue is saturated and the message
// was held longer than the configured threshold.
type ServerBusy struct {
	Message string `json:"message"`
}
