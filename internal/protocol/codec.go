package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"harmonic-universe/internal/domain"
)

// ClientEvent is the closed union of events a client may send. A decoded
// event is always one of the concrete types below.
type ClientEvent interface {
	isClientEvent()
}

func (JoinRoom) isClientEvent()         {}
func (ParameterPropose) isClientEvent() {}
func (ParameterBatch) isClientEvent()   {}
func (PresenceSet) isClientEvent()      {}
func (CursorMove) isClientEvent()       {}
func (ChatMessage) isClientEvent()      {}
func (SyncRequest) isClientEvent()      {}

// ValidationError reports a malformed frame. The offending message is dropped
// and logged; the session is not torn down for a single bad message.
type ValidationError struct {
	Event  EventType
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Event == "" {
		return "protocol: " + e.Reason
	}
	return fmt.Sprintf("protocol: %s: %s", e.Event, e.Reason)
}

func invalid(event EventType, reason string) error {
	return &ValidationError{Event: event, Reason: reason}
}

// DecodeClientEvent parses one inbound text frame into a typed event. This is
// the only place raw client JSON is interpreted.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ValidationError{Reason: "malformed envelope: " + err.Error()}
	}
	if env.Type == "" {
		return nil, &ValidationError{Reason: "missing event type"}
	}

	switch env.Type {
	case EventJoinRoom:
		var p JoinRoom
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.RoomToken == "" {
			return nil, invalid(env.Type, "room_token is required")
		}
		return p, nil

	case EventParameterUpdate:
		var p ParameterPropose
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if err := validatePropose(env.Type, p); err != nil {
			return nil, err
		}
		return p, nil

	case EventParameterBatch:
		var p ParameterBatch
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if len(p.Updates) == 0 {
			return nil, invalid(env.Type, "updates must not be empty")
		}
		for _, u := range p.Updates {
			if err := validatePropose(env.Type, u); err != nil {
				return nil, err
			}
		}
		return p, nil

	case EventPresenceUpdate:
		var p PresenceSet
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Status == "" && p.ActivityLabel == "" {
			return nil, invalid(env.Type, "status or activity_label is required")
		}
		if p.Status != "" && !validStatus(p.Status) {
			return nil, invalid(env.Type, "unknown status "+string(p.Status))
		}
		return p, nil

	case EventCursorMove:
		var p CursorMove
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		return p, nil

	case EventChatMessage:
		var p ChatMessage
		if err := unmarshalPayload(env, &p); err != nil {
			return nil, err
		}
		if p.Message == "" {
			return nil, invalid(env.Type, "message must not be empty")
		}
		return p, nil

	case EventSyncRequest:
		return SyncRequest{}, nil

	case EventRoomJoined, EventRoomError, EventParameterAck, EventConflict,
		EventBatchResult, EventSyncState, EventServerBusy:
		return nil, invalid(env.Type, "server-only event sent by client")

	default:
		return nil, invalid(env.Type, "unknown event type")
	}
}

// Encode wraps a payload into an envelope and marshals it for the wire.
func Encode(t EventType, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s payload: %w", t, err)
		}
		raw = b
	}
	b, err := json.Marshal(Envelope{Type: t, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s envelope: %w", t, err)
	}
	return b, nil
}

func unmarshalPayload(env Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return invalid(env.Type, "missing payload")
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return invalid(env.Type, "malformed payload: "+err.Error())
	}
	return nil
}

func validatePropose(event EventType, p ParameterPropose) error {
	if len(p.FieldPath) == 0 {
		return invalid(event, "field_path must not be empty")
	}
	for _, seg := range p.FieldPath {
		if seg == "" {
			return invalid(event, "field_path segments must not be empty")
		}
		// "." joins segments into the canonical dotted path, so a segment
		// containing it would collide with a differently nested path.
		if strings.Contains(seg, ".") {
			return invalid(event, "field_path segments must not contain '.'")
		}
	}
	if len(p.Value) == 0 {
		return invalid(event, "value is required")
	}
	if !json.Valid(p.Value) {
		return invalid(event, "value is not valid JSON")
	}
	return nil
}

func validStatus(s domain.PresenceStatus) bool {
	switch s {
	case domain.StatusOnline, domain.StatusAway, domain.StatusBusy, domain.StatusOffline:
		return true
	}
	return false
}
