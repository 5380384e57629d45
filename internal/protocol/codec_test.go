package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmonic-universe/internal/protocol"
)

func TestDecodeClientEvent_JoinRoom(t *testing.T) {
	raw := []byte(`{"type":"join_room","payload":{"room_token":"ABCD1234","user_id":7}}`)

	event, err := protocol.DecodeClientEvent(raw)

	require.NoError(t, err)
	join, ok := event.(protocol.JoinRoom)
	require.True(t, ok)
	assert.Equal(t, "ABCD1234", join.RoomToken)
	assert.Equal(t, uint(7), join.UserID)
}

func TestDecodeClientEvent_ParameterUpdate(t *testing.T) {
	raw := []byte(`{"type":"parameter:update","payload":{"field_path":["physics","gravity"],"value":9.81,"base_version":3}}`)

	event, err := protocol.DecodeClientEvent(raw)

	require.NoError(t, err)
	propose, ok := event.(protocol.ParameterPropose)
	require.True(t, ok)
	assert.Equal(t, []string{"physics", "gravity"}, propose.FieldPath)
	assert.Equal(t, uint64(3), propose.BaseVersion)
	assert.JSONEq(t, `9.81`, string(propose.Value))
}

func TestDecodeClientEvent_SyncRequestNeedsNoPayload(t *testing.T) {
	event, err := protocol.DecodeClientEvent([]byte(`{"type":"sync:request"}`))

	require.NoError(t, err)
	_, ok := event.(protocol.SyncRequest)
	assert.True(t, ok)
}

func TestDecodeClientEvent_MalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing type", `{"payload":{}}`},
		{"unknown type", `{"type":"teleport","payload":{}}`},
		{"join without token", `{"type":"join_room","payload":{"user_id":1}}`},
		{"update without path", `{"type":"parameter:update","payload":{"value":1,"base_version":0}}`},
		{"update empty path segment", `{"type":"parameter:update","payload":{"field_path":["a",""],"value":1,"base_version":0}}`},
		{"update dotted path segment", `{"type":"parameter:update","payload":{"field_path":["physics.gravity"],"value":1,"base_version":0}}`},
		{"batch dotted path segment", `{"type":"parameter:batch","payload":{"updates":[{"field_path":["a.b"],"value":1,"base_version":0}]}}`},
		{"update invalid value", `{"type":"parameter:update","payload":{"field_path":["a"],"value":"unterminated`},
		{"batch empty", `{"type":"parameter:batch","payload":{"updates":[]}}`},
		{"presence unknown status", `{"type":"presence:update","payload":{"status":"teleporting"}}`},
		{"presence empty", `{"type":"presence:update","payload":{}}`},
		{"chat empty message", `{"type":"chat:message","payload":{"message":""}}`},
		{"missing payload", `{"type":"chat:message"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := protocol.DecodeClientEvent([]byte(tc.raw))
			require.Error(t, err)
			assert.Nil(t, event)

			var validationErr *protocol.ValidationError
			assert.True(t, errors.As(err, &validationErr), "malformed frames yield ValidationError")
		})
	}
}

func TestDecodeClientEvent_ServerOnlyEventsRejected(t *testing.T) {
	serverOnly := []protocol.EventType{
		protocol.EventRoomJoined,
		protocol.EventRoomError,
		protocol.EventParameterAck,
		protocol.EventConflict,
		protocol.EventBatchResult,
		protocol.EventSyncState,
		protocol.EventServerBusy,
	}

	for _, eventType := range serverOnly {
		raw, err := json.Marshal(protocol.Envelope{Type: eventType, Payload: json.RawMessage(`{}`)})
		require.NoError(t, err)

		event, err := protocol.DecodeClientEvent(raw)
		require.Error(t, err, "event %s must be rejected from clients", eventType)
		assert.Nil(t, event)
	}
}

func TestDecodeClientEvent_BatchPartialValidationRejectsWholeFrame(t *testing.T) {
	raw := []byte(`{"type":"parameter:batch","payload":{"updates":[
		{"field_path":["a"],"value":1,"base_version":0},
		{"field_path":[],"value":2,"base_version":0}
	]}}`)

	event, err := protocol.DecodeClientEvent(raw)

	require.Error(t, err)
	assert.Nil(t, event)
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	frame, err := protocol.Encode(protocol.EventChatMessage, protocol.ChatMessage{Message: "hello"})
	require.NoError(t, err)

	event, err := protocol.DecodeClientEvent(frame)
	require.NoError(t, err)
	chat, ok := event.(protocol.ChatMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", chat.Message)
}

func TestEncode_NilPayloadOmitted(t *testing.T) {
	frame, err := protocol.Encode(protocol.EventSyncRequest, nil)
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, protocol.EventSyncRequest, env.Type)
	assert.Empty(t, env.Payload)
}
