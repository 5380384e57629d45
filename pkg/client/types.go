package client

import (
	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/protocol"
)

// Aliases for the wire and domain types appearing in this package's API, so
// importers outside this module can name them.

type (
	EventType        = protocol.EventType
	Envelope         = protocol.Envelope
	ParameterPropose = protocol.ParameterPropose
	RoomJoined       = protocol.RoomJoined
	RoomError        = protocol.RoomError
	ParameterAck     = protocol.ParameterAck
	Conflict         = protocol.Conflict
	BatchResult      = protocol.BatchResult
	SyncState        = protocol.SyncState
	ServerBusy       = protocol.ServerBusy

	PresenceStatus = domain.PresenceStatus
	Cursor         = domain.Cursor
	PresenceRecord = domain.PresenceRecord
	ParameterState = domain.ParameterState
)

// Server event types, for dispatching in OnEvent.
const (
	EventRoomJoined      = protocol.EventRoomJoined
	EventRoomError       = protocol.EventRoomError
	EventParameterUpdate = protocol.EventParameterUpdate
	EventParameterAck    = protocol.EventParameterAck
	EventConflict        = protocol.EventConflict
	EventBatchResult     = protocol.EventBatchResult
	EventPresenceUpdate  = protocol.EventPresenceUpdate
	EventCursorMove      = protocol.EventCursorMove
	EventChatMessage     = protocol.EventChatMessage
	EventSyncState       = protocol.EventSyncState
	EventServerBusy      = protocol.EventServerBusy
)

// Presence statuses.
const (
	StatusOnline  = domain.StatusOnline
	StatusAway    = domain.StatusAway
	StatusBusy    = domain.StatusBusy
	StatusOffline = domain.StatusOffline
)
