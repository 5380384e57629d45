// Package tasks defines the asynq task types and their payloads.
package tasks

import (
	"encoding/json"

	"harmonic-universe/internal/domain"
)

// Task type names routed through asynq.
const (
	// TypeActivityPersist writes one activity entry to the durable log.
	TypeActivityPersist = "activity:persist"
	// TypeParameterCheckpoint upserts one accepted parameter state.
	TypeParameterCheckpoint = "parameter:checkpoint"
	// TypeRoomsCleanup is the periodic sweep retiring inactive rooms.
	TypeRoomsCleanup = "rooms:cleanup"
)

// ActivityPersistPayload carries the entry to persist.
type ActivityPersistPayload struct {
	Entry domain.ActivityEntry `json:"entry"`
}

// NewActivityPersistTask serializes the payload for TypeActivityPersist.
func NewActivityPersistTask(entry domain.ActivityEntry) ([]byte, error) {
	return json.Marshal(ActivityPersistPayload{Entry: entry})
}

// ParameterCheckpointPayload carries the accepted state to checkpoint.
type ParameterCheckpointPayload struct {
	State domain.ParameterState `json:"state"`
}

// NewParameterCheckpointTask serializes the payload for
// TypeParameterCheckpoint.
func NewParameterCheckpointTask(state domain.ParameterState) ([]byte, error) {
	return json.Marshal(ParameterCheckpointPayload{State: state})
}

// NewRoomsCleanupTask builds the (empty) payload for TypeRoomsCleanup.
func NewRoomsCleanupTask() ([]byte, error) {
	return json.Marshal(struct{}{})
}
