package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"harmonic-universe/internal/domain"
)

func TestFieldPathRoundTrip(t *testing.T) {
	segments := []string{"harmony", "scale", "root"}
	joined := domain.JoinFieldPath(segments)
	assert.Equal(t, "harmony.scale.root", joined)
	assert.Equal(t, segments, domain.SplitFieldPath(joined))

	assert.Nil(t, domain.SplitFieldPath(""))
}

func TestParameterState_CloneForCopiesValue(t *testing.T) {
	state := domain.ParameterState{
		Value:   json.RawMessage(`{"a":1}`),
		Version: 3,
	}

	clone := state.CloneFor(7, "physics.gravity")
	assert.Equal(t, uint(7), clone.RoomID)
	assert.Equal(t, "physics.gravity", clone.FieldPath)
	assert.Equal(t, uint64(3), clone.Version)

	// Mutating the clone's value must not leak into the original.
	clone.Value[2] = 'b'
	assert.JSONEq(t, `{"a":1}`, string(state.Value))
}

func TestParameterState_CloneForZeroState(t *testing.T) {
	var zero domain.ParameterState

	clone := zero.CloneFor(7, "audio.volume")
	assert.Equal(t, uint(7), clone.RoomID)
	assert.Equal(t, "audio.volume", clone.FieldPath)
	assert.Equal(t, uint64(0), clone.Version)
	assert.Nil(t, clone.Value)
}
