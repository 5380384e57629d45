package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository/mocks"
	"harmonic-universe/internal/service"
	"harmonic-universe/internal/tasks"
)

func TestSyncPersistence_RecordAccepted_MirrorsAndCheckpoints(t *testing.T) {
	mockState := new(mocks.StateRepository)
	mockParams := new(mocks.ParameterRepository)
	mockEnqueuer := new(mocks.TaskEnqueuer)
	persist := service.NewSyncPersistence(mockState, mockParams, mockEnqueuer)
	ctx := context.Background()

	state := domain.ParameterState{
		RoomID:    7,
		FieldPath: "physics.gravity",
		Value:     json.RawMessage(`9.81`),
		Version:   4,
	}

	mockState.On("MirrorParameter", ctx, uint(7), state).Return(nil).Once()
	mockEnqueuer.On("EnqueueContext", ctx, mock.MatchedBy(func(task *asynq.Task) bool {
		if task.Type() != tasks.TypeParameterCheckpoint {
			return false
		}
		var payload tasks.ParameterCheckpointPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		return payload.State.FieldPath == "physics.gravity" && payload.State.Version == 4
	})).Return(&asynq.TaskInfo{}, nil).Once()

	persist.RecordAccepted(ctx, state)

	mockState.AssertExpectations(t)
	mockEnqueuer.AssertExpectations(t)
}

func TestSyncPersistence_RecordAccepted_MirrorFailureStillEnqueues(t *testing.T) {
	mockState := new(mocks.StateRepository)
	mockParams := new(mocks.ParameterRepository)
	mockEnqueuer := new(mocks.TaskEnqueuer)
	persist := service.NewSyncPersistence(mockState, mockParams, mockEnqueuer)
	ctx := context.Background()

	state := domain.ParameterState{RoomID: 7, FieldPath: "a", Version: 1}
	mockState.On("MirrorParameter", ctx, uint(7), state).Return(errors.New("redis down")).Once()
	mockEnqueuer.On("EnqueueContext", ctx, mock.AnythingOfType("*asynq.Task")).
		Return(&asynq.TaskInfo{}, nil).Once()

	persist.RecordAccepted(ctx, state)

	mockEnqueuer.AssertExpectations(t)
}

func TestSyncPersistence_WarmStart_PrefersRedisMirror(t *testing.T) {
	mockState := new(mocks.StateRepository)
	mockParams := new(mocks.ParameterRepository)
	mockEnqueuer := new(mocks.TaskEnqueuer)
	persist := service.NewSyncPersistence(mockState, mockParams, mockEnqueuer)
	ctx := context.Background()

	mirrored := []domain.ParameterState{{RoomID: 7, FieldPath: "a", Version: 2}}
	mockState.On("LoadParameters", ctx, uint(7)).Return(mirrored, nil).Once()

	states, err := persist.WarmStart(ctx, 7)

	require.NoError(t, err)
	assert.Equal(t, mirrored, states)
	mockParams.AssertNotCalled(t, "LoadAll", mock.Anything, mock.Anything)
}

func TestSyncPersistence_WarmStart_ColdMirrorFallsBackToCheckpoints(t *testing.T) {
	mockState := new(mocks.StateRepository)
	mockParams := new(mocks.ParameterRepository)
	mockEnqueuer := new(mocks.TaskEnqueuer)
	persist := service.NewSyncPersistence(mockState, mockParams, mockEnqueuer)
	ctx := context.Background()

	mockState.On("LoadParameters", ctx, uint(7)).Return([]domain.ParameterState{}, nil).Once()
	checkpointed := []domain.ParameterState{{RoomID: 7, FieldPath: "a", Version: 9}}
	mockParams.On("LoadAll", ctx, uint(7)).Return(checkpointed, nil).Once()

	states, err := persist.WarmStart(ctx, 7)

	require.NoError(t, err)
	assert.Equal(t, checkpointed, states)
	mockState.AssertExpectations(t)
	mockParams.AssertExpectations(t)
}
