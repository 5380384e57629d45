package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository/mocks"
	"harmonic-universe/internal/tasks"
	"harmonic-universe/internal/worker"
)

func TestActivityPersistHandler_SavesEntry(t *testing.T) {
	mockRepo := new(mocks.ActivityRepository)
	handler := worker.NewActivityPersistHandler(mockRepo)
	ctx := context.Background()

	entry := domain.ActivityEntry{RoomID: 7, UserID: 1, Action: domain.ActivityChat, Message: "hi"}
	payload, err := tasks.NewActivityPersistTask(entry)
	require.NoError(t, err)
	task := asynq.NewTask(tasks.TypeActivityPersist, payload)

	mockRepo.On("SaveBatch", ctx, mock.MatchedBy(func(entries []domain.ActivityEntry) bool {
		return len(entries) == 1 && entries[0].RoomID == 7 && entries[0].Message == "hi"
	})).Return(nil).Once()

	err = handler.ProcessTask(ctx, task)

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestActivityPersistHandler_MalformedPayloadSkipsRetry(t *testing.T) {
	mockRepo := new(mocks.ActivityRepository)
	handler := worker.NewActivityPersistHandler(mockRepo)

	task := asynq.NewTask(tasks.TypeActivityPersist, []byte("not json"))

	err := handler.ProcessTask(context.Background(), task)

	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "garbage payloads must not be retried")
	mockRepo.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestParameterCheckpointHandler_Upserts(t *testing.T) {
	mockRepo := new(mocks.ParameterRepository)
	handler := worker.NewParameterCheckpointHandler(mockRepo)
	ctx := context.Background()

	state := domain.ParameterState{RoomID: 7, FieldPath: "physics.gravity", Version: 4}
	payload, err := tasks.NewParameterCheckpointTask(state)
	require.NoError(t, err)
	task := asynq.NewTask(tasks.TypeParameterCheckpoint, payload)

	mockRepo.On("SaveCheckpoint", ctx, mock.MatchedBy(func(s domain.ParameterState) bool {
		return s.RoomID == 7 && s.FieldPath == "physics.gravity" && s.Version == 4
	})).Return(nil).Once()

	err = handler.ProcessTask(ctx, task)

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestParameterCheckpointHandler_RepoFailureRetries(t *testing.T) {
	mockRepo := new(mocks.ParameterRepository)
	handler := worker.NewParameterCheckpointHandler(mockRepo)
	ctx := context.Background()

	payload, _ := tasks.NewParameterCheckpointTask(domain.ParameterState{RoomID: 7})
	task := asynq.NewTask(tasks.TypeParameterCheckpoint, payload)

	mockRepo.On("SaveCheckpoint", ctx, mock.Anything).Return(errors.New("db down")).Once()

	err := handler.ProcessTask(ctx, task)

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "transient failures stay retryable")
}

func TestRoomsCleanupHandler_RetiresInactiveRooms(t *testing.T) {
	mockRooms := new(mocks.RoomRepository)
	mockParams := new(mocks.ParameterRepository)
	mockState := new(mocks.StateRepository)
	handler := worker.NewRoomsCleanupHandler(mockRooms, mockParams, mockState, 24*time.Hour)
	ctx := context.Background()

	inactive := []domain.Room{{ID: 3}, {ID: 9}}
	mockRooms.On("FindInactiveSince", ctx, mock.AnythingOfType("time.Time")).Return(inactive, nil).Once()
	mockParams.On("DeleteRoom", ctx, uint(3)).Return(nil).Once()
	mockParams.On("DeleteRoom", ctx, uint(9)).Return(nil).Once()
	mockState.On("CleanupRoomState", ctx, uint(3)).Return(nil).Once()
	mockState.On("CleanupRoomState", ctx, uint(9)).Return(nil).Once()

	payload, _ := tasks.NewRoomsCleanupTask()
	err := handler.ProcessTask(ctx, asynq.NewTask(tasks.TypeRoomsCleanup, payload))

	assert.NoError(t, err)
	mockRooms.AssertExpectations(t)
	mockParams.AssertExpectations(t)
	mockState.AssertExpectations(t)
}

func TestRoomsCleanupHandler_PartialFailureContinues(t *testing.T) {
	mockRooms := new(mocks.RoomRepository)
	mockParams := new(mocks.ParameterRepository)
	mockState := new(mocks.StateRepository)
	handler := worker.NewRoomsCleanupHandler(mockRooms, mockParams, mockState, 24*time.Hour)
	ctx := context.Background()

	inactive := []domain.Room{{ID: 3}, {ID: 9}}
	mockRooms.On("FindInactiveSince", ctx, mock.AnythingOfType("time.Time")).Return(inactive, nil).Once()
	mockParams.On("DeleteRoom", ctx, uint(3)).Return(errors.New("db down")).Once()
	mockParams.On("DeleteRoom", ctx, uint(9)).Return(nil).Once()
	mockState.On("CleanupRoomState", ctx, uint(9)).Return(nil).Once()

	payload, _ := tasks.NewRoomsCleanupTask()
	err := handler.ProcessTask(ctx, asynq.NewTask(tasks.TypeRoomsCleanup, payload))

	// One failed room does not fail the sweep; it is retried next run.
	assert.NoError(t, err)
	mockState.AssertNotCalled(t, "CleanupRoomState", ctx, uint(3))
}
