package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/tasks"
)

// ActivityPersistHandler writes activity entries to the durable log.
type ActivityPersistHandler struct {
	activityRepo repository.ActivityRepository
}

func NewActivityPersistHandler(activityRepo repository.ActivityRepository) *ActivityPersistHandler {
	return &ActivityPersistHandler{activityRepo: activityRepo}
}

// ProcessTask implements asynq.Handler.
func (h *ActivityPersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogCtx(ctx, t)
	logCtx.Debug("Processing activity persistence task")

	var payload tasks.ActivityPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.activityRepo.SaveBatch(ctx, []domain.ActivityEntry{payload.Entry}); err != nil {
		logCtx.WithError(err).Errorf("Failed to persist activity entry for room %d", payload.Entry.RoomID)
		return fmt.Errorf("failed to persist activity entry: %w", err)
	}

	logCtx.WithFields(logrus.Fields{
		"room_id": payload.Entry.RoomID,
		"action":  payload.Entry.Action,
	}).Debug("Activity entry persisted")
	return nil
}

// ParameterCheckpointHandler upserts accepted parameter state into MySQL so
// rooms can warm-start when the redis mirror is cold.
type ParameterCheckpointHandler struct {
	paramRepo repository.ParameterRepository
}

func NewParameterCheckpointHandler(paramRepo repository.ParameterRepository) *ParameterCheckpointHandler {
	return &ParameterCheckpointHandler{paramRepo: paramRepo}
}

// ProcessTask implements asynq.Handler.
func (h *ParameterCheckpointHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogCtx(ctx, t)

	var payload tasks.ParameterCheckpointPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.paramRepo.SaveCheckpoint(ctx, payload.State); err != nil {
		logCtx.WithError(err).Errorf("Failed to checkpoint parameter %q (room %d, version %d)",
			payload.State.FieldPath, payload.State.RoomID, payload.State.Version)
		return fmt.Errorf("failed to checkpoint parameter: %w", err)
	}

	logCtx.WithFields(logrus.Fields{
		"room_id":    payload.State.RoomID,
		"field_path": payload.State.FieldPath,
		"version":    payload.State.Version,
	}).Debug("Parameter checkpoint saved")
	return nil
}

// RoomsCleanupHandler retires rooms whose LastActive predates the retention
// cutoff: checkpoints for the room are deleted, then the redis mirror is
// cleared.
type RoomsCleanupHandler struct {
	roomRepo  repository.RoomRepository
	paramRepo repository.ParameterRepository
	stateRepo repository.StateRepository
	retention time.Duration
}

func NewRoomsCleanupHandler(
	roomRepo repository.RoomRepository,
	paramRepo repository.ParameterRepository,
	stateRepo repository.StateRepository,
	retention time.Duration,
) *RoomsCleanupHandler {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RoomsCleanupHandler{
		roomRepo:  roomRepo,
		paramRepo: paramRepo,
		stateRepo: stateRepo,
		retention: retention,
	}
}

// ProcessTask implements asynq.Handler.
func (h *RoomsCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogCtx(ctx, t)

	cutoff := time.Now().Add(-h.retention)
	rooms, err := h.roomRepo.FindInactiveSince(ctx, cutoff)
	if err != nil {
		logCtx.WithError(err).Error("Failed to list inactive rooms")
		return fmt.Errorf("failed to list inactive rooms: %w", err)
	}
	if len(rooms) == 0 {
		logCtx.Debug("No inactive rooms to clean up")
		return nil
	}

	cleaned := 0
	for _, room := range rooms {
		roomCtx := logCtx.WithField("room_id", room.ID)
		if err := h.paramRepo.DeleteRoom(ctx, room.ID); err != nil {
			roomCtx.WithError(err).Error("Failed to delete parameter checkpoints")
			continue
		}
		if err := h.stateRepo.CleanupRoomState(ctx, room.ID); err != nil {
			roomCtx.WithError(err).Error("Failed to clear room state mirror")
			continue
		}
		cleaned++
	}

	logCtx.WithFields(logrus.Fields{
		"candidates": len(rooms),
		"cleaned":    cleaned,
	}).Info("Rooms cleanup sweep finished")
	return nil
}

func taskLogCtx(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retryCount, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retryCount,
		"max_retry": maxRetry,
	})
}
