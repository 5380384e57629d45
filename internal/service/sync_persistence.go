package service

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/tasks"
)

// SyncPersistence handles the off-worker side of parameter state: the Redis
// write-through mirror and the durable database checkpoints. The in-memory
// ParameterSynchronizer stays authoritative; this layer only makes its
// decisions survive restarts.
type SyncPersistence struct {
	stateRepo repository.StateRepository
	paramRepo repository.ParameterRepository
	enqueuer  TaskEnqueuer
}

func NewSyncPersistence(stateRepo repository.StateRepository, paramRepo repository.ParameterRepository, enqueuer TaskEnqueuer) *SyncPersistence {
	if stateRepo == nil || paramRepo == nil || enqueuer == nil {
		panic("all dependencies must be non-nil for SyncPersistence")
	}
	return &SyncPersistence{
		stateRepo: stateRepo,
		paramRepo: paramRepo,
		enqueuer:  enqueuer,
	}
}

// RecordAccepted mirrors an accepted write to Redis and enqueues its durable
// checkpoint. A mirror failure is logged but does not undo the accepted
// write; the checkpoint task retries independently.
func (p *SyncPersistence) RecordAccepted(ctx context.Context, state domain.ParameterState) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id":    state.RoomID,
		"field_path": state.FieldPath,
		"version":    state.Version,
	})

	if err := p.stateRepo.MirrorParameter(ctx, state.RoomID, state); err != nil {
		logCtx.WithError(err).Error("Failed to mirror accepted parameter to Redis")
	}

	payload, err := tasks.NewParameterCheckpointTask(state)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build parameter checkpoint task")
		return
	}
	task := asynq.NewTask(tasks.TypeParameterCheckpoint, payload)
	if _, err := p.enqueuer.EnqueueContext(ctx, task, asynq.Queue("default"), asynq.MaxRetry(5)); err != nil {
		logCtx.WithError(err).Error("Failed to enqueue parameter checkpoint task")
	}
}

// WarmStart loads the seed state for a room worker: the Redis mirror when it
// is warm, otherwise the database checkpoints.
func (p *SyncPersistence) WarmStart(ctx context.Context, roomID uint) ([]domain.ParameterState, error) {
	states, err := p.stateRepo.LoadParameters(ctx, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Redis parameter mirror unavailable, loading checkpoints")
	} else if len(states) > 0 {
		return states, nil
	}
	states, err = p.paramRepo.LoadAll(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("warm-start parameters for room %d: %w", roomID, err)
	}
	return states, nil
}
