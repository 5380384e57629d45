package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/tasks"
)

// TaskEnqueuer is the slice of asynq.Client the services need. Kept as an
// interface so tests can capture enqueued tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ActivityService is the append-only per-room event log. Entries are
// sequenced by the room worker before they reach Append, so same-author
// submission order and cross-author server-receipt order both hold; this
// service handles the fast tail (Redis) and durable persistence (asynq to
// MySQL).
type ActivityService struct {
	stateRepo    repository.StateRepository
	activityRepo repository.ActivityRepository
	enqueuer     TaskEnqueuer
}

func NewActivityService(stateRepo repository.StateRepository, activityRepo repository.ActivityRepository, enqueuer TaskEnqueuer) *ActivityService {
	if stateRepo == nil || activityRepo == nil || enqueuer == nil {
		panic("all dependencies must be non-nil for ActivityService")
	}
	return &ActivityService{
		stateRepo:    stateRepo,
		activityRepo: activityRepo,
		enqueuer:     enqueuer,
	}
}

// Append records one entry: the Redis tail is written and the durable
// persistence task enqueued before Append returns. The entry's Timestamp
// must already be server receipt time; client clocks are never consulted.
func (s *ActivityService) Append(ctx context.Context, entry domain.ActivityEntry) error {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": entry.RoomID,
		"user_id": entry.UserID,
		"action":  entry.Action,
	})

	if err := s.stateRepo.PushActivity(ctx, entry.RoomID, entry); err != nil {
		logCtx.WithError(err).Error("Failed to push activity to Redis tail")
		return fmt.Errorf("append activity: %w", err)
	}

	payload, err := tasks.NewActivityPersistTask(entry)
	if err != nil {
		logCtx.WithError(err).Error("Failed to build activity persistence task")
		return fmt.Errorf("append activity: %w", err)
	}
	task := asynq.NewTask(tasks.TypeActivityPersist, payload)
	if _, err := s.enqueuer.EnqueueContext(ctx, task, asynq.Queue("default"), asynq.MaxRetry(5)); err != nil {
		logCtx.WithError(err).Error("Failed to enqueue activity persistence task")
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// Tail returns the most recent entries, newest first. Redis serves the hot
// path; the database covers rooms whose tail has been cleaned up.
func (s *ActivityService) Tail(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.stateRepo.RecentActivity(ctx, roomID, limit)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Redis activity tail unavailable, falling back to database")
	} else if len(entries) > 0 {
		return entries, nil
	}
	entries, err = s.activityRepo.Tail(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("tail activity for room %d: %w", roomID, err)
	}
	return entries, nil
}

// StampReceipt fills the server receipt timestamp on an entry.
func StampReceipt(entry domain.ActivityEntry, now time.Time) domain.ActivityEntry {
	entry.Timestamp = now.UTC()
	return entry
}
