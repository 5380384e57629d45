// Package mocks provides testify mocks for the repository interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"harmonic-universe/internal/domain"
)

// UserRepository mocks repository.UserRepository.
type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	args := m.Called(ctx, username)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	args := m.Called(ctx, id)
	if u := args.Get(0); u != nil {
		return u.(*domain.User), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UserRepository) Save(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// RoomRepository mocks repository.RoomRepository.
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) FindByInviteToken(ctx context.Context, token string) (*domain.Room, error) {
	args := m.Called(ctx, token)
	if r := args.Get(0); r != nil {
		return r.(*domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomRepository) TouchLastActive(ctx context.Context, id uint, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *RoomRepository) FindInactiveSince(ctx context.Context, cutoff time.Time) ([]domain.Room, error) {
	args := m.Called(ctx, cutoff)
	if r := args.Get(0); r != nil {
		return r.([]domain.Room), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) IsInviteTokenTaken(ctx context.Context, token string) (bool, error) {
	args := m.Called(ctx, token)
	return args.Bool(0), args.Error(1)
}

// ActivityRepository mocks repository.ActivityRepository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) SaveBatch(ctx context.Context, entries []domain.ActivityEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *ActivityRepository) Tail(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error) {
	args := m.Called(ctx, roomID, limit)
	if e := args.Get(0); e != nil {
		return e.([]domain.ActivityEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

// ParameterRepository mocks repository.ParameterRepository.
type ParameterRepository struct {
	mock.Mock
}

func (m *ParameterRepository) SaveCheckpoint(ctx context.Context, state domain.ParameterState) error {
	args := m.Called(ctx, state)
	return args.Error(0)
}

func (m *ParameterRepository) LoadAll(ctx context.Context, roomID uint) ([]domain.ParameterState, error) {
	args := m.Called(ctx, roomID)
	if s := args.Get(0); s != nil {
		return s.([]domain.ParameterState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ParameterRepository) DeleteRoom(ctx context.Context, roomID uint) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// StateRepository mocks repository.StateRepository.
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) MirrorParameter(ctx context.Context, roomID uint, state domain.ParameterState) error {
	args := m.Called(ctx, roomID, state)
	return args.Error(0)
}

func (m *StateRepository) LoadParameters(ctx context.Context, roomID uint) ([]domain.ParameterState, error) {
	args := m.Called(ctx, roomID)
	if s := args.Get(0); s != nil {
		return s.([]domain.ParameterState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StateRepository) PushActivity(ctx context.Context, roomID uint, entry domain.ActivityEntry) error {
	args := m.Called(ctx, roomID, entry)
	return args.Error(0)
}

func (m *StateRepository) RecentActivity(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error) {
	args := m.Called(ctx, roomID, limit)
	if e := args.Get(0); e != nil {
		return e.([]domain.ActivityEntry), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StateRepository) SetLastSeen(ctx context.Context, roomID, userID uint, at time.Time, ttl time.Duration) error {
	args := m.Called(ctx, roomID, userID, at, ttl)
	return args.Error(0)
}

func (m *StateRepository) GetLastSeen(ctx context.Context, roomID, userID uint) (time.Time, error) {
	args := m.Called(ctx, roomID, userID)
	if t, ok := args.Get(0).(time.Time); ok {
		return t, args.Error(1)
	}
	return time.Time{}, args.Error(1)
}

func (m *StateRepository) CleanupRoomState(ctx context.Context, roomID uint) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

// TaskEnqueuer mocks the asynq client surface the services depend on.
type TaskEnqueuer struct {
	mock.Mock
}

func (m *TaskEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	// Options are intentionally left out of the expectation so tests match
	// on the task alone.
	args := m.Called(ctx, task)
	if info := args.Get(0); info != nil {
		return info.(*asynq.TaskInfo), args.Error(1)
	}
	return nil, args.Error(1)
}
