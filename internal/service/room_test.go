package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository"
	"harmonic-universe/internal/repository/mocks"
	"harmonic-universe/internal/service"
)

func TestRoomService_CreateRoom_Success(t *testing.T) {
	mockRoomRepo := new(mocks.RoomRepository)
	roomService := service.NewRoomService(mockRoomRepo)
	ctx := context.Background()

	mockRoomRepo.On("IsInviteTokenTaken", ctx, mock.MatchedBy(func(token string) bool {
		return len(token) == 8
	})).Return(false, nil).Once()

	mockRoomRepo.On("Save", ctx, mock.MatchedBy(func(room *domain.Room) bool {
		assert.Equal(t, uint(1), room.CreatorID)
		assert.Equal(t, "solar winds", room.Name)
		assert.Equal(t, 4, room.Capacity)
		assert.Len(t, room.InviteToken, 8)
		assert.False(t, room.LastActive.IsZero())
		return true
	})).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Room).ID = 7
		}).
		Return(nil).
		Once()

	room, err := roomService.CreateRoom(ctx, 1, "solar winds", 4)

	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, uint(7), room.ID)

	mockRoomRepo.AssertExpectations(t)
}

func TestRoomService_CreateRoom_DefaultCapacity(t *testing.T) {
	mockRoomRepo := new(mocks.RoomRepository)
	roomService := service.NewRoomService(mockRoomRepo)
	ctx := context.Background()

	mockRoomRepo.On("IsInviteTokenTaken", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	mockRoomRepo.On("Save", ctx, mock.MatchedBy(func(room *domain.Room) bool {
		return room.Capacity == domain.DefaultRoomCapacity
	})).Return(nil).Once()

	_, err := roomService.CreateRoom(ctx, 1, "room", 0)
	require.NoError(t, err)

	mockRoomRepo.AssertExpectations(t)
}

func TestRoomService_CreateRoom_TokenCollisionRetries(t *testing.T) {
	mockRoomRepo := new(mocks.RoomRepository)
	roomService := service.NewRoomService(mockRoomRepo)
	ctx := context.Background()

	// First generated token collides; the second is free.
	mockRoomRepo.On("IsInviteTokenTaken", ctx, mock.AnythingOfType("string")).Return(true, nil).Once()
	mockRoomRepo.On("IsInviteTokenTaken", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	mockRoomRepo.On("Save", ctx, mock.AnythingOfType("*domain.Room")).Return(nil).Once()

	_, err := roomService.CreateRoom(ctx, 1, "room", 2)
	require.NoError(t, err)

	mockRoomRepo.AssertExpectations(t)
}

func TestRoomService_ResolveJoin_Success(t *testing.T) {
	mockRoomRepo := new(mocks.RoomRepository)
	roomService := service.NewRoomService(mockRoomRepo)
	ctx := context.Background()

	room := &domain.Room{ID: 3, Name: "nebula", InviteToken: "ABCD1234", Capacity: 4}
	mockRoomRepo.On("FindByInviteToken", ctx, "ABCD1234").Return(room, nil).Once()

	got, err := roomService.ResolveJoin(ctx, 1, "ABCD1234")

	require.NoError(t, err)
	assert.Equal(t, uint(3), got.ID)

	mockRoomRepo.AssertExpectations(t)
}

func TestRoomService_ResolveJoin_InvalidToken(t *testing.T) {
	mockRoomRepo := new(mocks.RoomRepository)
	roomService := service.NewRoomService(mockRoomRepo)
	ctx := context.Background()

	mockRoomRepo.On("FindByInviteToken", ctx, "WRONG000").
		Return(nil, repository.ErrRoomNotFound).
		Once()

	_, err := roomService.ResolveJoin(ctx, 1, "WRONG000")

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrInvalidToken))

	mockRoomRepo.AssertExpectations(t)
}

func TestRoomService_FindRoomByID_NotFound(t *testing.T) {
	mockRoomRepo := new(mocks.RoomRepository)
	roomService := service.NewRoomService(mockRoomRepo)
	ctx := context.Background()

	mockRoomRepo.On("FindByID", ctx, uint(99)).Return(nil, repository.ErrRoomNotFound).Once()

	_, err := roomService.FindRoomByID(ctx, 99)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrRoomNotFound))

	mockRoomRepo.AssertExpectations(t)
}
