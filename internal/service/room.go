package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"harmonic-universe/internal/domain"
	"harmonic-universe/internal/repository"
)

// RoomService manages the durable side of rooms: creation, invite tokens and
// join validation. Live membership and capacity enforcement at attach time
// belong to the hub.
type RoomService struct {
	roomRepo repository.RoomRepository
}

func NewRoomService(roomRepo repository.RoomRepository) *RoomService {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomService")
	}
	return &RoomService{roomRepo: roomRepo}
}

// CreateRoom creates a universe room with a fresh invite token. A
// non-positive capacity falls back to the default.
func (s *RoomService) CreateRoom(ctx context.Context, creatorID uint, name string, capacity int) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"creator_id": creatorID, "room_name": name})

	if capacity <= 0 {
		capacity = domain.DefaultRoomCapacity
	}
	token, err := s.generateUniqueToken(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique invite token")
		return nil, ErrInternalServer
	}

	room := &domain.Room{
		CreatorID:   creatorID,
		Name:        name,
		InviteToken: token,
		Capacity:    capacity,
		LastActive:  time.Now().UTC(),
	}
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, ErrInternalServer
	}

	logCtx.WithField("room_id", room.ID).Info("Room created successfully")
	return room, nil
}

// ResolveJoin validates an invite token and returns the target room.
// Returns ErrInvalidToken when the token matches nothing.
func (s *RoomService) ResolveJoin(ctx context.Context, userID uint, token string) (*domain.Room, error) {
	logCtx := logrus.WithField("user_id", userID)

	room, err := s.roomRepo.FindByInviteToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Warn("Join rejected: invite token matched no room")
			return nil, ErrInvalidToken
		}
		logCtx.WithError(err).Error("Failed to resolve invite token")
		return nil, ErrInternalServer
	}
	if room == nil {
		logCtx.Warn("Join rejected: repository returned nil room without error")
		return nil, ErrInvalidToken
	}
	return room, nil
}

// FindRoomByID looks up a room, mapping repository errors to business ones.
func (s *RoomService) FindRoomByID(ctx context.Context, roomID uint) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("FindRoomByID: repository error")
		return nil, ErrInternalServer
	}
	return room, nil
}

// TouchRoom bumps the room's LastActive timestamp. Failure is logged, not
// propagated; the caller's operation already succeeded.
func (s *RoomService) TouchRoom(ctx context.Context, roomID uint) {
	if err := s.roomRepo.TouchLastActive(ctx, roomID, time.Now().UTC()); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to touch room last_active")
	}
}

func (s *RoomService) generateUniqueToken(ctx context.Context) (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const tokenLength = 8
	const maxAttempts = 10

	b := make([]byte, tokenLength)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = letters[int(b[i])%len(letters)]
		}
		token := string(b)

		taken, err := s.roomRepo.IsInviteTokenTaken(ctx, token)
		if err != nil {
			return "", fmt.Errorf("database error checking invite token: %w", err)
		}
		if !taken {
			return token, nil
		}
		logrus.Warnf("Generated invite token already exists, retrying (attempt %d)", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique invite token after %d attempts", maxAttempts)
}
