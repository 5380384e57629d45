// Package repository declares the storage interfaces the services depend on.
// GORM and Redis implementations live under internal/infra.
package repository

import (
	"context"

	"harmonic-universe/internal/domain"
)

// UserRepository stores and retrieves registered accounts.
type UserRepository interface {
	// FindByUsername returns ErrUserNotFound when no such user exists.
	FindByUsername(ctx context.Context, username string) (*domain.User, error)

	// FindByID returns ErrUserNotFound when no such user exists.
	FindByID(ctx context.Context, id uint) (*domain.User, error)

	// Save creates the user, or updates it when ID is already set.
	Save(ctx context.Context, user *domain.User) error
}
