package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"harmonic-universe/internal/domain"
)

// GormActivityRepository is the GORM implementation of
// repository.ActivityRepository.
type GormActivityRepository struct {
	db *gorm.DB
}

func NewGormActivityRepository(db *gorm.DB) *GormActivityRepository {
	if db == nil {
		panic("database connection cannot be nil for GormActivityRepository")
	}
	return &GormActivityRepository{db: db}
}

func (r *GormActivityRepository) SaveBatch(ctx context.Context, entries []domain.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&entries).Error; err != nil {
		return fmt.Errorf("gorm: save activity batch (size %d): %w", len(entries), err)
	}
	return nil
}

func (r *GormActivityRepository) Tail(ctx context.Context, roomID uint, limit int) ([]domain.ActivityEntry, error) {
	var entries []domain.ActivityEntry
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: tail activity for room %d: %w", roomID, err)
	}
	return entries, nil
}
