package gormpersistence

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"harmonic-universe/internal/domain"
)

// GormParameterRepository is the GORM implementation of
// repository.ParameterRepository. Checkpoints are keyed (room_id, field_path)
// and upserted, so each field keeps exactly one durable row.
type GormParameterRepository struct {
	db *gorm.DB
}

func NewGormParameterRepository(db *gorm.DB) *GormParameterRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParameterRepository")
	}
	return &GormParameterRepository{db: db}
}

func (r *GormParameterRepository) SaveCheckpoint(ctx context.Context, state domain.ParameterState) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "field_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "version", "last_writer", "updated_at"}),
		}).
		Create(&state).Error
	if err != nil {
		return fmt.Errorf("gorm: checkpoint parameter %s for room %d: %w", state.FieldPath, state.RoomID, err)
	}
	return nil
}

func (r *GormParameterRepository) LoadAll(ctx context.Context, roomID uint) ([]domain.ParameterState, error) {
	var states []domain.ParameterState
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&states).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: load parameters for room %d: %w", roomID, err)
	}
	return states, nil
}

func (r *GormParameterRepository) DeleteRoom(ctx context.Context, roomID uint) error {
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&domain.ParameterState{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete parameters for room %d: %w", roomID, err)
	}
	return nil
}
