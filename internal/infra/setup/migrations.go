package setup

import (
	"fmt"

	"gorm.io/gorm"

	"harmonic-universe/internal/domain"
)

// MigrateDB brings the schema up to date for every persisted entity.
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	err := db.AutoMigrate(
		&domain.User{},
		&domain.Room{},
		&domain.ActivityEntry{},
		&domain.ParameterState{},
	)
	if err != nil {
		return fmt.Errorf("auto-migrate tables: %w", err)
	}
	return nil
}
