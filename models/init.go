package models

import "gorm.io/gorm"

// Migrate creates or updates the engine's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Sequence{},
		&SequenceStep{},
		&Enrollment{},
		&SequenceEvent{},
		&Lead{},
		&Template{},
	)
}
