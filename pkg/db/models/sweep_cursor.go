package models

import (
	"time"

	"github.com/google/uuid"
)

// SweepCursor persists the resume point of a paged background sweep.
type SweepCursor struct {
	Name      string     `gorm:"column:name;primaryKey"`
	CursorAt  *time.Time `gorm:"column:cursor_at"`
	CursorID  *uuid.UUID `gorm:"column:cursor_id;type:uuid"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
