package confirmation

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

// CursorRepository persists the resume point of paged sweeps.
type CursorRepository interface {
	Load(ctx context.Context, name string) (*pagination.Cursor, error)
	Save(ctx context.Context, name string, cursor *pagination.Cursor) error
}

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepository(db *gorm.DB) CursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Load(ctx context.Context, name string) (*pagination.Cursor, error) {
	var row models.SweepCursor
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if row.CursorAt == nil || row.CursorID == nil {
		return nil, nil
	}
	return &pagination.Cursor{CreatedAt: *row.CursorAt, ID: *row.CursorID}, nil
}

// Save stores cursor under name; a nil cursor resets the sweep to the start.
func (r *cursorRepository) Save(ctx context.Context, name string, cursor *pagination.Cursor) error {
	row := models.SweepCursor{Name: name, UpdatedAt: time.Now().UTC()}
	if cursor != nil {
		at := cursor.CreatedAt.UTC()
		id := cursor.ID
		row.CursorAt = &at
		row.CursorID = &id
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"cursor_at", "cursor_id", "updated_at"}),
		}).
		Create(&row).Error
}
