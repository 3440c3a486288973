package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Filter narrows a ledger listing. Zero fields are ignored; at least one
// reference should be set or the whole ledger is returned.
type Filter struct {
	DeliveryID   *uuid.UUID
	PayoutID     *uuid.UUID
	CommissionID *uuid.UUID
	Types        []enums.LedgerEventType
}

// Repository is append-only: ledger rows are never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	List(ctx context.Context, filter Filter) ([]models.LedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// List returns matching events oldest first. id breaks ties between rows
// written in the same transaction.
func (r *repository) List(ctx context.Context, filter Filter) ([]models.LedgerEvent, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerEvent{})
	if filter.DeliveryID != nil {
		query = query.Where("delivery_id = ?", *filter.DeliveryID)
	}
	if filter.PayoutID != nil {
		query = query.Where("payout_id = ?", *filter.PayoutID)
	}
	if filter.CommissionID != nil {
		query = query.Where("commission_id = ?", *filter.CommissionID)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}

	var events []models.LedgerEvent
	if err := query.Order("created_at ASC, id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
