package commission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
)

// Repository owns the commissions table, including payout claims.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, row *models.Commission) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*models.Commission, error)
	ProvidersWithUnclaimed(ctx context.Context, before time.Time) ([]uuid.UUID, error)
	Claim(ctx context.Context, providerID uuid.UUID, before time.Time, payoutID uuid.UUID) ([]models.Commission, error)
	ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]models.Commission, error)
	Unclaim(ctx context.Context, payoutID uuid.UUID) (int64, error)
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

func (r *repository) Create(ctx context.Context, row *models.Commission) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var row models.Commission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*models.Commission, error) {
	var row models.Commission
	err := r.db.WithContext(ctx).Where("delivery_id = ?", deliveryID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) ProvidersWithUnclaimed(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("payout_id IS NULL AND computed_at < ?", before).
		Distinct("provider_id").
		Order("provider_id").
		Pluck("provider_id", &ids).Error
	return ids, err
}

// Claim attaches every unclaimed commission of the provider computed before
// the cutoff to payoutID and returns exactly the rows it claimed. The
// payout_id IS NULL predicate makes a claim exclusive even when two writers
// race past the advisory lock.
func (r *repository) Claim(ctx context.Context, providerID uuid.UUID, before time.Time, payoutID uuid.UUID) ([]models.Commission, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.Commission{}).
		Where("provider_id = ? AND payout_id IS NULL AND computed_at < ?", providerID, before).
		Update("payout_id", payoutID)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.ListByPayout(ctx, payoutID)
}

func (r *repository) ListByPayout(ctx context.Context, payoutID uuid.UUID) ([]models.Commission, error) {
	var rows []models.Commission
	err := r.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Order("computed_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) Unclaim(ctx context.Context, payoutID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("payout_id = ?", payoutID).
		Update("payout_id", nil)
	return res.RowsAffected, res.Error
}
