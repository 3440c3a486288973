package stats

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Repository reads the settlement tables a rollup aggregates and stores the
// resulting snapshot.
type Repository interface {
	CountByStatus(ctx context.Context, providerID uuid.UUID) (map[string]int64, error)
	CompletedPayoutAmounts(ctx context.Context, providerID uuid.UUID) ([]decimal.Decimal, error)
	OpenPayoutAmounts(ctx context.Context, providerID uuid.UUID) ([]decimal.Decimal, error)
	UnclaimedCommissionAmounts(ctx context.Context, providerID uuid.UUID) ([]decimal.Decimal, error)
	Upsert(ctx context.Context, row *models.ProviderStats) error
	Find(ctx context.Context, providerID uuid.UUID) (*models.ProviderStats, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type statusCount struct {
	Status string
	Total  int64
}

func (r *repository) CountByStatus(ctx context.Context, providerID uuid.UUID) (map[string]int64, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Select("status, COUNT(*) AS total").
		Where("provider_id = ?", providerID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

// Amounts are plucked and summed by the caller so numeric precision does not
// depend on the driver's aggregate types.
func (r *repository) CompletedPayoutAmounts(ctx context.Context, providerID uuid.UUID) ([]decimal.Decimal, error) {
	return r.payoutAmounts(ctx, providerID, enums.PayoutStatusCompleted)
}

func (r *repository) OpenPayoutAmounts(ctx context.Context, providerID uuid.UUID) ([]decimal.Decimal, error) {
	return r.payoutAmounts(ctx, providerID, enums.PayoutStatusPending, enums.PayoutStatusProcessing)
}

func (r *repository) payoutAmounts(ctx context.Context, providerID uuid.UUID, statuses ...enums.PayoutStatus) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("provider_id = ? AND status IN ?", providerID, statuses).
		Pluck("amount", &amounts).Error
	return amounts, err
}

func (r *repository) UnclaimedCommissionAmounts(ctx context.Context, providerID uuid.UUID) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.Commission{}).
		Where("provider_id = ? AND payout_id IS NULL", providerID).
		Pluck("amount", &amounts).Error
	return amounts, err
}

func (r *repository) Upsert(ctx context.Context, row *models.ProviderStats) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_id"}},
			UpdateAll: true,
		}).
		Create(row).Error
}

func (r *repository) Find(ctx context.Context, providerID uuid.UUID) (*models.ProviderStats, error) {
	var row models.ProviderStats
	err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
