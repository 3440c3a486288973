package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

// Repository persists payout batches. Status changes are conditional on the
// expected source states.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.Payout) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	UpdateTotals(ctx context.Context, id uuid.UUID, amount decimal.Decimal, count int) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.PayoutStatus, updates map[string]any) (bool, error)
	MarkClaimsReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	List(ctx context.Context, params ListQuery) ([]models.Payout, error)
}

type ListQuery struct {
	ProviderID *uuid.UUID
	Status     *enums.PayoutStatus
	Cursor     *pagination.Cursor
	Limit      int
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

func (r *repository) Create(ctx context.Context, payout *models.Payout) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return firstPayout(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return firstPayout(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func firstPayout(q *gorm.DB) (*models.Payout, error) {
	var payout models.Payout
	err := q.First(&payout).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) UpdateTotals(ctx context.Context, id uuid.UUID, amount decimal.Decimal, count int) error {
	return r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"amount":         amount,
			"delivery_count": count,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from []enums.PayoutStatus, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND status IN ?", id, from).
		UpdateColumns(values)
	return res.RowsAffected == 1, res.Error
}

// MarkClaimsReleased stamps claims_released_at once on a cancelled or failed payout.
func (r *repository) MarkClaimsReleased(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ? AND claims_released_at IS NULL AND status IN ?", id,
			[]enums.PayoutStatus{enums.PayoutStatusCancelled, enums.PayoutStatusFailed}).
		UpdateColumns(map[string]any{
			"claims_released_at": at,
			"updated_at":         at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).Model(&models.Payout{})
	if params.ProviderID != nil {
		query = query.Where("provider_id = ?", *params.ProviderID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	var rows []models.Payout
	err := query.
		Scopes(pagination.Before(params.Cursor, "created_at")).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	return rows, err
}
