package escrow

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
)

// Repository owns escrow_holds. Status flips are conditional on the hold still
// being held so concurrent settlements cannot both succeed.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, hold *models.EscrowHold) error
	FindByDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.EscrowHold, error)
	FindByDeliveryForUpdate(ctx context.Context, deliveryID uuid.UUID) (*models.EscrowHold, error)
	MarkReleased(ctx context.Context, id uuid.UUID, trigger enums.ReleaseTrigger, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	StampPartnerCommission(ctx context.Context, deliveryID uuid.UUID, amount decimal.Decimal) (bool, error)
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

func (r *repository) Create(ctx context.Context, hold *models.EscrowHold) error {
	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(hold).Error
}

func (r *repository) FindByDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.EscrowHold, error) {
	return r.find(r.db.WithContext(ctx), deliveryID)
}

func (r *repository) FindByDeliveryForUpdate(ctx context.Context, deliveryID uuid.UUID) (*models.EscrowHold, error) {
	return r.find(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), deliveryID)
}

func (r *repository) find(q *gorm.DB, deliveryID uuid.UUID) (*models.EscrowHold, error) {
	var hold models.EscrowHold
	err := q.Where("delivery_id = ?", deliveryID).First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

func (r *repository) MarkReleased(ctx context.Context, id uuid.UUID, trigger enums.ReleaseTrigger, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusHeld).
		Updates(map[string]any{
			"status":          enums.EscrowStatusReleased,
			"release_trigger": trigger,
			"released_at":     at,
			"updated_at":      at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EscrowHold{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusHeld).
		Updates(map[string]any{
			"status":        enums.EscrowStatusRefunded,
			"refund_reason": reason,
			"refunded_at":   at,
			"updated_at":    at,
		})
	return res.RowsAffected == 1, res.Error
}

// StampPartnerCommission writes the computed commission onto the delivery.
// The column is write-once.
func (r *repository) StampPartnerCommission(ctx context.Context, deliveryID uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND partner_commission IS NULL", deliveryID).
		UpdateColumn("partner_commission", amount)
	return res.RowsAffected == 1, res.Error
}
