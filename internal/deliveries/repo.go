package deliveries

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

// Repository persists deliveries and their append-only history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, delivery *models.Delivery) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Delivery, error)
	FindByOrderStore(ctx context.Context, orderID, storeID uuid.UUID) (*models.Delivery, error)
	UpdateVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (int64, error)
	MarkConfirmed(ctx context.Context, id uuid.UUID, version int64, trigger enums.ReleaseTrigger, at time.Time) (int64, error)
	StampAutoConfirm(ctx context.Context, id uuid.UUID, version int64, deadline time.Time) error
	AppendEvent(ctx context.Context, event *models.DeliveryEvent) error
	ListEvents(ctx context.Context, deliveryID uuid.UUID) ([]models.DeliveryEvent, error)
	List(ctx context.Context, params ListQuery) ([]models.Delivery, error)
	ListAutoConfirmDue(ctx context.Context, now time.Time, after *pagination.Cursor, limit int) ([]models.Delivery, error)
}

// ListQuery narrows a delivery listing. Scope fields are applied by the
// service from the caller's role; filters come from the request.
type ListQuery struct {
	BuyerID    *uuid.UUID
	ProviderID *uuid.UUID
	PartnerID  *uuid.UUID
	OrderID    *uuid.UUID
	Status     *enums.DeliveryStatus
	Tracking   string
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

func (r *repository) Create(ctx context.Context, delivery *models.Delivery) error {
	if delivery.ID == uuid.Nil {
		delivery.ID = uuid.New()
	}
	if delivery.Version == 0 {
		delivery.Version = 1
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(delivery).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Delivery, error) {
	return first(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repository) FindByOrderStore(ctx context.Context, orderID, storeID uuid.UUID) (*models.Delivery, error) {
	return first(r.db.WithContext(ctx).Where("order_id = ? AND store_id = ?", orderID, storeID))
}

func first(q *gorm.DB) (*models.Delivery, error) {
	var delivery models.Delivery
	err := q.First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// UpdateVersioned applies updates only if the row still carries version and
// bumps it. Zero affected rows surfaces as a stale version error.
func (r *repository) UpdateVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (int64, error) {
	next := version + 1
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = next
	values["updated_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND version = ?", id, version).
		UpdateColumns(values)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeStaleVersion, "delivery was modified concurrently")
	}
	return next, nil
}

// MarkConfirmed flips buyer_confirmed exactly once. The guard on the flag
// makes the buyer and the timeout sweep race to a single winner.
func (r *repository) MarkConfirmed(ctx context.Context, id uuid.UUID, version int64, trigger enums.ReleaseTrigger, at time.Time) (int64, error) {
	next := version + 1
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND version = ? AND buyer_confirmed = ?", id, version, false).
		UpdateColumns(map[string]any{
			"buyer_confirmed":      true,
			"buyer_confirmed_at":   at,
			"confirmation_trigger": trigger,
			"version":              next,
			"updated_at":           at,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeStaleVersion, "delivery was modified concurrently")
	}
	return next, nil
}

// StampAutoConfirm sets the confirmation deadline on a row the caller has
// already versioned in the same transaction, so it leaves version alone.
func (r *repository) StampAutoConfirm(ctx context.Context, id uuid.UUID, version int64, deadline time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("id = ? AND version = ?", id, version).
		UpdateColumn("auto_confirm_at", deadline.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStaleVersion, "delivery was modified concurrently")
	}
	return nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.DeliveryEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, deliveryID uuid.UUID) ([]models.DeliveryEvent, error) {
	var events []models.DeliveryEvent
	err := r.db.WithContext(ctx).
		Where("delivery_id = ?", deliveryID).
		Order("sequence ASC").
		Find(&events).Error
	return events, err
}

// likeEscaper keeps user input literal inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Delivery, error) {
	query := r.db.WithContext(ctx).Model(&models.Delivery{})
	if params.BuyerID != nil {
		query = query.Where("buyer_id = ?", *params.BuyerID)
	}
	if params.ProviderID != nil {
		query = query.Where("provider_id = ?", *params.ProviderID)
	}
	if params.PartnerID != nil {
		query = query.Where("partner_id = ?", *params.PartnerID)
	}
	if params.OrderID != nil {
		query = query.Where("order_id = ?", *params.OrderID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if tracking := strings.TrimSpace(params.Tracking); tracking != "" {
		query = query.Where(`LOWER(tracking_number) LIKE ? ESCAPE '\'`, "%"+likeEscaper.Replace(strings.ToLower(tracking))+"%")
	}

	var rows []models.Delivery
	err := query.
		Scopes(pagination.Before(params.Cursor, "created_at")).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	return rows, err
}

// ListAutoConfirmDue returns delivered, unconfirmed, unsuspended deliveries
// whose deadline has passed, ordered by (auto_confirm_at, id) after the cursor.
func (r *repository) ListAutoConfirmDue(ctx context.Context, now time.Time, after *pagination.Cursor, limit int) ([]models.Delivery, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Delivery{}).
		Where("status = ?", enums.DeliveryStatusDelivered).
		Where("buyer_confirmed = ? AND timeout_suspended = ?", false, false).
		Where("auto_confirm_at IS NOT NULL AND auto_confirm_at <= ?", now.UTC())

	var rows []models.Delivery
	err := query.
		Scopes(pagination.After(after, "auto_confirm_at")).
		Order("auto_confirm_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
