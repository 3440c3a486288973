package orderintake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/deliveries"
	"github.com/angelmondragon/settlement-engine/internal/escrow"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type escrowHolder interface {
	HoldTx(ctx context.Context, tx *gorm.DB, input escrow.HoldInput) (*models.EscrowHold, error)
}

// OrderPlaced is one store's slice of a buyer order as published by checkout.
type OrderPlaced struct {
	OrderID              uuid.UUID       `json:"order_id" validate:"required"`
	BuyerID              uuid.UUID       `json:"buyer_id" validate:"required"`
	StoreID              uuid.UUID       `json:"store_id" validate:"required"`
	Items                []OrderItem     `json:"items" validate:"required,min=1,dive"`
	TotalFee             decimal.Decimal `json:"total_fee"`
	DeliveryFee          decimal.Decimal `json:"delivery_fee"`
	TrackingNumber       string          `json:"tracking_number,omitempty" validate:"max=64"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date,omitempty"`
}

type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id" validate:"required"`
	Title     string          `json:"title" validate:"required"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Result reports the delivery backing an order. Created is false when the
// order was already taken in.
type Result struct {
	Delivery *models.Delivery
	Hold     *models.EscrowHold
	Created  bool
}

// Service turns placed orders into deliveries with their escrow hold.
type Service interface {
	Intake(ctx context.Context, order OrderPlaced) (*Result, error)
}

type service struct {
	repo   deliveries.Repository
	tx     txRunner
	escrow escrowHolder
	outbox outboxPublisher
}

func NewService(repo deliveries.Repository, tx txRunner, escrowSvc escrowHolder, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("delivery repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if escrowSvc == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, escrow: escrowSvc, outbox: outbox}, nil
}

// Intake is idempotent on (order, store): a replayed order returns the
// existing delivery without a second hold.
func (s *service) Intake(ctx context.Context, order OrderPlaced) (*Result, error) {
	if err := validateOrder(order); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByOrderStore(ctx, order.OrderID, order.StoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup delivery")
	}
	if existing != nil {
		return &Result{Delivery: existing}, nil
	}

	result := &Result{Created: true}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		delivery := newDelivery(order)
		if err := repo.Create(ctx, delivery); err != nil {
			if db.IsUniqueViolation(err, "ux_deliveries_order_store", "deliveries.order_id") {
				return pkgerrors.New(pkgerrors.CodeConflict, "delivery already exists for order and store")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert delivery")
		}

		to := enums.DeliveryStatusPendingPickup
		if err := repo.AppendEvent(ctx, &models.DeliveryEvent{
			ID:         uuid.New(),
			DeliveryID: delivery.ID,
			Sequence:   delivery.Version,
			Kind:       enums.DeliveryEventStatusTransition,
			ToStatus:   &to,
			ActorRole:  enums.ActorRoleSystem,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append creation event")
		}

		hold, err := s.escrow.HoldTx(ctx, tx, escrow.HoldInput{
			Delivery: delivery,
			Amount:   order.TotalFee,
			Actor:    auth.SystemActor(),
		})
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeliveryCreated,
			AggregateType: enums.AggregateDelivery,
			AggregateID:   delivery.ID,
			Actor:         auth.SystemActor().Ref(),
			Data: payloads.DeliveryCreatedEvent{
				DeliveryID:     delivery.ID,
				OrderID:        delivery.OrderID,
				StoreID:        delivery.StoreID,
				BuyerID:        delivery.BuyerID,
				TrackingNumber: delivery.TrackingNumber,
				DeliveryFee:    delivery.DeliveryFee,
				EscrowAmount:   hold.Amount,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery created")
		}
		result.Delivery = delivery
		result.Hold = hold
		return nil
	})
	if pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		existing, findErr := s.repo.FindByOrderStore(ctx, order.OrderID, order.StoreID)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "reload delivery")
		}
		if existing != nil {
			return &Result{Delivery: existing}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateOrder(order OrderPlaced) error {
	if err := validate.Struct(order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order placement")
	}
	if order.DeliveryFee.IsNegative() || order.TotalFee.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "fees must not be negative")
	}
	if order.DeliveryFee.GreaterThan(order.TotalFee) {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery fee exceeds order total")
	}
	return nil
}

func newDelivery(order OrderPlaced) *models.Delivery {
	items := make([]models.DeliveryItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.DeliveryItem{
			ProductID: item.ProductID,
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	tracking := strings.TrimSpace(order.TrackingNumber)
	if tracking == "" {
		tracking = "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	}
	var expected *time.Time
	if order.ExpectedDeliveryDate != nil {
		at := order.ExpectedDeliveryDate.UTC()
		expected = &at
	}
	return &models.Delivery{
		OrderID:              order.OrderID,
		StoreID:              order.StoreID,
		BuyerID:              order.BuyerID,
		Status:               enums.DeliveryStatusPendingPickup,
		DeliveryFee:          order.DeliveryFee.Round(2),
		TrackingNumber:       tracking,
		ExpectedDeliveryDate: expected,
		Items:                items,
	}
}
