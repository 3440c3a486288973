package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/ledger"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service persists commissions and their compensating adjustments.
type Service interface {
	RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.Commission, error)
	Adjust(ctx context.Context, input AdjustInput) (*models.LedgerEvent, error)
	GetByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*models.Commission, error)
}

// RecordInput carries the delivery snapshot a commission is computed from.
type RecordInput struct {
	DeliveryID  uuid.UUID
	ProviderID  uuid.UUID
	PartnerID   *uuid.UUID
	DeliveryFee decimal.Decimal
	Policy      Policy
	ComputedAt  time.Time
}

// AdjustInput corrects a recorded commission without mutating it.
type AdjustInput struct {
	CommissionID uuid.UUID
	Delta        decimal.Decimal
	Note         string
	Actor        auth.Actor
}

type service struct {
	repo   Repository
	tx     txRunner
	ledger ledger.Service
	outbox outboxPublisher
}

func NewService(repo Repository, tx txRunner, ledgerSvc ledger.Service, outbox outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, ledger: ledgerSvc, outbox: outbox}, nil
}

// RecordTx computes and inserts the commission for a delivery. The unique
// delivery_id index turns a second insert into a conflict, rolling back the
// surrounding release.
func (s *service) RecordTx(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.Commission, error) {
	if input.DeliveryID == uuid.Nil || input.ProviderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery and provider are required")
	}
	amount, err := Calculate(input.DeliveryFee, input.Policy)
	if err != nil {
		return nil, err
	}
	computedAt := input.ComputedAt
	if computedAt.IsZero() {
		computedAt = time.Now().UTC()
	}

	row := &models.Commission{
		ID:          uuid.New(),
		DeliveryID:  input.DeliveryID,
		ProviderID:  input.ProviderID,
		PartnerID:   input.PartnerID,
		PolicyType:  input.Policy.Type,
		Rate:        input.Policy.Rate,
		DeliveryFee: input.DeliveryFee,
		Amount:      amount,
		ComputedAt:  computedAt,
	}
	if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
		if db.IsUniqueViolation(err, "ux_commissions_delivery", "commissions.delivery_id") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "commission already recorded for delivery")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert commission")
	}

	providerID := row.ProviderID
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		Type:         enums.LedgerEventCommissionRecorded,
		DeliveryID:   &row.DeliveryID,
		ProviderID:   &providerID,
		CommissionID: &row.ID,
		Amount:       row.Amount,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record commission ledger event")
	}
	return row, nil
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.LedgerEvent, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may adjust commissions")
	}
	if input.CommissionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission id required")
	}
	if input.Delta.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment must be non-zero")
	}
	if input.Note == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment note required")
	}

	var event *models.LedgerEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		row, err := s.repo.WithTx(tx).FindByID(ctx, input.CommissionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
		}
		if row.Amount.Add(input.Delta).IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "adjustment would make the commission negative")
		}

		meta, err := json.Marshal(map[string]string{
			"original_amount": row.Amount.StringFixed(2),
			"delta":           input.Delta.StringFixed(2),
		})
		if err != nil {
			return err
		}
		note := input.Note
		event, err = s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			Type:         enums.LedgerEventCommissionAdjustment,
			DeliveryID:   &row.DeliveryID,
			ProviderID:   &row.ProviderID,
			CommissionID: &row.ID,
			PayoutID:     row.PayoutID,
			ActorUserID:  input.Actor.UserIDPtr(),
			Amount:       input.Delta,
			Note:         &note,
			Metadata:     meta,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record adjustment")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

func (s *service) GetByDeliveryID(ctx context.Context, deliveryID uuid.UUID) (*models.Commission, error) {
	row, err := s.repo.FindByDeliveryID(ctx, deliveryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load commission")
	}
	if row == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")
	}
	return row, nil
}
