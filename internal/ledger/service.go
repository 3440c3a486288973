package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// Service records immutable settlement money events. Events are written in
// the caller's transaction so a rolled back release leaves no trace.
type Service interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error)
	ListByDeliveryID(ctx context.Context, deliveryID uuid.UUID) ([]models.LedgerEvent, error)
	ListByPayoutID(ctx context.Context, payoutID uuid.UUID) ([]models.LedgerEvent, error)
}

type service struct {
	repo Repository
}

// RecordLedgerEventInput captures the immutable data a ledger event requires.
type RecordLedgerEventInput struct {
	Type         enums.LedgerEventType `json:"type"`
	DeliveryID   *uuid.UUID            `json:"delivery_id,omitempty"`
	ProviderID   *uuid.UUID            `json:"provider_id,omitempty"`
	CommissionID *uuid.UUID            `json:"commission_id,omitempty"`
	PayoutID     *uuid.UUID            `json:"payout_id,omitempty"`
	ActorUserID  *uuid.UUID            `json:"actor_user_id,omitempty"`
	Amount       decimal.Decimal       `json:"amount"`
	Note         *string               `json:"note,omitempty"`
	Metadata     json.RawMessage       `json:"metadata,omitempty"`
}

var errTransactionRequired = errors.New("ledger events must be written inside a transaction")

func (in RecordLedgerEventInput) validate() error {
	switch {
	case !in.Type.IsValid():
		return pkgerrors.Newf(pkgerrors.CodeValidation, "invalid ledger event type %q", in.Type)
	case in.DeliveryID == nil && in.PayoutID == nil && in.CommissionID == nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "ledger event needs a delivery, commission or payout reference")
	case in.Amount.IsNegative() && in.Type != enums.LedgerEventCommissionAdjustment:
		return pkgerrors.Newf(pkgerrors.CodeValidation, "%s amount may not be negative", in.Type)
	}
	return nil
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, errors.New("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) RecordEvent(ctx context.Context, tx *gorm.DB, input RecordLedgerEventInput) (*models.LedgerEvent, error) {
	if tx == nil {
		return nil, errTransactionRequired
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	event := &models.LedgerEvent{
		Type:         input.Type,
		DeliveryID:   input.DeliveryID,
		ProviderID:   input.ProviderID,
		CommissionID: input.CommissionID,
		PayoutID:     input.PayoutID,
		ActorUserID:  input.ActorUserID,
		Amount:       input.Amount,
		Note:         input.Note,
		Metadata:     input.Metadata,
	}

	if err := s.repo.WithTx(tx).Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ListByDeliveryID is the settlement trail of one delivery: hold, release or
// refund, and any commission rows written alongside.
func (s *service) ListByDeliveryID(ctx context.Context, deliveryID uuid.UUID) ([]models.LedgerEvent, error) {
	if deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id is required")
	}
	return s.repo.List(ctx, Filter{DeliveryID: &deliveryID})
}

func (s *service) ListByPayoutID(ctx context.Context, payoutID uuid.UUID) ([]models.LedgerEvent, error) {
	if payoutID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout id is required")
	}
	return s.repo.List(ctx, Filter{PayoutID: &payoutID})
}
