package escrow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/internal/ledger"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type policySource interface {
	PolicySnapshot(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) (commission.Policy, error)
}

// Service moves held buyer funds. Every method runs inside the caller's
// transaction so a failure anywhere rolls the whole settlement back.
type Service interface {
	HoldTx(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.EscrowHold, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, input ReleaseInput) (*ReleaseResult, error)
	RefundTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*RefundResult, error)
	GetByDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.EscrowHold, error)
	GetByDeliveryTx(ctx context.Context, tx *gorm.DB, deliveryID uuid.UUID) (*models.EscrowHold, error)
}

type HoldInput struct {
	Delivery *models.Delivery
	Amount   decimal.Decimal
	Actor    auth.Actor
}

type ReleaseInput struct {
	Delivery *models.Delivery
	Trigger  enums.ReleaseTrigger
	Actor    auth.Actor
	At       time.Time
}

// ReleaseResult reports whether this call performed the release. Released is
// false when another caller already settled the hold.
type ReleaseResult struct {
	Released   bool
	Hold       *models.EscrowHold
	Commission *models.Commission
}

type RefundInput struct {
	Delivery *models.Delivery
	Reason   string
	Actor    auth.Actor
	At       time.Time
}

type RefundResult struct {
	Refunded bool
	Hold     *models.EscrowHold
}

type service struct {
	repo       Repository
	commission commission.Service
	policies   policySource
	ledger     ledger.Service
	outbox     outboxPublisher
	metrics    *metrics.SettlementMetrics
}

func NewService(
	repo Repository,
	commissionSvc commission.Service,
	policies policySource,
	ledgerSvc ledger.Service,
	outbox outboxPublisher,
	m *metrics.SettlementMetrics,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if commissionSvc == nil {
		return nil, fmt.Errorf("commission service required")
	}
	if policies == nil {
		return nil, fmt.Errorf("policy source required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:       repo,
		commission: commissionSvc,
		policies:   policies,
		ledger:     ledgerSvc,
		outbox:     outbox,
		metrics:    m,
	}, nil
}

func (s *service) HoldTx(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.EscrowHold, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if input.Delivery == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery required")
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "escrow amount must not be negative")
	}

	hold := &models.EscrowHold{
		ID:         uuid.New(),
		DeliveryID: input.Delivery.ID,
		OrderID:    input.Delivery.OrderID,
		Amount:     input.Amount.Round(2),
		Status:     enums.EscrowStatusHeld,
	}
	if err := s.repo.WithTx(tx).Create(ctx, hold); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert escrow hold")
	}
	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		Type:        enums.LedgerEventEscrowHeld,
		DeliveryID:  &hold.DeliveryID,
		ActorUserID: input.Actor.UserIDPtr(),
		Amount:      hold.Amount,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow hold")
	}
	return hold, nil
}

// ReleaseTx flips the hold to released, records the partner commission and
// stamps it on the delivery. A hold that is already released yields a no-op
// result; a refunded hold is a state conflict.
func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, input ReleaseInput) (*ReleaseResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	delivery := input.Delivery
	if delivery == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery required")
	}
	if !input.Trigger.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid release trigger")
	}
	if delivery.Status != enums.DeliveryStatusDelivered {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow is released only for delivered shipments")
	}
	if delivery.ProviderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "delivery has no provider to credit")
	}
	at := input.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	repo := s.repo.WithTx(tx)
	hold, err := repo.FindByDeliveryForUpdate(ctx, delivery.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow hold")
	}
	if hold == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow hold not found")
	}
	switch hold.Status {
	case enums.EscrowStatusReleased:
		s.metrics.IncReleaseNoop(input.Trigger.String())
		return &ReleaseResult{Hold: hold}, nil
	case enums.EscrowStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow hold already refunded")
	}

	flipped, err := repo.MarkReleased(ctx, hold.ID, input.Trigger, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release escrow hold")
	}
	if !flipped {
		s.metrics.IncReleaseNoop(input.Trigger.String())
		return &ReleaseResult{Hold: hold}, nil
	}
	trigger := input.Trigger
	hold.Status = enums.EscrowStatusReleased
	hold.ReleaseTrigger = &trigger
	hold.ReleasedAt = &at

	policy, err := s.policies.PolicySnapshot(ctx, tx, *delivery.ProviderID)
	if err != nil {
		return nil, err
	}
	row, err := s.commission.RecordTx(ctx, tx, commission.RecordInput{
		DeliveryID:  delivery.ID,
		ProviderID:  *delivery.ProviderID,
		PartnerID:   delivery.PartnerID,
		DeliveryFee: delivery.DeliveryFee,
		Policy:      policy,
		ComputedAt:  at,
	})
	if err != nil {
		return nil, err
	}
	stamped, err := repo.StampPartnerCommission(ctx, delivery.ID, row.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp partner commission")
	}
	if !stamped {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "partner commission already stamped")
	}
	delivery.PartnerCommission = decimal.NewNullDecimal(row.Amount)

	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		Type:        enums.LedgerEventEscrowReleased,
		DeliveryID:  &delivery.ID,
		ProviderID:  delivery.ProviderID,
		ActorUserID: input.Actor.UserIDPtr(),
		Amount:      hold.Amount,
		Note:        ptr(trigger.String()),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow release")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEscrowReleased,
		AggregateType: enums.AggregateEscrowHold,
		AggregateID:   hold.ID,
		Actor:         input.Actor.Ref(),
		OccurredAt:    at,
		Data: payloads.EscrowReleasedEvent{
			EscrowHoldID: hold.ID,
			DeliveryID:   delivery.ID,
			OrderID:      hold.OrderID,
			Amount:       hold.Amount,
			Trigger:      trigger,
			ReleasedAt:   at,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit escrow released")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionRecorded,
		AggregateType: enums.AggregateCommission,
		AggregateID:   row.ID,
		Actor:         input.Actor.Ref(),
		OccurredAt:    at,
		Data: payloads.CommissionRecordedEvent{
			CommissionID: row.ID,
			DeliveryID:   row.DeliveryID,
			ProviderID:   row.ProviderID,
			PartnerID:    row.PartnerID,
			PolicyType:   row.PolicyType,
			Rate:         row.Rate,
			DeliveryFee:  row.DeliveryFee,
			Amount:       row.Amount,
			ComputedAt:   row.ComputedAt,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit commission recorded")
	}

	s.metrics.IncRelease(trigger.String())
	return &ReleaseResult{Released: true, Hold: hold, Commission: row}, nil
}

// RefundTx returns held funds to the buyer. Refunding an already refunded hold
// is a no-op; refunding a released hold is a state conflict.
func (s *service) RefundTx(ctx context.Context, tx *gorm.DB, input RefundInput) (*RefundResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	delivery := input.Delivery
	if delivery == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason required")
	}
	at := input.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	repo := s.repo.WithTx(tx)
	hold, err := repo.FindByDeliveryForUpdate(ctx, delivery.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow hold")
	}
	if hold == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow hold not found")
	}
	switch hold.Status {
	case enums.EscrowStatusRefunded:
		return &RefundResult{Hold: hold}, nil
	case enums.EscrowStatusReleased:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "escrow hold already released")
	}

	flipped, err := repo.MarkRefunded(ctx, hold.ID, reason, at)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund escrow hold")
	}
	if !flipped {
		return &RefundResult{Hold: hold}, nil
	}
	hold.Status = enums.EscrowStatusRefunded
	hold.RefundReason = &reason
	hold.RefundedAt = &at

	if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
		Type:        enums.LedgerEventEscrowRefunded,
		DeliveryID:  &delivery.ID,
		ProviderID:  delivery.ProviderID,
		ActorUserID: input.Actor.UserIDPtr(),
		Amount:      hold.Amount,
		Note:        &reason,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record escrow refund")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventEscrowRefunded,
		AggregateType: enums.AggregateEscrowHold,
		AggregateID:   hold.ID,
		Actor:         input.Actor.Ref(),
		OccurredAt:    at,
		Data: payloads.EscrowRefundedEvent{
			EscrowHoldID: hold.ID,
			DeliveryID:   delivery.ID,
			OrderID:      hold.OrderID,
			Amount:       hold.Amount,
			Reason:       reason,
			RefundedAt:   at,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit escrow refunded")
	}

	s.metrics.IncRefund()
	return &RefundResult{Refunded: true, Hold: hold}, nil
}

func (s *service) GetByDelivery(ctx context.Context, deliveryID uuid.UUID) (*models.EscrowHold, error) {
	return s.GetByDeliveryTx(ctx, nil, deliveryID)
}

// GetByDeliveryTx reads the hold inside tx; a nil tx uses the pool.
func (s *service) GetByDeliveryTx(ctx context.Context, tx *gorm.DB, deliveryID uuid.UUID) (*models.EscrowHold, error) {
	hold, err := s.repo.WithTx(tx).FindByDelivery(ctx, deliveryID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow hold")
	}
	if hold == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "escrow hold not found")
	}
	return hold, nil
}

func ptr[T any](v T) *T { return &v }
