package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// DeliveryCreatedEvent is emitted when order intake creates a delivery and its escrow hold.
type DeliveryCreatedEvent struct {
	DeliveryID     uuid.UUID       `json:"delivery_id"`
	OrderID        uuid.UUID       `json:"order_id"`
	StoreID        uuid.UUID       `json:"store_id"`
	BuyerID        uuid.UUID       `json:"buyer_id"`
	TrackingNumber string          `json:"tracking_number"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	EscrowAmount   decimal.Decimal `json:"escrow_amount"`
}

// DeliveryStatusChangedEvent notifies buyers and stores of a lifecycle step.
type DeliveryStatusChangedEvent struct {
	DeliveryID uuid.UUID            `json:"delivery_id"`
	OrderID    uuid.UUID            `json:"order_id"`
	BuyerID    uuid.UUID            `json:"buyer_id"`
	StoreID    uuid.UUID            `json:"store_id"`
	FromStatus enums.DeliveryStatus `json:"from_status"`
	ToStatus   enums.DeliveryStatus `json:"to_status"`
	Forced     bool                 `json:"forced"`
	Reason     *string              `json:"reason,omitempty"`
	Version    int64                `json:"version"`
}

// DeliveryAssignedEvent covers provider and partner (re)assignment.
type DeliveryAssignedEvent struct {
	DeliveryID         uuid.UUID               `json:"delivery_id"`
	Kind               enums.DeliveryEventKind `json:"kind"`
	PreviousAssigneeID *uuid.UUID              `json:"previous_assignee_id,omitempty"`
	NewAssigneeID      uuid.UUID               `json:"new_assignee_id"`
}

// DeliveryDeliveredEvent opens the buyer confirmation window.
type DeliveryDeliveredEvent struct {
	DeliveryID    uuid.UUID `json:"delivery_id"`
	BuyerID       uuid.UUID `json:"buyer_id"`
	DeliveredAt   time.Time `json:"delivered_at"`
	AutoConfirmAt time.Time `json:"auto_confirm_at"`
}

// DeliveryConfirmedEvent is emitted once per delivery when escrow is released.
type DeliveryConfirmedEvent struct {
	DeliveryID  uuid.UUID            `json:"delivery_id"`
	BuyerID     uuid.UUID            `json:"buyer_id"`
	Trigger     enums.ReleaseTrigger `json:"trigger"`
	ConfirmedAt time.Time            `json:"confirmed_at"`
}

type EscrowReleasedEvent struct {
	EscrowHoldID uuid.UUID            `json:"escrow_hold_id"`
	DeliveryID   uuid.UUID            `json:"delivery_id"`
	OrderID      uuid.UUID            `json:"order_id"`
	Amount       decimal.Decimal      `json:"amount"`
	Trigger      enums.ReleaseTrigger `json:"trigger"`
	ReleasedAt   time.Time            `json:"released_at"`
}

type EscrowRefundedEvent struct {
	EscrowHoldID uuid.UUID       `json:"escrow_hold_id"`
	DeliveryID   uuid.UUID       `json:"delivery_id"`
	OrderID      uuid.UUID       `json:"order_id"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	RefundedAt   time.Time       `json:"refunded_at"`
}

type CommissionRecordedEvent struct {
	CommissionID uuid.UUID            `json:"commission_id"`
	DeliveryID   uuid.UUID            `json:"delivery_id"`
	ProviderID   uuid.UUID            `json:"provider_id"`
	PartnerID    *uuid.UUID           `json:"partner_id,omitempty"`
	PolicyType   enums.CommissionType `json:"policy_type"`
	Rate         decimal.Decimal      `json:"rate"`
	DeliveryFee  decimal.Decimal      `json:"delivery_fee"`
	Amount       decimal.Decimal      `json:"amount"`
	ComputedAt   time.Time            `json:"computed_at"`
}

type PayoutCreatedEvent struct {
	PayoutID      uuid.UUID       `json:"payout_id"`
	ProviderID    uuid.UUID       `json:"provider_id"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	DeliveryCount int             `json:"delivery_count"`
	Amount        decimal.Decimal `json:"amount"`
}

type PayoutStatusChangedEvent struct {
	PayoutID   uuid.UUID          `json:"payout_id"`
	ProviderID uuid.UUID          `json:"provider_id"`
	FromStatus enums.PayoutStatus `json:"from_status"`
	ToStatus   enums.PayoutStatus `json:"to_status"`
	Amount     decimal.Decimal    `json:"amount"`
	Reason     *string            `json:"reason,omitempty"`
}
