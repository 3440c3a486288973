package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// EscrowHold is the buyer payment portion held against a single delivery.
type EscrowHold struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DeliveryID     uuid.UUID             `gorm:"column:delivery_id;type:uuid;not null;uniqueIndex"`
	OrderID        uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Status         enums.EscrowStatus    `gorm:"column:status;type:escrow_status_enum;not null"`
	ReleaseTrigger *enums.ReleaseTrigger `gorm:"column:release_trigger;type:release_trigger_enum"`
	ReleasedAt     *time.Time            `gorm:"column:released_at"`
	RefundedAt     *time.Time            `gorm:"column:refunded_at"`
	RefundReason   *string               `gorm:"column:refund_reason"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
