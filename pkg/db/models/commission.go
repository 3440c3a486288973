package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Commission is the immutable partner earning computed when escrow is released.
type Commission struct {
	ID          uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DeliveryID  uuid.UUID            `gorm:"column:delivery_id;type:uuid;not null;uniqueIndex"`
	ProviderID  uuid.UUID            `gorm:"column:provider_id;type:uuid;not null"`
	PartnerID   *uuid.UUID           `gorm:"column:partner_id;type:uuid"`
	PolicyType  enums.CommissionType `gorm:"column:policy_type;type:commission_type_enum;not null"`
	Rate        decimal.Decimal      `gorm:"column:rate;type:numeric(12,4);not null"`
	DeliveryFee decimal.Decimal      `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	Amount      decimal.Decimal      `gorm:"column:amount;type:numeric(12,2);not null"`
	ComputedAt  time.Time            `gorm:"column:computed_at;not null"`
	PayoutID    *uuid.UUID           `gorm:"column:payout_id;type:uuid"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
}
