package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Payout batches a provider's claimed commissions for one period.
type Payout struct {
	ID               uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderID       uuid.UUID          `gorm:"column:provider_id;type:uuid;not null"`
	PeriodStart      time.Time          `gorm:"column:period_start;not null"`
	PeriodEnd        time.Time          `gorm:"column:period_end;not null"`
	DeliveryCount    int                `gorm:"column:delivery_count;not null;default:0"`
	Amount           decimal.Decimal    `gorm:"column:amount;type:numeric(14,2);not null"`
	Status           enums.PayoutStatus `gorm:"column:status;type:payout_status_enum;not null"`
	PaymentMethod    *string            `gorm:"column:payment_method"`
	PaymentReference *string            `gorm:"column:payment_reference"`
	FailureReason    *string            `gorm:"column:failure_reason"`
	CancelReason     *string            `gorm:"column:cancel_reason"`
	ProcessedAt      *time.Time         `gorm:"column:processed_at"`
	CompletedAt      *time.Time         `gorm:"column:completed_at"`
	FailedAt         *time.Time         `gorm:"column:failed_at"`
	CancelledAt      *time.Time         `gorm:"column:cancelled_at"`
	ClaimsReleasedAt *time.Time         `gorm:"column:claims_released_at"`
	CreatedAt        time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
