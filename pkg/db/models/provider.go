package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Provider is a delivery company mirrored from user management, with its commission policy.
type Provider struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Name           string               `gorm:"column:name;not null"`
	Status         enums.ProviderStatus `gorm:"column:status;not null"`
	Verified       bool                 `gorm:"column:verified;not null;default:false"`
	CommissionType enums.CommissionType `gorm:"column:commission_type;type:commission_type_enum;not null"`
	CommissionRate decimal.Decimal      `gorm:"column:commission_rate;type:numeric(12,4);not null"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// ProviderMember links a platform user to a provider as partner or staff.
type ProviderMember struct {
	ID         uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProviderID uuid.UUID                `gorm:"column:provider_id;type:uuid;not null"`
	UserID     uuid.UUID                `gorm:"column:user_id;type:uuid;not null"`
	Role       enums.ProviderMemberRole `gorm:"column:role;not null"`
	Active     bool                     `gorm:"column:active;not null"`
	CreatedAt  time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

// ProviderStats is the latest rollup snapshot for a provider.
type ProviderStats struct {
	ProviderID          uuid.UUID        `gorm:"column:provider_id;type:uuid;primaryKey"`
	StatusCounts        map[string]int64 `gorm:"column:status_counts;type:jsonb;serializer:json;not null"`
	TotalDeliveries     int64            `gorm:"column:total_deliveries;not null"`
	LifetimeEarnings    decimal.Decimal  `gorm:"column:lifetime_earnings;type:numeric(14,2);not null"`
	UnclaimedCommission decimal.Decimal  `gorm:"column:unclaimed_commission;type:numeric(14,2);not null"`
	PendingPayoutTotal  decimal.Decimal  `gorm:"column:pending_payout_total;type:numeric(14,2);not null"`
	ComputedAt          time.Time        `gorm:"column:computed_at;not null"`
}

func (ProviderStats) TableName() string { return "provider_stats" }
