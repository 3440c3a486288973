package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// LedgerEvent records an immutable settlement money event.
type LedgerEvent struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Type         enums.LedgerEventType `gorm:"column:type;type:ledger_event_type_enum;not null"`
	DeliveryID   *uuid.UUID            `gorm:"column:delivery_id;type:uuid"`
	ProviderID   *uuid.UUID            `gorm:"column:provider_id;type:uuid"`
	CommissionID *uuid.UUID            `gorm:"column:commission_id;type:uuid"`
	PayoutID     *uuid.UUID            `gorm:"column:payout_id;type:uuid"`
	ActorUserID  *uuid.UUID            `gorm:"column:actor_user_id;type:uuid"`
	Amount       decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	Note         *string               `gorm:"column:note"`
	Metadata     json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
}
