package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Delivery is one seller's shipment carved from a buyer order.
type Delivery struct {
	ID                   uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID              uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	StoreID              uuid.UUID             `gorm:"column:store_id;type:uuid;not null"`
	BuyerID              uuid.UUID             `gorm:"column:buyer_id;type:uuid;not null"`
	ProviderID           *uuid.UUID            `gorm:"column:provider_id;type:uuid"`
	PartnerID            *uuid.UUID            `gorm:"column:partner_id;type:uuid"`
	Status               enums.DeliveryStatus  `gorm:"column:status;type:delivery_status_enum;not null"`
	Version              int64                 `gorm:"column:version;not null;default:1"`
	DeliveryFee          decimal.Decimal       `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	PartnerCommission    decimal.NullDecimal   `gorm:"column:partner_commission;type:numeric(12,2)"`
	TrackingNumber       string                `gorm:"column:tracking_number;not null"`
	ExpectedDeliveryDate *time.Time            `gorm:"column:expected_delivery_date"`
	DeliveredAt          *time.Time            `gorm:"column:delivered_at"`
	BuyerConfirmed       bool                  `gorm:"column:buyer_confirmed;not null;default:false"`
	BuyerConfirmedAt     *time.Time            `gorm:"column:buyer_confirmed_at"`
	ConfirmationTrigger  *enums.ReleaseTrigger `gorm:"column:confirmation_trigger;type:release_trigger_enum"`
	ProofOfDeliveryRef   *string               `gorm:"column:proof_of_delivery_ref"`
	AutoConfirmAt        *time.Time            `gorm:"column:auto_confirm_at"`
	TimeoutSuspended     bool                  `gorm:"column:timeout_suspended;not null;default:false"`
	TimeoutSuspendedAt   *time.Time            `gorm:"column:timeout_suspended_at"`
	Items                []DeliveryItem        `gorm:"column:items;type:jsonb;serializer:json;not null"`
	CreatedAt            time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Events []DeliveryEvent `gorm:"foreignKey:DeliveryID;references:ID"`
}

// DeliveryItem is the snapshot of an order line carried by a delivery.
type DeliveryItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// DeliveryEvent is an append-only entry in a delivery's history.
type DeliveryEvent struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DeliveryID         uuid.UUID               `gorm:"column:delivery_id;type:uuid;not null"`
	Sequence           int64                   `gorm:"column:sequence;not null"`
	Kind               enums.DeliveryEventKind `gorm:"column:kind;type:delivery_event_kind_enum;not null"`
	FromStatus         *enums.DeliveryStatus   `gorm:"column:from_status;type:delivery_status_enum"`
	ToStatus           *enums.DeliveryStatus   `gorm:"column:to_status;type:delivery_status_enum"`
	ActorUserID        *uuid.UUID              `gorm:"column:actor_user_id;type:uuid"`
	ActorRole          enums.ActorRole         `gorm:"column:actor_role;not null"`
	Note               *string                 `gorm:"column:note"`
	Reason             *string                 `gorm:"column:reason"`
	PreviousAssigneeID *uuid.UUID              `gorm:"column:previous_assignee_id;type:uuid"`
	NewAssigneeID      *uuid.UUID              `gorm:"column:new_assignee_id;type:uuid"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
}
