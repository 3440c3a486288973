package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// Provider inserts an active, verified provider paying 12% unless mutated.
func Provider(t *testing.T, conn *gorm.DB, mutate ...func(*models.Provider)) models.Provider {
	t.Helper()
	row := models.Provider{
		ID:             uuid.New(),
		Name:           "Provider " + uuid.NewString()[:8],
		Status:         enums.ProviderStatusActive,
		Verified:       true,
		CommissionType: enums.CommissionTypePercentage,
		CommissionRate: decimal.NewFromInt(12),
	}
	for _, fn := range mutate {
		fn(&row)
	}
	mustCreate(t, conn, &row)
	return row
}

// Member links a user to a provider.
func Member(t *testing.T, conn *gorm.DB, providerID uuid.UUID, role enums.ProviderMemberRole) models.ProviderMember {
	t.Helper()
	row := models.ProviderMember{
		ID:         uuid.New(),
		ProviderID: providerID,
		UserID:     uuid.New(),
		Role:       role,
		Active:     true,
	}
	mustCreate(t, conn, &row)
	return row
}

// Delivery inserts a pending delivery with a 100.00 fee unless mutated.
func Delivery(t *testing.T, conn *gorm.DB, mutate ...func(*models.Delivery)) models.Delivery {
	t.Helper()
	row := models.Delivery{
		ID:             uuid.New(),
		OrderID:        uuid.New(),
		StoreID:        uuid.New(),
		BuyerID:        uuid.New(),
		Status:         enums.DeliveryStatusPendingPickup,
		Version:        1,
		DeliveryFee:    decimal.NewFromInt(100),
		TrackingNumber: fmt.Sprintf("TRK-%s", uuid.NewString()[:8]),
		Items: []models.DeliveryItem{
			{ProductID: uuid.New(), Title: "Crate", Quantity: 1, UnitPrice: decimal.NewFromInt(400)},
		},
	}
	for _, fn := range mutate {
		fn(&row)
	}
	mustCreate(t, conn, &row)
	return row
}

// Hold inserts a HELD escrow hold for the delivery.
func Hold(t *testing.T, conn *gorm.DB, delivery models.Delivery, amount decimal.Decimal) models.EscrowHold {
	t.Helper()
	row := models.EscrowHold{
		ID:         uuid.New(),
		DeliveryID: delivery.ID,
		OrderID:    delivery.OrderID,
		Amount:     amount,
		Status:     enums.EscrowStatusHeld,
	}
	mustCreate(t, conn, &row)
	return row
}

// Commission inserts an unclaimed commission for the delivery.
func Commission(t *testing.T, conn *gorm.DB, delivery models.Delivery, providerID uuid.UUID, amount decimal.Decimal, computedAt time.Time) models.Commission {
	t.Helper()
	row := models.Commission{
		ID:          uuid.New(),
		DeliveryID:  delivery.ID,
		ProviderID:  providerID,
		PolicyType:  enums.CommissionTypeFixed,
		Rate:        amount,
		DeliveryFee: delivery.DeliveryFee,
		Amount:      amount,
		ComputedAt:  computedAt.UTC(),
	}
	mustCreate(t, conn, &row)
	return row
}

func mustCreate(t *testing.T, conn *gorm.DB, row any) {
	t.Helper()
	if err := conn.Create(row).Error; err != nil {
		t.Fatalf("seed %T: %v", row, err)
	}
}

// Payout inserts a PENDING payout shell for the provider and period.
func Payout(t *testing.T, conn *gorm.DB, providerID uuid.UUID, start, end time.Time) models.Payout {
	t.Helper()
	row := models.Payout{
		ID:          uuid.New(),
		ProviderID:  providerID,
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
		Amount:      decimal.Zero,
		Status:      enums.PayoutStatusPending,
	}
	mustCreate(t, conn, &row)
	return row
}
