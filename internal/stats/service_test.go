package stats

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/providers"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

func newTestService(t *testing.T) (*service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	providerSvc, err := providers.NewService(providers.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(NewRepository(conn), providerSvc)
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return time.Date(2026, 9, 14, 6, 0, 0, 0, time.UTC) }
	return impl, conn
}

func seedDelivery(t *testing.T, conn *gorm.DB, providerID uuid.UUID, status enums.DeliveryStatus) models.Delivery {
	t.Helper()
	return dbtest.Delivery(t, conn, func(d *models.Delivery) {
		d.ProviderID = &providerID
		d.Status = status
	})
}

func TestRollupAggregatesSettlementTotals(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	provider := dbtest.Provider(t, conn)
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	periodEnd := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	delivered := seedDelivery(t, conn, provider.ID, enums.DeliveryStatusDelivered)
	seedDelivery(t, conn, provider.ID, enums.DeliveryStatusDelivered)
	seedDelivery(t, conn, provider.ID, enums.DeliveryStatusInTransit)
	seedDelivery(t, conn, provider.ID, enums.DeliveryStatusCancelled)
	dbtest.Commission(t, conn, delivered, provider.ID, decimal.RequireFromString("12.35"), periodEnd.Add(time.Hour))

	completed := dbtest.Payout(t, conn, provider.ID, periodEnd.Add(-14*24*time.Hour), periodEnd.Add(-7*24*time.Hour))
	require.NoError(t, conn.Model(&models.Payout{}).Where("id = ?", completed.ID).
		Updates(map[string]any{"status": enums.PayoutStatusCompleted, "amount": decimal.RequireFromString("30.10")}).Error)
	pending := dbtest.Payout(t, conn, provider.ID, periodEnd.Add(-7*24*time.Hour), periodEnd)
	require.NoError(t, conn.Model(&models.Payout{}).Where("id = ?", pending.ID).
		Update("amount", decimal.RequireFromString("20.00")).Error)

	row, err := svc.Rollup(ctx, provider.ID, admin)
	require.NoError(t, err)
	require.EqualValues(t, 4, row.TotalDeliveries)
	require.EqualValues(t, 2, row.StatusCounts[string(enums.DeliveryStatusDelivered)])
	require.EqualValues(t, 1, row.StatusCounts[string(enums.DeliveryStatusCancelled)])
	require.Equal(t, "30.10", row.LifetimeEarnings.StringFixed(2))
	require.Equal(t, "12.35", row.UnclaimedCommission.StringFixed(2))
	require.Equal(t, "20.00", row.PendingPayoutTotal.StringFixed(2))

	seedDelivery(t, conn, provider.ID, enums.DeliveryStatusPendingPickup)
	again, err := svc.Rollup(ctx, provider.ID, admin)
	require.NoError(t, err)
	require.EqualValues(t, 5, again.TotalDeliveries)

	var snapshots int64
	require.NoError(t, conn.Model(&models.ProviderStats{}).Count(&snapshots).Error)
	require.EqualValues(t, 1, snapshots)

	member := dbtest.Member(t, conn, provider.ID, enums.ProviderMemberRoleStaff)
	staff := auth.Actor{UserID: member.UserID, Role: enums.ActorRoleProviderStaff, ProviderID: &provider.ID}
	stored, err := svc.Get(ctx, provider.ID, staff)
	require.NoError(t, err)
	require.EqualValues(t, 5, stored.TotalDeliveries)
	require.Equal(t, "12.35", stored.UnclaimedCommission.StringFixed(2))

	require.NoError(t, conn.Model(&models.ProviderMember{}).Where("id = ?", member.ID).Update("active", false).Error)
	_, err = svc.Get(ctx, provider.ID, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRollupAccessRules(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	provider := dbtest.Provider(t, conn)
	other := uuid.New()
	staff := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleProviderStaff, ProviderID: &other}

	_, err := svc.Rollup(ctx, provider.ID, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = svc.Rollup(ctx, uuid.New(), auth.SystemActor())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Get(ctx, provider.ID, staff)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Get(ctx, provider.ID, auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestRollupAllCoversActiveProviders(t *testing.T) {
	svc, conn := newTestService(t)
	first := dbtest.Provider(t, conn)
	dbtest.Provider(t, conn)
	dbtest.Provider(t, conn, func(p *models.Provider) { p.Status = enums.ProviderStatusSuspended })
	seedDelivery(t, conn, first.ID, enums.DeliveryStatusDelivered)

	written, err := svc.RollupAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, written)

	row, err := svc.repo.Find(context.Background(), first.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.EqualValues(t, 1, row.TotalDeliveries)
	require.True(t, row.PendingPayoutTotal.IsZero())
}
