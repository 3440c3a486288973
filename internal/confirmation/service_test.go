package confirmation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/internal/deliveries"
	"github.com/angelmondragon/settlement-engine/internal/escrow"
	"github.com/angelmondragon/settlement-engine/internal/ledger"
	"github.com/angelmondragon/settlement-engine/internal/providers"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db"
	"github.com/angelmondragon/settlement-engine/pkg/db/dbtest"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

const grace = 5 * 24 * time.Hour

type harness struct {
	conn       *gorm.DB
	svc        *service
	deliveries deliveries.Service
	provider   models.Provider
	clock      time.Time
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	runner := db.NewFromConn(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	commissionSvc, err := commission.NewService(commission.NewRepository(conn), runner, ledgerSvc, publisher)
	require.NoError(t, err)
	providerSvc, err := providers.NewService(providers.NewRepository(conn))
	require.NoError(t, err)
	escrowSvc, err := escrow.NewService(escrow.NewRepository(conn), commissionSvc, providerSvc, ledgerSvc, publisher, nil)
	require.NoError(t, err)

	retryPolicy := deliveries.RetryPolicy{MaxRetries: 5, Backoff: time.Millisecond}
	repo := deliveries.NewRepository(conn)
	confirmSvc, err := NewService(repo, NewCursorRepository(conn), runner, escrowSvc, publisher, Config{
		GraceWindow: grace,
		BatchSize:   batchSize,
		Retry:       retryPolicy,
	}, nil)
	require.NoError(t, err)
	deliverySvc, err := deliveries.NewService(repo, runner, providerSvc, escrowSvc, confirmSvc, publisher, retryPolicy)
	require.NoError(t, err)

	h := &harness{
		conn:       conn,
		svc:        confirmSvc.(*service),
		deliveries: deliverySvc,
		provider:   dbtest.Provider(t, conn),
		clock:      time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
	}
	h.svc.now = func() time.Time { return h.clock }
	return h
}

// delivered seeds a DELIVERED delivery whose window opened at deliveredAt.
func (h *harness) delivered(t *testing.T, deliveredAt time.Time) models.Delivery {
	t.Helper()
	providerID := h.provider.ID
	deadline := deliveredAt.Add(grace)
	delivery := dbtest.Delivery(t, h.conn, func(d *models.Delivery) {
		d.ProviderID = &providerID
		d.Status = enums.DeliveryStatusDelivered
		d.DeliveredAt = &deliveredAt
		d.AutoConfirmAt = &deadline
	})
	dbtest.Hold(t, h.conn, delivery, decimal.RequireFromString("250.00"))
	return delivery
}

func buyerOf(d models.Delivery) auth.Actor {
	return auth.Actor{UserID: d.BuyerID, Role: enums.ActorRoleBuyer}
}

func adminActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
}

func (h *harness) reload(t *testing.T, id uuid.UUID) (models.Delivery, models.EscrowHold) {
	t.Helper()
	var d models.Delivery
	require.NoError(t, h.conn.First(&d, "id = ?", id).Error)
	var hold models.EscrowHold
	require.NoError(t, h.conn.First(&hold, "delivery_id = ?", id).Error)
	return d, hold
}

func (h *harness) count(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func TestDeliveredTransitionStampsDeadline(t *testing.T) {
	h := newHarness(t, 10)
	providerID := h.provider.ID
	delivery := dbtest.Delivery(t, h.conn, func(d *models.Delivery) {
		d.ProviderID = &providerID
		d.Status = enums.DeliveryStatusOutForDelivery
	})
	dbtest.Hold(t, h.conn, delivery, decimal.RequireFromString("250.00"))

	got, err := h.deliveries.Transition(context.Background(), deliveries.TransitionInput{
		DeliveryID: delivery.ID,
		ToStatus:   enums.DeliveryStatusDelivered,
		Actor:      adminActor(),
	})
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)
	require.NotNil(t, got.AutoConfirmAt)
	require.WithinDuration(t, got.DeliveredAt.Add(grace), *got.AutoConfirmAt, time.Second)

	stored, _ := h.reload(t, delivery.ID)
	require.NotNil(t, stored.AutoConfirmAt)
	require.EqualValues(t, 2, stored.Version)
	require.EqualValues(t, 1, h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventDeliveryDelivered))
}

func TestBuyerConfirmationReleasesOnce(t *testing.T) {
	h := newHarness(t, 10)
	delivery := h.delivered(t, h.clock.Add(-time.Hour))
	ctx := context.Background()

	stranger := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}
	_, err := h.svc.ConfirmByBuyer(ctx, delivery.ID, stranger)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	res, err := h.svc.ConfirmByBuyer(ctx, delivery.ID, buyerOf(delivery))
	require.NoError(t, err)
	require.False(t, res.AlreadyConfirmed)
	require.True(t, res.Delivery.BuyerConfirmed)

	again, err := h.svc.ConfirmByBuyer(ctx, delivery.ID, buyerOf(delivery))
	require.NoError(t, err)
	require.True(t, again.AlreadyConfirmed)

	stored, hold := h.reload(t, delivery.ID)
	require.True(t, stored.BuyerConfirmed)
	require.NotNil(t, stored.BuyerConfirmedAt)
	require.Equal(t, enums.ReleaseTriggerBuyerConfirmed, *stored.ConfirmationTrigger)
	require.Equal(t, "12.00", stored.PartnerCommission.Decimal.StringFixed(2))
	require.Equal(t, enums.EscrowStatusReleased, hold.Status)
	require.EqualValues(t, 1, h.count(t, &models.Commission{}, "delivery_id = ?", delivery.ID))
}

func TestTimeoutReleasesAndLaterBuyerConfirmationIsNoop(t *testing.T) {
	h := newHarness(t, 10)
	deliveredAt := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	delivery := h.delivered(t, deliveredAt)
	ctx := context.Background()

	early, err := h.svc.RunAutoConfirm(ctx, deliveredAt.Add(4*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, early.Scanned)

	h.clock = deliveredAt.Add(5 * 24 * time.Hour)
	res, err := h.svc.RunAutoConfirm(ctx, h.clock)
	require.NoError(t, err)
	require.Equal(t, 1, res.Confirmed)

	h.clock = deliveredAt.Add(6 * 24 * time.Hour)
	late, err := h.svc.ConfirmByBuyer(ctx, delivery.ID, buyerOf(delivery))
	require.NoError(t, err)
	require.True(t, late.AlreadyConfirmed)

	stored, hold := h.reload(t, delivery.ID)
	require.Equal(t, enums.ReleaseTriggerTimeout, *stored.ConfirmationTrigger)
	require.Equal(t, enums.ReleaseTriggerTimeout, *hold.ReleaseTrigger)
	require.EqualValues(t, 1, h.count(t, &models.DeliveryEvent{}, "delivery_id = ? AND kind = ?", delivery.ID, enums.DeliveryEventAutoConfirmed))
	require.Zero(t, h.count(t, &models.DeliveryEvent{}, "delivery_id = ? AND kind = ?", delivery.ID, enums.DeliveryEventBuyerConfirmed))
}

func TestConcurrentBuyerAndTimeoutReleaseExactlyOnce(t *testing.T) {
	h := newHarness(t, 10)
	deliveredAt := h.clock.Add(-grace - time.Minute)
	delivery := h.delivered(t, deliveredAt)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := h.svc.ConfirmByBuyer(ctx, delivery.ID, buyerOf(delivery))
				errs <- err
				return
			}
			_, err := h.svc.RunAutoConfirm(ctx, h.clock)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, h.count(t, &models.Commission{}, "delivery_id = ?", delivery.ID))
	require.EqualValues(t, 1, h.count(t, &models.LedgerEvent{}, "delivery_id = ? AND type = ?", delivery.ID, enums.LedgerEventEscrowReleased))
	require.EqualValues(t, 1, h.count(t, &models.OutboxEvent{}, "event_type = ?", enums.EventDeliveryConfirmed))
	require.EqualValues(t, 1, h.count(t, &models.DeliveryEvent{}, "delivery_id = ?", delivery.ID))

	stored, hold := h.reload(t, delivery.ID)
	require.True(t, stored.BuyerConfirmed)
	require.Equal(t, enums.EscrowStatusReleased, hold.Status)
	require.Equal(t, *stored.ConfirmationTrigger, *hold.ReleaseTrigger)
}

func TestSuspendAndResumeShiftDeadline(t *testing.T) {
	h := newHarness(t, 10)
	deliveredAt := h.clock.Add(-24 * time.Hour)
	delivery := h.delivered(t, deliveredAt)
	ctx := context.Background()

	_, err := h.svc.SuspendTimeout(ctx, SuspendInput{DeliveryID: delivery.ID, Actor: buyerOf(delivery)})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	suspended, err := h.svc.SuspendTimeout(ctx, SuspendInput{DeliveryID: delivery.ID, Actor: buyerOf(delivery), Reason: "item damaged"})
	require.NoError(t, err)
	require.True(t, suspended.TimeoutSuspended)

	res, err := h.svc.RunAutoConfirm(ctx, deliveredAt.Add(grace+time.Hour))
	require.NoError(t, err)
	require.Zero(t, res.Confirmed)

	_, err = h.svc.ResumeTimeout(ctx, ResumeInput{DeliveryID: delivery.ID, Actor: buyerOf(delivery)})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	h.clock = h.clock.Add(48 * time.Hour)
	resumed, err := h.svc.ResumeTimeout(ctx, ResumeInput{DeliveryID: delivery.ID, Actor: adminActor()})
	require.NoError(t, err)
	require.False(t, resumed.TimeoutSuspended)
	require.True(t, resumed.AutoConfirmAt.Equal(deliveredAt.Add(grace+48*time.Hour)))

	stored, hold := h.reload(t, delivery.ID)
	require.False(t, stored.TimeoutSuspended)
	require.Nil(t, stored.TimeoutSuspendedAt)
	require.True(t, stored.AutoConfirmAt.Equal(deliveredAt.Add(grace+48*time.Hour)))
	require.Equal(t, enums.EscrowStatusHeld, hold.Status)
}

func TestResolveDisputeRefund(t *testing.T) {
	h := newHarness(t, 10)
	delivery := h.delivered(t, h.clock.Add(-time.Hour))
	ctx := context.Background()

	_, err := h.svc.SuspendTimeout(ctx, SuspendInput{DeliveryID: delivery.ID, Actor: buyerOf(delivery), Reason: "wrong item"})
	require.NoError(t, err)

	_, err = h.svc.ResolveDispute(ctx, ResolveDisputeInput{DeliveryID: delivery.ID, Actor: adminActor(), Outcome: DisputeOutcomeRefund, Reason: "seller shipped the wrong item"})
	require.NoError(t, err)

	stored, hold := h.reload(t, delivery.ID)
	require.Equal(t, enums.EscrowStatusRefunded, hold.Status)
	require.Nil(t, stored.AutoConfirmAt)
	require.False(t, stored.BuyerConfirmed)

	res, err := h.svc.RunAutoConfirm(ctx, h.clock.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, res.Scanned)

	events := h.count(t, &models.DeliveryEvent{}, "delivery_id = ?", delivery.ID)
	_, err = h.svc.ConfirmByBuyer(ctx, delivery.ID, buyerOf(delivery))
	require.ErrorIs(t, err, errEscrowRefunded)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Zero(t, h.count(t, &models.Commission{}, "delivery_id = ?", delivery.ID))

	_, err = h.svc.SuspendTimeout(ctx, SuspendInput{DeliveryID: delivery.ID, Actor: buyerOf(delivery), Reason: "second thoughts"})
	require.ErrorIs(t, err, errEscrowRefunded)
	_, err = h.svc.ResolveDispute(ctx, ResolveDisputeInput{DeliveryID: delivery.ID, Actor: adminActor(), Outcome: DisputeOutcomeRelease, Reason: "reopened"})
	require.ErrorIs(t, err, errEscrowRefunded)

	after, _ := h.reload(t, delivery.ID)
	require.Equal(t, stored.Version, after.Version)
	require.False(t, after.BuyerConfirmed)
	require.Equal(t, events, h.count(t, &models.DeliveryEvent{}, "delivery_id = ?", delivery.ID))
}

func TestResolveDisputeRelease(t *testing.T) {
	h := newHarness(t, 10)
	delivery := h.delivered(t, h.clock.Add(-time.Hour))

	got, err := h.svc.ResolveDispute(context.Background(), ResolveDisputeInput{
		DeliveryID: delivery.ID,
		Actor:      adminActor(),
		Outcome:    DisputeOutcomeRelease,
		Reason:     "carrier photo confirms delivery",
	})
	require.NoError(t, err)
	require.Equal(t, enums.ReleaseTriggerDisputeResolved, *got.ConfirmationTrigger)

	_, hold := h.reload(t, delivery.ID)
	require.Equal(t, enums.ReleaseTriggerDisputeResolved, *hold.ReleaseTrigger)
}

func TestAutoConfirmPagesAndResetsCursor(t *testing.T) {
	h := newHarness(t, 2)
	base := h.clock.Add(-grace - 24*time.Hour)
	for i := 0; i < 5; i++ {
		h.delivered(t, base.Add(time.Duration(i)*time.Minute))
	}

	res, err := h.svc.RunAutoConfirm(context.Background(), h.clock)
	require.NoError(t, err)
	require.Equal(t, 5, res.Scanned)
	require.Equal(t, 5, res.Confirmed)

	cursor, err := h.svc.cursors.Load(context.Background(), autoConfirmCursor)
	require.NoError(t, err)
	require.Nil(t, cursor)
}

func TestAutoConfirmResumesFromSavedCursor(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	base := h.clock.Add(-grace - 24*time.Hour)
	rows := make([]models.Delivery, 5)
	for i := range rows {
		rows[i] = h.delivered(t, base.Add(time.Duration(i)*time.Minute))
	}
	// A previous pass stopped after the second row.
	require.NoError(t, h.svc.cursors.Save(ctx, autoConfirmCursor, &pagination.Cursor{
		CreatedAt: *rows[1].AutoConfirmAt,
		ID:        rows[1].ID,
	}))

	res, err := h.svc.RunAutoConfirm(ctx, h.clock)
	require.NoError(t, err)
	require.Equal(t, 3, res.Confirmed)
	for i, row := range rows {
		got, hold := h.reload(t, row.ID)
		if i < 2 {
			require.False(t, got.BuyerConfirmed, "row %d confirmed before its turn", i)
			require.Equal(t, enums.EscrowStatusHeld, hold.Status)
			continue
		}
		require.True(t, got.BuyerConfirmed, "row %d not confirmed", i)
		require.Equal(t, enums.EscrowStatusReleased, hold.Status)
	}
	cursor, err := h.svc.cursors.Load(ctx, autoConfirmCursor)
	require.NoError(t, err)
	require.Nil(t, cursor)

	res, err = h.svc.RunAutoConfirm(ctx, h.clock)
	require.NoError(t, err)
	require.Equal(t, 2, res.Confirmed)
	for _, row := range rows {
		got, _ := h.reload(t, row.ID)
		require.True(t, got.BuyerConfirmed)
		require.EqualValues(t, 1, h.count(t, &models.Commission{}, "delivery_id = ?", row.ID))
	}
}

func TestAutoConfirmStopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, 10)
	h.delivered(t, h.clock.Add(-grace-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.svc.RunAutoConfirm(ctx, h.clock)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, res.Confirmed)
}
