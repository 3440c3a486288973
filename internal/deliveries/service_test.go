package deliveries

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
)

type recordingHook struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (h *recordingHook) OnDeliveredTx(_ context.Context, _ *gorm.DB, delivery *models.Delivery) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, delivery.ID)
	return nil
}

// staleRepository fails the first n versioned updates as if another writer won.
type staleRepository struct {
	Repository
	mu       sync.Mutex
	failures int
	attempts int
}

func (r *staleRepository) WithTx(tx *gorm.DB) Repository {
	return &staleTxRepository{Repository: r.Repository.WithTx(tx), parent: r}
}

type staleTxRepository struct {
	Repository
	parent *staleRepository
}

func (r *staleTxRepository) UpdateVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (int64, error) {
	r.parent.mu.Lock()
	r.parent.attempts++
	fail := r.parent.attempts <= r.parent.failures
	r.parent.mu.Unlock()
	if fail {
		return 0, pkgerrors.New(pkgerrors.CodeStaleVersion, "delivery was modified concurrently")
	}
	return r.Repository.UpdateVersioned(ctx, id, version, updates)
}

type harness struct {
	conn     *gorm.DB
	svc      Service
	hook     *recordingHook
	provider models.Provider
	partner  models.ProviderMember
	staff    models.ProviderMember
}

func newHarness(t *testing.T, wrap func(Repository) Repository) *harness {
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

	repo := NewRepository(conn)
	if wrap != nil {
		repo = wrap(repo)
	}
	hook := &recordingHook{}
	svc, err := NewService(repo, runner, providerSvc, escrowSvc, hook, publisher, RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond})
	require.NoError(t, err)

	provider := dbtest.Provider(t, conn)
	return &harness{
		conn:     conn,
		svc:      svc,
		hook:     hook,
		provider: provider,
		partner:  dbtest.Member(t, conn, provider.ID, enums.ProviderMemberRolePartner),
		staff:    dbtest.Member(t, conn, provider.ID, enums.ProviderMemberRoleStaff),
	}
}

func (h *harness) admin() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
}

func (h *harness) partnerActor() auth.Actor {
	return auth.Actor{UserID: h.partner.UserID, Role: enums.ActorRolePartner}
}

func (h *harness) staffActor() auth.Actor {
	providerID := h.provider.ID
	return auth.Actor{UserID: h.staff.UserID, Role: enums.ActorRoleProviderStaff, ProviderID: &providerID}
}

// assignedDelivery seeds a delivery with a held escrow, assigned to the
// harness provider and partner.
func (h *harness) assignedDelivery(t *testing.T, status enums.DeliveryStatus) models.Delivery {
	t.Helper()
	providerID := h.provider.ID
	partnerID := h.partner.UserID
	delivery := dbtest.Delivery(t, h.conn, func(d *models.Delivery) {
		d.ProviderID = &providerID
		d.PartnerID = &partnerID
		d.Status = status
	})
	dbtest.Hold(t, h.conn, delivery, decimal.RequireFromString("500.00"))
	return delivery
}

func (h *harness) transition(t *testing.T, id uuid.UUID, to enums.DeliveryStatus, actor auth.Actor) (*models.Delivery, error) {
	t.Helper()
	return h.svc.Transition(context.Background(), TransitionInput{DeliveryID: id, ToStatus: to, Actor: actor})
}

func requireCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, pkgerrors.IsCode(err, code), "expected %s, got %v", code, err)
}

func TestTransitionWalksHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	delivery := h.assignedDelivery(t, enums.DeliveryStatusPendingPickup)

	path := []enums.DeliveryStatus{
		enums.DeliveryStatusPickupScheduled,
		enums.DeliveryStatusPickedUp,
		enums.DeliveryStatusInTransit,
		enums.DeliveryStatusOutForDelivery,
		enums.DeliveryStatusDelivered,
	}
	for _, status := range path {
		_, err := h.transition(t, delivery.ID, status, h.partnerActor())
		require.NoError(t, err)
	}

	got, err := h.svc.Get(context.Background(), delivery.ID, h.partnerActor())
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)
	require.EqualValues(t, 1+len(path), got.Version)
	require.Equal(t, []uuid.UUID{delivery.ID}, h.hook.calls)

	events, err := h.svc.History(context.Background(), delivery.ID, h.admin())
	require.NoError(t, err)
	require.Len(t, events, len(path))

	walk := []enums.DeliveryStatus{enums.DeliveryStatusPendingPickup}
	for i, ev := range events {
		require.EqualValues(t, i+2, ev.Sequence)
		require.Equal(t, enums.DeliveryEventStatusTransition, ev.Kind)
		walk = append(walk, *ev.ToStatus)
	}
	require.True(t, ValidWalk(walk, nil))
}

func TestTransitionToCurrentStatusIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	delivery := h.assignedDelivery(t, enums.DeliveryStatusInTransit)

	got, err := h.transition(t, delivery.ID, enums.DeliveryStatusInTransit, h.partnerActor())
	require.NoError(t, err)
	require.EqualValues(t, 1, got.Version)

	events, err := h.svc.History(context.Background(), delivery.ID, h.admin())
	require.NoError(t, err)
	require.Empty(t, events)

	var outboxRows int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Count(&outboxRows).Error)
	require.Zero(t, outboxRows)
}

func TestTransitionRejectsInvalidMoves(t *testing.T) {
	h := newHarness(t, nil)
	delivery := h.assignedDelivery(t, enums.DeliveryStatusInTransit)

	_, err := h.transition(t, delivery.ID, enums.DeliveryStatusPickedUp, h.admin())
	requireCode(t, err, pkgerrors.CodeStateConflict)

	_, err = h.transition(t, delivery.ID, enums.DeliveryStatusDelivered, h.partnerActor())
	requireCode(t, err, pkgerrors.CodeStateConflict)

	stranger := auth.Actor{UserID: uuid.New(), Role: enums.ActorRolePartner}
	_, err = h.transition(t, delivery.ID, enums.DeliveryStatusOutForDelivery, stranger)
	requireCode(t, err, pkgerrors.CodeForbidden)

	buyer := auth.Actor{UserID: delivery.BuyerID, Role: enums.ActorRoleBuyer}
	_, err = h.transition(t, delivery.ID, enums.DeliveryStatusOutForDelivery, buyer)
	requireCode(t, err, pkgerrors.CodeForbidden)
}

func TestForceAdvance(t *testing.T) {
	h := newHarness(t, nil)
	delivery := h.assignedDelivery(t, enums.DeliveryStatusPickedUp)
	ctx := context.Background()

	_, err := h.svc.ForceAdvance(ctx, ForceAdvanceInput{DeliveryID: delivery.ID, ToStatus: enums.DeliveryStatusDelivered, Actor: h.staffActor()})
	requireCode(t, err, pkgerrors.CodeValidation)

	_, err = h.svc.ForceAdvance(ctx, ForceAdvanceInput{
		DeliveryID: delivery.ID,
		ToStatus:   enums.DeliveryStatusDelivered,
		Actor:      h.partnerActor(),
		Reason:     "scanner offline",
	})
	requireCode(t, err, pkgerrors.CodeForbidden)

	got, err := h.svc.ForceAdvance(ctx, ForceAdvanceInput{
		DeliveryID: delivery.ID,
		ToStatus:   enums.DeliveryStatusDelivered,
		Actor:      h.staffActor(),
		Reason:     "scanner offline",
	})
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusDelivered, got.Status)

	events, err := h.svc.History(ctx, delivery.ID, h.admin())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, enums.DeliveryEventForcedTransition, events[0].Kind)
	require.NotNil(t, events[0].Reason)
	require.Equal(t, "scanner offline", *events[0].Reason)
	require.NotNil(t, events[0].ActorUserID)
	require.Equal(t, h.staff.UserID, *events[0].ActorUserID)
}

func TestPickupRequiresProvider(t *testing.T) {
	h := newHarness(t, nil)
	delivery := dbtest.Delivery(t, h.conn, func(d *models.Delivery) { d.Status = enums.DeliveryStatusPickupScheduled })

	_, err := h.transition(t, delivery.ID, enums.DeliveryStatusPickedUp, h.admin())
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestCancellationRefundsEscrow(t *testing.T) {
	h := newHarness(t, nil)
	delivery := h.assignedDelivery(t, enums.DeliveryStatusPickupScheduled)

	_, err := h.transition(t, delivery.ID, enums.DeliveryStatusCancelled, h.partnerActor())
	requireCode(t, err, pkgerrors.CodeForbidden)

	note := "buyer cancelled the order"
	_, err = h.svc.Transition(context.Background(), TransitionInput{
		DeliveryID: delivery.ID,
		ToStatus:   enums.DeliveryStatusCancelled,
		Actor:      h.staffActor(),
		Note:       &note,
	})
	require.NoError(t, err)

	var hold models.EscrowHold
	require.NoError(t, h.conn.First(&hold, "delivery_id = ?", delivery.ID).Error)
	require.Equal(t, enums.EscrowStatusRefunded, hold.Status)
	require.NotNil(t, hold.RefundReason)
	require.Equal(t, note, *hold.RefundReason)

	_, err = h.transition(t, delivery.ID, enums.DeliveryStatusPickedUp, h.admin())
	requireCode(t, err, pkgerrors.CodeStateConflict)
}

func TestTransitionRetriesStaleVersion(t *testing.T) {
	var stale *staleRepository
	h := newHarness(t, func(repo Repository) Repository {
		stale = &staleRepository{Repository: repo, failures: 2}
		return stale
	})
	delivery := h.assignedDelivery(t, enums.DeliveryStatusPendingPickup)

	got, err := h.transition(t, delivery.ID, enums.DeliveryStatusPickupScheduled, h.partnerActor())
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusPickupScheduled, got.Status)
	require.Equal(t, 3, stale.attempts)
}

func TestTransitionSurfacesStaleVersionAfterRetries(t *testing.T) {
	h := newHarness(t, func(repo Repository) Repository {
		return &staleRepository{Repository: repo, failures: 100}
	})
	delivery := h.assignedDelivery(t, enums.DeliveryStatusPendingPickup)

	_, err := h.transition(t, delivery.ID, enums.DeliveryStatusPickupScheduled, h.partnerActor())
	requireCode(t, err, pkgerrors.CodeStaleVersion)
	require.True(t, pkgerrors.IsRetryable(err))
}

func TestStaleRetryBackoffDoubles(t *testing.T) {
	b := RetryPolicy{MaxRetries: 4, Backoff: 25 * time.Millisecond}.backoff()
	var delays []time.Duration
	for {
		next, stop := b.Next()
		if stop {
			break
		}
		delays = append(delays, next)
	}
	require.Equal(t, []time.Duration{
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
	}, delays)

	capped := RetryPolicy{MaxRetries: 3, Backoff: 800 * time.Millisecond}.backoff()
	capped.Next()
	next, _ := capped.Next()
	require.Equal(t, maxStaleBackoff, next)
}

func TestAssignProvider(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	delivery := h.assignedDelivery(t, enums.DeliveryStatusPendingPickup)

	other := dbtest.Provider(t, h.conn)
	suspended := dbtest.Provider(t, h.conn, func(p *models.Provider) { p.Status = enums.ProviderStatusSuspended })

	_, err := h.svc.AssignProvider(ctx, AssignProviderInput{DeliveryID: delivery.ID, ProviderID: other.ID, Actor: h.staffActor()})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.svc.AssignProvider(ctx, AssignProviderInput{DeliveryID: delivery.ID, ProviderID: suspended.ID, Actor: h.admin()})
	requireCode(t, err, pkgerrors.CodeStateConflict)

	got, err := h.svc.AssignProvider(ctx, AssignProviderInput{DeliveryID: delivery.ID, ProviderID: other.ID, Actor: h.admin()})
	require.NoError(t, err)
	require.Equal(t, other.ID, *got.ProviderID)
	require.Nil(t, got.PartnerID)

	var stored models.Delivery
	require.NoError(t, h.conn.First(&stored, "id = ?", delivery.ID).Error)
	require.Nil(t, stored.PartnerID)
	require.Equal(t, enums.DeliveryStatusPendingPickup, stored.Status)

	events, err := h.svc.History(ctx, delivery.ID, h.admin())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, enums.DeliveryEventProviderAssigned, events[0].Kind)
	require.Equal(t, h.provider.ID, *events[0].PreviousAssigneeID)
	require.Equal(t, other.ID, *events[0].NewAssigneeID)
	require.Nil(t, events[0].ToStatus)
}

func TestAssignPartner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	providerID := h.provider.ID
	delivery := dbtest.Delivery(t, h.conn, func(d *models.Delivery) { d.ProviderID = &providerID })

	_, err := h.svc.AssignPartner(ctx, AssignPartnerInput{DeliveryID: delivery.ID, PartnerID: h.staff.UserID, Actor: h.staffActor()})
	requireCode(t, err, pkgerrors.CodeValidation)

	outsider := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleProviderStaff, ProviderID: &providerID}
	_, err = h.svc.AssignPartner(ctx, AssignPartnerInput{DeliveryID: delivery.ID, PartnerID: h.partner.UserID, Actor: outsider})
	requireCode(t, err, pkgerrors.CodeForbidden)

	got, err := h.svc.AssignPartner(ctx, AssignPartnerInput{DeliveryID: delivery.ID, PartnerID: h.partner.UserID, Actor: h.staffActor()})
	require.NoError(t, err)
	require.Equal(t, h.partner.UserID, *got.PartnerID)

	again, err := h.svc.AssignPartner(ctx, AssignPartnerInput{DeliveryID: delivery.ID, PartnerID: h.partner.UserID, Actor: h.staffActor()})
	require.NoError(t, err)
	require.Equal(t, got.Version, again.Version)
}

func TestListScopesByRole(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	buyerID := uuid.New()

	for i := 0; i < 3; i++ {
		h.assignedDelivery(t, enums.DeliveryStatusPendingPickup)
	}
	mine := dbtest.Delivery(t, h.conn, func(d *models.Delivery) {
		d.BuyerID = buyerID
		d.TrackingNumber = "ZX-4410-ALPHA"
	})

	buyer := auth.Actor{UserID: buyerID, Role: enums.ActorRoleBuyer}
	page, err := h.svc.List(ctx, ListParams{Actor: buyer})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, mine.ID, page.Items[0].ID)

	page, err = h.svc.List(ctx, ListParams{Actor: h.staffActor()})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)

	page, err = h.svc.List(ctx, ListParams{Actor: h.admin(), Tracking: "4410-alpha"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	for _, wildcard := range []string{"%", "_", "ZX%ALPHA"} {
		page, err = h.svc.List(ctx, ListParams{Actor: h.admin(), Tracking: wildcard})
		require.NoError(t, err)
		require.Empty(t, page.Items, "tracking %q must match literally", wildcard)
	}

	first, err := h.svc.List(ctx, ListParams{Actor: h.admin(), Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := h.svc.List(ctx, ListParams{Actor: h.admin(), Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	require.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, d := range append(first.Items, second.Items...) {
		require.False(t, seen[d.ID])
		seen[d.ID] = true
	}

	otherProvider := uuid.New()
	_, err = h.svc.List(ctx, ListParams{Actor: h.staffActor(), ProviderID: &otherProvider})
	requireCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.svc.Get(ctx, mine.ID, h.partnerActor())
	requireCode(t, err, pkgerrors.CodeNotFound)

	require.NoError(t, h.conn.Model(&models.ProviderMember{}).Where("id = ?", h.staff.ID).Update("active", false).Error)
	_, err = h.svc.List(ctx, ListParams{Actor: h.staffActor()})
	requireCode(t, err, pkgerrors.CodeForbidden)
}
