package escrow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/commission"
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

type failingPolicies struct{}

func (failingPolicies) PolicySnapshot(context.Context, *gorm.DB, uuid.UUID) (commission.Policy, error) {
	return commission.Policy{}, errors.New("provider registry unavailable")
}

func newTestService(t *testing.T, conn *gorm.DB, policies policySource) Service {
	t.Helper()
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	commissionSvc, err := commission.NewService(commission.NewRepository(conn), db.NewFromConn(conn), ledgerSvc, publisher)
	require.NoError(t, err)
	if policies == nil {
		providerSvc, err := providers.NewService(providers.NewRepository(conn))
		require.NoError(t, err)
		policies = providerSvc
	}
	svc, err := NewService(NewRepository(conn), commissionSvc, policies, ledgerSvc, publisher, nil)
	require.NoError(t, err)
	return svc
}

func deliveredFixture(t *testing.T, conn *gorm.DB) (models.Delivery, models.EscrowHold) {
	t.Helper()
	provider := dbtest.Provider(t, conn)
	partner := dbtest.Member(t, conn, provider.ID, enums.ProviderMemberRolePartner)
	deliveredAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	delivery := dbtest.Delivery(t, conn, func(d *models.Delivery) {
		d.ProviderID = &provider.ID
		d.PartnerID = &partner.UserID
		d.Status = enums.DeliveryStatusDelivered
		d.DeliveredAt = &deliveredAt
	})
	hold := dbtest.Hold(t, conn, delivery, decimal.RequireFromString("480.00"))
	return delivery, hold
}

func release(t *testing.T, conn *gorm.DB, svc Service, delivery *models.Delivery, trigger enums.ReleaseTrigger) (*ReleaseResult, error) {
	t.Helper()
	var out *ReleaseResult
	err := conn.Transaction(func(tx *gorm.DB) error {
		res, err := svc.ReleaseTx(context.Background(), tx, ReleaseInput{
			Delivery: delivery,
			Trigger:  trigger,
			Actor:    auth.SystemActor(),
		})
		out = res
		return err
	})
	return out, err
}

func TestReleaseRecordsCommissionOnce(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newTestService(t, conn, nil)
	delivery, hold := deliveredFixture(t, conn)

	res, err := release(t, conn, svc, &delivery, enums.ReleaseTriggerBuyerConfirmed)
	require.NoError(t, err)
	require.True(t, res.Released)
	require.NotNil(t, res.Commission)
	require.Equal(t, "12.00", res.Commission.Amount.StringFixed(2))

	var stored models.EscrowHold
	require.NoError(t, conn.First(&stored, "id = ?", hold.ID).Error)
	require.Equal(t, enums.EscrowStatusReleased, stored.Status)
	require.NotNil(t, stored.ReleaseTrigger)
	require.Equal(t, enums.ReleaseTriggerBuyerConfirmed, *stored.ReleaseTrigger)

	var reloaded models.Delivery
	require.NoError(t, conn.First(&reloaded, "id = ?", delivery.ID).Error)
	require.True(t, reloaded.PartnerCommission.Valid)
	require.Equal(t, "12.00", reloaded.PartnerCommission.Decimal.StringFixed(2))

	again, err := release(t, conn, svc, &reloaded, enums.ReleaseTriggerTimeout)
	require.NoError(t, err)
	require.False(t, again.Released)

	var commissions int64
	require.NoError(t, conn.Model(&models.Commission{}).Where("delivery_id = ?", delivery.ID).Count(&commissions).Error)
	require.EqualValues(t, 1, commissions)

	var releasedEvents int64
	require.NoError(t, conn.Model(&models.LedgerEvent{}).
		Where("delivery_id = ? AND type = ?", delivery.ID, enums.LedgerEventEscrowReleased).
		Count(&releasedEvents).Error)
	require.EqualValues(t, 1, releasedEvents)

	var outboxRows int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&outboxRows).Error)
	require.EqualValues(t, 2, outboxRows)
}

func TestReleaseRollsBackWhenPolicyLookupFails(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newTestService(t, conn, failingPolicies{})
	delivery, hold := deliveredFixture(t, conn)

	_, err := release(t, conn, svc, &delivery, enums.ReleaseTriggerTimeout)
	require.Error(t, err)

	var stored models.EscrowHold
	require.NoError(t, conn.First(&stored, "id = ?", hold.ID).Error)
	require.Equal(t, enums.EscrowStatusHeld, stored.Status)

	var commissions int64
	require.NoError(t, conn.Model(&models.Commission{}).Count(&commissions).Error)
	require.Zero(t, commissions)
}

func TestReleaseRequiresDeliveredStatus(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newTestService(t, conn, nil)
	delivery, _ := deliveredFixture(t, conn)
	delivery.Status = enums.DeliveryStatusOutForDelivery

	_, err := release(t, conn, svc, &delivery, enums.ReleaseTriggerBuyerConfirmed)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestRefundIsExclusiveWithRelease(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newTestService(t, conn, nil)
	delivery, hold := deliveredFixture(t, conn)

	refund := func() (*RefundResult, error) {
		var out *RefundResult
		err := conn.Transaction(func(tx *gorm.DB) error {
			res, err := svc.RefundTx(context.Background(), tx, RefundInput{
				Delivery: &delivery,
				Reason:   "dispute resolved for buyer",
				Actor:    auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin},
			})
			out = res
			return err
		})
		return out, err
	}

	res, err := refund()
	require.NoError(t, err)
	require.True(t, res.Refunded)

	res, err = refund()
	require.NoError(t, err)
	require.False(t, res.Refunded)

	_, err = release(t, conn, svc, &delivery, enums.ReleaseTriggerTimeout)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	var stored models.EscrowHold
	require.NoError(t, conn.First(&stored, "id = ?", hold.ID).Error)
	require.Equal(t, enums.EscrowStatusRefunded, stored.Status)
	require.NotNil(t, stored.RefundReason)
}

func TestRefundRequiresReason(t *testing.T) {
	conn := dbtest.Open(t)
	svc := newTestService(t, conn, nil)
	delivery, _ := deliveredFixture(t, conn)

	err := conn.Transaction(func(tx *gorm.DB) error {
		_, err := svc.RefundTx(context.Background(), tx, RefundInput{Delivery: &delivery, Actor: auth.SystemActor()})
		return err
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
