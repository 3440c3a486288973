package router

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/internal/analytics/writer"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

// rowHandler fills the columns every row shares, then writes it. The raw
// event body goes into payload unless the builder set one.
type rowHandler struct {
	writer Writer
	logg   *logger.Logger
	build  func(payload any) (types.SettlementEventRow, error)
}

func (h *rowHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	row, err := h.build(payload)
	if err != nil {
		return err
	}
	row.EventID = envelope.EventID
	row.EventType = string(envelope.EventType)
	row.OccurredAt = envelope.OccurredAt.UTC()
	if envelope.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}
	if !row.Payload.Valid {
		if row.Payload, err = writer.EncodeJSON(envelope.Payload); err != nil {
			return err
		}
	}

	if err := h.writer.InsertSettlement(ctx, row); err != nil {
		return err
	}
	h.logg.Debug(ctx, "analytics.row.buffered")
	return nil
}

func escrowReleasedRow(e *payloads.EscrowReleasedEvent) types.SettlementEventRow {
	return types.SettlementEventRow{
		DeliveryID:  idColumn(e.DeliveryID),
		OrderID:     idColumn(e.OrderID),
		Trigger:     textColumn(e.Trigger.String()),
		AmountCents: centsColumn(e.Amount),
	}
}

func escrowRefundedRow(e *payloads.EscrowRefundedEvent) types.SettlementEventRow {
	return types.SettlementEventRow{
		DeliveryID:  idColumn(e.DeliveryID),
		OrderID:     idColumn(e.OrderID),
		AmountCents: centsColumn(e.Amount),
	}
}

func deliveryConfirmedRow(e *payloads.DeliveryConfirmedEvent) types.SettlementEventRow {
	return types.SettlementEventRow{
		DeliveryID: idColumn(e.DeliveryID),
		Trigger:    textColumn(e.Trigger.String()),
	}
}

func commissionRecordedRow(e *payloads.CommissionRecordedEvent) types.SettlementEventRow {
	return types.SettlementEventRow{
		DeliveryID:   idColumn(e.DeliveryID),
		ProviderID:   idColumn(e.ProviderID),
		CommissionID: idColumn(e.CommissionID),
		AmountCents:  centsColumn(e.Amount),
	}
}

// payoutCreatedRow records pending: a payout is always created in that state.
func payoutCreatedRow(e *payloads.PayoutCreatedEvent) types.SettlementEventRow {
	return types.SettlementEventRow{
		ProviderID:  idColumn(e.ProviderID),
		PayoutID:    idColumn(e.PayoutID),
		Status:      textColumn(string(enums.PayoutStatusPending)),
		AmountCents: centsColumn(e.Amount),
	}
}

func payoutStatusChangedRow(e *payloads.PayoutStatusChangedEvent) types.SettlementEventRow {
	return types.SettlementEventRow{
		ProviderID:  idColumn(e.ProviderID),
		PayoutID:    idColumn(e.PayoutID),
		Status:      textColumn(string(e.ToStatus)),
		AmountCents: centsColumn(e.Amount),
	}
}

// Nullable column helpers: blank text and nil ids are written as NULL.

func textColumn(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func idColumn(id uuid.UUID) *string {
	if id == uuid.Nil {
		return nil
	}
	return textColumn(id.String())
}

// centsColumn rounds half away from zero.
func centsColumn(amount decimal.Decimal) *int64 {
	cents := amount.Shift(2).Round(0).IntPart()
	return &cents
}
