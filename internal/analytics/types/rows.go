package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema.
type SettlementEventRow struct {
	EventID      string             `bigquery:"event_id"`
	EventType    string             `bigquery:"event_type"`
	OccurredAt   time.Time          `bigquery:"occurred_at"`
	DeliveryID   *string            `bigquery:"delivery_id"`
	OrderID      *string            `bigquery:"order_id"`
	ProviderID   *string            `bigquery:"provider_id"`
	PayoutID     *string            `bigquery:"payout_id"`
	CommissionID *string            `bigquery:"commission_id"`
	Trigger      *string            `bigquery:"trigger"`
	Status       *string            `bigquery:"status"`
	AmountCents  *int64             `bigquery:"amount_cents"`
	Payload      cbigquery.NullJSON `bigquery:"payload"`
}
