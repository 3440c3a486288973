package enums

import (
	"fmt"
	"slices"
)

// OutboxAggregateType is the aggregate_type column of outbox_events. It also
// becomes the Pub/Sub ordering key prefix, so values must stay stable.
type OutboxAggregateType string

const (
	AggregateDelivery   OutboxAggregateType = "delivery"
	AggregateEscrowHold OutboxAggregateType = "escrow_hold"
	AggregateCommission OutboxAggregateType = "commission"
	AggregatePayout     OutboxAggregateType = "payout"
)

var aggregateTypes = []OutboxAggregateType{
	AggregateDelivery,
	AggregateEscrowHold,
	AggregateCommission,
	AggregatePayout,
}

func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(aggregateTypes, a)
}

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parseEnum("aggregate type", value, aggregateTypes)
}

// OutboxEventType names what happened. Lifecycle events go to the
// notification topic; money events go to the settlement topic.
type OutboxEventType string

const (
	EventDeliveryCreated       OutboxEventType = "delivery_created"
	EventDeliveryStatusChanged OutboxEventType = "delivery_status_changed"
	EventDeliveryAssigned      OutboxEventType = "delivery_assigned"
	EventDeliveryDelivered     OutboxEventType = "delivery_delivered"
	EventDeliveryConfirmed     OutboxEventType = "delivery_confirmed"
	EventEscrowReleased        OutboxEventType = "escrow_released"
	EventEscrowRefunded        OutboxEventType = "escrow_refunded"
	EventCommissionRecorded    OutboxEventType = "commission_recorded"
	EventPayoutCreated         OutboxEventType = "payout_created"
	EventPayoutStatusChanged   OutboxEventType = "payout_status_changed"
)

var outboxEventTypes = []OutboxEventType{
	EventDeliveryCreated,
	EventDeliveryStatusChanged,
	EventDeliveryAssigned,
	EventDeliveryDelivered,
	EventDeliveryConfirmed,
	EventEscrowReleased,
	EventEscrowRefunded,
	EventCommissionRecorded,
	EventPayoutCreated,
	EventPayoutStatusChanged,
}

// OutboxEventTypes lists every event type in declaration order.
func OutboxEventTypes() []OutboxEventType {
	return slices.Clone(outboxEventTypes)
}

func (e OutboxEventType) IsValid() bool {
	return slices.Contains(outboxEventTypes, e)
}

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parseEnum("event type", value, outboxEventTypes)
}

// OutboxDLQErrorReason records why a row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}

// parseEnum matches value exactly against valid.
func parseEnum[T ~string](kind, value string, valid []T) (T, error) {
	if slices.Contains(valid, T(value)) {
		return T(value), nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
