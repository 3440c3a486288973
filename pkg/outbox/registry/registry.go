// Package registry knows every event the outbox may carry: which aggregate
// owns it, which topic it is published on and the Go type of its data.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

// stream groups events by audience. Each stream maps to one topic.
type stream int

const (
	notifications stream = iota
	settlement
)

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never be published as is. The
// relay dead-letters it immediately instead of retrying.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

type schema struct {
	eventType enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	stream    stream
	newData   func() any
}

func newData[T any]() func() any {
	return func() any { return new(T) }
}

// schemas lists every publishable event. Delivery lifecycle updates feed
// notifications; money movement feeds the settlement stream analytics reads.
var schemas = []schema{
	{enums.EventDeliveryCreated, enums.AggregateDelivery, notifications, newData[payloads.DeliveryCreatedEvent]()},
	{enums.EventDeliveryStatusChanged, enums.AggregateDelivery, notifications, newData[payloads.DeliveryStatusChangedEvent]()},
	{enums.EventDeliveryAssigned, enums.AggregateDelivery, notifications, newData[payloads.DeliveryAssignedEvent]()},
	{enums.EventDeliveryDelivered, enums.AggregateDelivery, notifications, newData[payloads.DeliveryDeliveredEvent]()},
	{enums.EventDeliveryConfirmed, enums.AggregateDelivery, notifications, newData[payloads.DeliveryConfirmedEvent]()},
	{enums.EventEscrowReleased, enums.AggregateEscrowHold, settlement, newData[payloads.EscrowReleasedEvent]()},
	{enums.EventEscrowRefunded, enums.AggregateEscrowHold, settlement, newData[payloads.EscrowRefundedEvent]()},
	{enums.EventCommissionRecorded, enums.AggregateCommission, settlement, newData[payloads.CommissionRecordedEvent]()},
	{enums.EventPayoutCreated, enums.AggregatePayout, settlement, newData[payloads.PayoutCreatedEvent]()},
	{enums.EventPayoutStatusChanged, enums.AggregatePayout, settlement, newData[payloads.PayoutStatusChangedEvent]()},
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topics := map[stream]string{
		notifications: cfg.NotificationTopic,
		settlement:    cfg.SettlementTopic,
	}
	switch {
	case topics[notifications] == "":
		return nil, errors.New("notification topic is required")
	case topics[settlement] == "":
		return nil, errors.New("settlement topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(schemas))}
	for _, s := range schemas {
		reg.entries[s.eventType] = EventDescriptor{
			EventType:      s.eventType,
			AggregateType:  s.aggregate,
			Topic:          topics[s.stream],
			PayloadFactory: s.newData,
		}
	}
	return reg, nil
}

// Topics lists the distinct topics the registry publishes to, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	for _, desc := range r.entries {
		seen[desc.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(seen))
	for topic := range seen {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the typed data.
// Every failure is non-retryable: the stored row will not change.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("%s belongs to %s aggregates, row has %s", event.EventType, desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	envelope, _, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
