// Package worker feeds the settlement subscription into the analytics
// router, claiming each event once across worker replicas.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/internal/analytics/router"
	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/idempotency"
)

const consumerName = "settlement-analytics"

type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type eventGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Status, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Abandon(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// outcome is what the subscription is told about a message.
type outcome int

const (
	ack outcome = iota
	nack
)

type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	guard        eventGuard
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, guard eventGuard, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("settlement subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case guard == nil:
		return nil, errors.New("idempotency guard is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, guard: guard, logg: logg}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg) == nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// process never nacks a message it cannot parse: redelivery would not make
// it parseable. Transient failures release the claim and nack.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) outcome {
	ctx = s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, eventID, err := decode(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "analytics.message.dropped")
		return ack
	}
	ctx = s.logg.WithEventID(ctx, eventID.String())
	ctx = s.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	status, err := s.guard.Claim(ctx, consumerName, eventID)
	switch {
	case err != nil:
		s.logg.Error(ctx, "analytics.claim.failed", err)
		return nack
	case status == idempotency.AlreadyProcessed:
		s.logg.Debug(ctx, "analytics.event.duplicate")
		return ack
	case status == idempotency.InFlight:
		return nack
	}

	err = s.handler.Handle(ctx, envelope)
	untracked := errors.Is(err, router.ErrUnsupportedEventType)
	if err != nil && !untracked {
		s.logg.Error(ctx, "analytics.event.failed", err)
		if abandonErr := s.guard.Abandon(ctx, consumerName, eventID); abandonErr != nil {
			s.logg.Error(ctx, "analytics.claim.abandon_failed", abandonErr)
		}
		return nack
	}

	if err := s.guard.Complete(ctx, consumerName, eventID); err != nil {
		s.logg.Error(ctx, "analytics.claim.complete_failed", err)
	}
	if untracked {
		s.logg.Debug(ctx, "analytics.event.untracked")
	} else {
		s.logg.Info(ctx, "analytics.event.recorded")
	}
	return ack
}

// decode joins the relay's routing attributes with the stored envelope.
func decode(msg *gcppubsub.Message) (types.Envelope, uuid.UUID, error) {
	stored, eventID, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return types.Envelope{}, uuid.Nil, err
	}

	attr := func(key string) string { return strings.TrimSpace(msg.Attributes[key]) }
	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return types.Envelope{}, uuid.Nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return types.Envelope{}, uuid.Nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return types.Envelope{}, uuid.Nil, errors.New("aggregate_id attribute missing")
	}
	return types.Envelope{
		EventID:       eventID.String(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		SchemaVersion: stored.Version,
		OccurredAt:    stored.OccurredAt.UTC(),
		Payload:       stored.Data,
	}, eventID, nil
}
