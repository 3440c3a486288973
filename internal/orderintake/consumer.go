package orderintake

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/idempotency"
)

const (
	orderIntakeConsumer = "order-intake"
	// EventOrderPlaced is the event_type attribute checkout publishes per store order.
	EventOrderPlaced = "order_placed"
)

var validate = validator.New()

type eventGuard interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Status, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Abandon(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer receives order placement events and hands them to the intake service.
type Consumer struct {
	svc          Service
	subscription *pubsub.Subscriber
	guard        eventGuard
	logg         *logger.Logger
}

func NewConsumer(svc Service, subscription *pubsub.Subscriber, guard eventGuard, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("order intake service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("order subscription required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		svc:          svc,
		subscription: subscription,
		guard:        guard,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != EventOrderPlaced {
		c.logg.Info(logCtx, "skipping non order event")
		return processResult{}
	}

	envelope, eventID, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{}
	}

	var order OrderPlaced
	if err := json.Unmarshal(envelope.Data, &order); err != nil {
		c.logg.Error(logCtx, "failed to parse order payload", err)
		return processResult{}
	}
	logCtx = c.logg.WithFields(c.logg.WithEventID(logCtx, eventID.String()), map[string]any{
		"order_id": order.OrderID.String(),
		"store_id": order.StoreID.String(),
	})

	status, err := c.guard.Claim(logCtx, orderIntakeConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency claim failed", err)
		return processResult{nack: true}
	}
	switch status {
	case idempotency.AlreadyProcessed:
		c.logg.Info(logCtx, "event already processed")
		return processResult{}
	case idempotency.InFlight:
		c.logg.Info(logCtx, "event claimed by another delivery")
		return processResult{nack: true}
	}

	result, err := c.svc.Intake(logCtx, order)
	if err != nil && !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		c.logg.Error(logCtx, "order intake failed", err)
		if abandonErr := c.guard.Abandon(logCtx, orderIntakeConsumer, eventID); abandonErr != nil {
			c.logg.Error(logCtx, "idempotency abandon failed", abandonErr)
		}
		return processResult{nack: true}
	}
	// Rejected orders are final too; redelivering them cannot succeed.
	if completeErr := c.guard.Complete(logCtx, orderIntakeConsumer, eventID); completeErr != nil {
		c.logg.Error(logCtx, "idempotency complete failed", completeErr)
	}
	if err != nil {
		c.logg.Error(logCtx, "order rejected", err)
		return processResult{}
	}

	logCtx = c.logg.WithDeliveryID(logCtx, result.Delivery.ID.String())
	if result.Created {
		c.logg.Info(logCtx, "delivery created from order")
	} else {
		c.logg.Info(logCtx, "order already taken in")
	}
	return processResult{}
}
