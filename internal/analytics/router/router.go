// Package router turns settlement events into BigQuery rows, one builder per
// tracked event type.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

// ErrUnsupportedEventType marks events analytics does not track. The worker
// acks them.
var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

type Writer interface {
	InsertSettlement(ctx context.Context, row types.SettlementEventRow) error
}

// Handler receives the envelope and its decoded payload, a pointer to the
// event's payloads type.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(types.Envelope) (any, error)
	handler Handler
}

// typedRoute decodes into T and hands *T to build.
func typedRoute[T any](w Writer, logg *logger.Logger, build func(*T) types.SettlementEventRow) route {
	return route{
		decode: func(envelope types.Envelope) (any, error) {
			payload := new(T)
			if err := envelope.Decode(payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		handler: &rowHandler{writer: w, logg: logg, build: func(payload any) (types.SettlementEventRow, error) {
			typed, ok := payload.(*T)
			if !ok {
				return types.SettlementEventRow{}, fmt.Errorf("expected %T payload, got %T", typed, payload)
			}
			return build(typed), nil
		}},
	}
}

type Router struct {
	routes map[enums.OutboxEventType]route
}

// NewRouter wires the default row builders. overrides replace the handler for
// a tracked event; overrides for untracked events are ignored.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	routes := map[enums.OutboxEventType]route{
		enums.EventEscrowReleased:      typedRoute(writer, logg, escrowReleasedRow),
		enums.EventEscrowRefunded:      typedRoute(writer, logg, escrowRefundedRow),
		enums.EventDeliveryConfirmed:   typedRoute(writer, logg, deliveryConfirmedRow),
		enums.EventCommissionRecorded:  typedRoute(writer, logg, commissionRecordedRow),
		enums.EventPayoutCreated:       typedRoute(writer, logg, payoutCreatedRow),
		enums.EventPayoutStatusChanged: typedRoute(writer, logg, payoutStatusChangedRow),
	}
	for eventType, custom := range overrides {
		if r, ok := routes[eventType]; ok && custom != nil {
			r.handler = custom
			routes[eventType] = r
		}
	}
	return &Router{routes: routes}, nil
}

func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload, err := rt.decode(envelope)
	if err != nil {
		return err
	}
	return rt.handler.Handle(ctx, envelope, payload)
}
