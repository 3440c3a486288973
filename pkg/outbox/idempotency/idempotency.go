// Package idempotency dedupes Pub/Sub deliveries per consumer. A delivery
// first claims the event with a short lease; only a completed handler turns
// the claim into a long-lived processed marker, so a worker that dies
// mid-handler leaves the event retryable once the lease lapses.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

const (
	markerInFlight = "in_flight"
	markerDone     = "done"
)

// Status is the outcome of a claim.
type Status int

const (
	// Claimed means this delivery owns the event and must Complete or Abandon it.
	Claimed Status = iota
	// AlreadyProcessed means a previous delivery finished the event.
	AlreadyProcessed
	// InFlight means another delivery holds the lease right now.
	InFlight
)

func (s Status) String() string {
	switch s {
	case Claimed:
		return "claimed"
	case AlreadyProcessed:
		return "already_processed"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Store is the subset of the Redis client the guard needs.
type Store interface {
	redis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Guard records which events each consumer has handled.
type Guard struct {
	store Store
	lease time.Duration
	ttl   time.Duration
}

// NewGuard builds a guard. lease bounds how long a claim blocks redeliveries;
// ttl is how long a processed marker is retained.
func NewGuard(store Store, lease, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case lease <= 0:
		return nil, errors.New("claim lease must be positive")
	case ttl < lease:
		return nil, fmt.Errorf("processed ttl %s shorter than claim lease %s", ttl, lease)
	}
	return &Guard{store: store, lease: lease, ttl: ttl}, nil
}

// Claim takes the lease for eventID on behalf of consumer.
func (g *Guard) Claim(ctx context.Context, consumer string, eventID uuid.UUID) (Status, error) {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return 0, err
	}
	ok, err := g.store.SetNX(ctx, key, markerInFlight, g.lease)
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return Claimed, nil
	}

	marker, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		// Lease lapsed between SETNX and GET; let the next delivery retry.
		return InFlight, nil
	case err != nil:
		return 0, fmt.Errorf("read claim %s: %w", key, err)
	case marker == markerDone:
		return AlreadyProcessed, nil
	default:
		return InFlight, nil
	}
}

// Complete turns a claim into a processed marker.
func (g *Guard) Complete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, key, markerDone, g.ttl)
}

// Abandon drops a claim so the next redelivery can take it immediately.
func (g *Guard) Abandon(ctx context.Context, consumer string, eventID uuid.UUID) error {
	key, err := g.key(consumer, eventID)
	if err != nil {
		return err
	}
	return g.store.Del(ctx, key)
}

func (g *Guard) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
