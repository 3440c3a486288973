package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/registry"
)

// relayOne publishes a single row and records the outcome inside tx.
// held collects ordering keys whose earlier row failed in this batch; later
// rows for the same aggregate wait for the next batch so consumers never see
// delivered after confirmed.
func (r *Relay) relayOne(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, held map[string]struct{}) error {
	key := event.OrderingKey()
	if _, blocked := held[key]; blocked {
		r.logg.Info(r.logg.WithFields(ctx, r.fields(event, nil)), "outbox event deferred behind failed predecessor")
		return nil
	}

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err, r.fields(event, nil))
	}
	fields := r.fields(event, resolved)

	pubErr := r.publish(ctx, event, resolved, key)
	if pubErr == nil {
		if err := r.repo.MarkPublished(tx, event.ID, r.now()); err != nil {
			return fmt.Errorf("mark %s published: %w", event.ID, err)
		}
		r.metrics.IncPublished(string(event.EventType))
		r.logg.Info(r.logg.WithFields(ctx, fields), "outbox event relayed")
		return nil
	}

	var nonRetry registry.NonRetryableError
	if errors.As(pubErr, &nonRetry) {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, pubErr, fields)
	}

	attempt := event.AttemptCount + 1
	fields["attempt_count"] = attempt
	if attempt >= r.maxAttempts {
		return r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("gave up after %d attempts: %w", attempt, pubErr), fields)
	}

	held[key] = struct{}{}
	warnCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", pubErr.Error())
	r.logg.Warn(warnCtx, "outbox publish failed, row stays pending")
	if err := r.repo.MarkFailed(tx, event.ID, pubErr); err != nil {
		return fmt.Errorf("mark %s failed: %w", event.ID, err)
	}
	r.metrics.IncRetried(string(event.EventType))
	return nil
}

// deadLetter copies the row into outbox_dlq and retires it from polling.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["dlq_reason"] = reason
	warnCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", cause.Error())
	r.logg.Warn(warnCtx, "outbox event dead-lettered")

	if err := r.dlq.InsertTx(tx, event.DeadLetter(reason, cause, r.now())); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.repo.MarkTerminal(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("retire %s: %w", event.ID, err)
	}
	r.metrics.IncDeadLettered(string(reason))
	return nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent, key string) error {
	topic := resolved.Descriptor.Topic
	pub := r.topics.get(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, buildMessage(event, resolved, key))
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %q returned no result", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		// A failed ordered publish pauses the key until resumed.
		pub.ResumePublish(key)
		return err
	}
	return nil
}

func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent, key string) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": strconv.Itoa(resolved.Envelope.Version),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !resolved.Envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: key,
	}
}

func (r *Relay) fields(event models.OutboxEvent, resolved *registry.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	}
	if resolved != nil {
		fields["topic"] = resolved.Descriptor.Topic
		if resolved.Envelope.EventID != "" {
			fields["event_id"] = resolved.Envelope.EventID
		}
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
