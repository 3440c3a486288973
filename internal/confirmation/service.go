package confirmation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/deliveries"
	"github.com/angelmondragon/settlement-engine/internal/escrow"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type escrowSettler interface {
	ReleaseTx(ctx context.Context, tx *gorm.DB, input escrow.ReleaseInput) (*escrow.ReleaseResult, error)
	RefundTx(ctx context.Context, tx *gorm.DB, input escrow.RefundInput) (*escrow.RefundResult, error)
	GetByDeliveryTx(ctx context.Context, tx *gorm.DB, deliveryID uuid.UUID) (*models.EscrowHold, error)
}

// errEscrowRefunded closes the confirmation window of a delivery whose
// dispute ended in a refund. The delivery itself stays DELIVERED.
var errEscrowRefunded = pkgerrors.New(pkgerrors.CodeStateConflict, "escrow was refunded to the buyer; the delivery can no longer be confirmed")

// Service resolves delivered shipments into released (or refunded) escrow:
// buyer confirmation, the timeout sweep and the dispute extension point.
type Service interface {
	OnDeliveredTx(ctx context.Context, tx *gorm.DB, delivery *models.Delivery) error
	ConfirmByBuyer(ctx context.Context, deliveryID uuid.UUID, buyer auth.Actor) (*ConfirmResult, error)
	RunAutoConfirm(ctx context.Context, now time.Time) (SweepResult, error)
	SuspendTimeout(ctx context.Context, input SuspendInput) (*models.Delivery, error)
	ResumeTimeout(ctx context.Context, input ResumeInput) (*models.Delivery, error)
	ResolveDispute(ctx context.Context, input ResolveDisputeInput) (*models.Delivery, error)
}

// ConfirmResult is returned for first and repeated confirmations alike.
type ConfirmResult struct {
	Delivery         *models.Delivery
	AlreadyConfirmed bool
}

type SuspendInput struct {
	DeliveryID uuid.UUID
	Actor      auth.Actor
	Reason     string
}

type ResumeInput struct {
	DeliveryID uuid.UUID
	Actor      auth.Actor
	Note       *string
}

type DisputeOutcome string

const (
	DisputeOutcomeRelease DisputeOutcome = "release"
	DisputeOutcomeRefund  DisputeOutcome = "refund"
)

type ResolveDisputeInput struct {
	DeliveryID uuid.UUID
	Actor      auth.Actor
	Outcome    DisputeOutcome
	Reason     string
}

// Config tunes the confirmation window and sweep paging.
type Config struct {
	GraceWindow time.Duration
	BatchSize   int
	Retry       deliveries.RetryPolicy
}

type service struct {
	repo    deliveries.Repository
	cursors CursorRepository
	tx      txRunner
	escrow  escrowSettler
	outbox  outboxPublisher
	cfg     Config
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(
	repo deliveries.Repository,
	cursors CursorRepository,
	tx txRunner,
	escrowSvc escrowSettler,
	outbox outboxPublisher,
	cfg Config,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deliveries repository required")
	}
	if cursors == nil {
		return nil, fmt.Errorf("cursor repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if escrowSvc == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if cfg.GraceWindow <= 0 {
		return nil, fmt.Errorf("grace window must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:    repo,
		cursors: cursors,
		tx:      tx,
		escrow:  escrowSvc,
		outbox:  outbox,
		cfg:     cfg,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// OnDeliveredTx stamps the auto-confirm deadline in the transaction that
// moved the delivery to DELIVERED.
func (s *service) OnDeliveredTx(ctx context.Context, tx *gorm.DB, delivery *models.Delivery) error {
	if delivery == nil || delivery.DeliveredAt == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "delivered hook requires deliveredAt")
	}
	deadline := delivery.DeliveredAt.Add(s.cfg.GraceWindow).UTC()
	if err := s.repo.WithTx(tx).StampAutoConfirm(ctx, delivery.ID, delivery.Version, deadline); err != nil {
		return wrapRepoErr(err, "stamp auto-confirm deadline")
	}
	delivery.AutoConfirmAt = &deadline

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryDelivered,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   delivery.ID,
		OccurredAt:    *delivery.DeliveredAt,
		Data: payloads.DeliveryDeliveredEvent{
			DeliveryID:    delivery.ID,
			BuyerID:       delivery.BuyerID,
			DeliveredAt:   *delivery.DeliveredAt,
			AutoConfirmAt: deadline,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery delivered")
	}
	return nil
}

func (s *service) ConfirmByBuyer(ctx context.Context, deliveryID uuid.UUID, buyer auth.Actor) (*ConfirmResult, error) {
	if deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	if buyer.Role != enums.ActorRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer may confirm receipt")
	}
	return s.confirm(ctx, confirmRequest{
		deliveryID: deliveryID,
		trigger:    enums.ReleaseTriggerBuyerConfirmed,
		kind:       enums.DeliveryEventBuyerConfirmed,
		actor:      buyer,
		check: func(d *models.Delivery) error {
			if d.BuyerID != buyer.UserID {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
			}
			return nil
		},
	})
}

type confirmRequest struct {
	deliveryID uuid.UUID
	trigger    enums.ReleaseTrigger
	kind       enums.DeliveryEventKind
	actor      auth.Actor
	note       *string
	at         time.Time
	// check runs against the locked row before anything is written.
	check func(d *models.Delivery) error
}

// confirm marks the delivery confirmed and releases escrow in one
// transaction. The buyer_confirmed guard lets exactly one caller win; the
// others observe the confirmed row and report AlreadyConfirmed.
func (s *service) confirm(ctx context.Context, req confirmRequest) (*ConfirmResult, error) {
	var result *ConfirmResult
	err := deliveries.WithStaleRetry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			delivery, err := repo.FindByIDForUpdate(ctx, req.deliveryID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
			}
			if delivery == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
			}
			if req.check != nil {
				if err := req.check(delivery); err != nil {
					return err
				}
			}
			if delivery.BuyerConfirmed {
				result = &ConfirmResult{Delivery: delivery, AlreadyConfirmed: true}
				return nil
			}
			if delivery.Status != enums.DeliveryStatusDelivered {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered shipments can be confirmed")
			}
			if err := s.ensureNotRefunded(ctx, tx, delivery.ID); err != nil {
				return err
			}

			at := req.at
			if at.IsZero() {
				at = s.now()
			}
			version, err := repo.MarkConfirmed(ctx, delivery.ID, delivery.Version, req.trigger, at)
			if err != nil {
				return wrapRepoErr(err, "mark delivery confirmed")
			}
			trigger := req.trigger
			delivery.Version = version
			delivery.BuyerConfirmed = true
			delivery.BuyerConfirmedAt = &at
			delivery.ConfirmationTrigger = &trigger

			if err := repo.AppendEvent(ctx, &models.DeliveryEvent{
				DeliveryID:  delivery.ID,
				Sequence:    version,
				Kind:        req.kind,
				ActorUserID: req.actor.UserIDPtr(),
				ActorRole:   req.actor.Role,
				Note:        req.note,
				CreatedAt:   at,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append confirmation event")
			}

			if _, err := s.escrow.ReleaseTx(ctx, tx, escrow.ReleaseInput{
				Delivery: delivery,
				Trigger:  trigger,
				Actor:    req.actor,
				At:       at,
			}); err != nil {
				return err
			}

			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventDeliveryConfirmed,
				AggregateType: enums.AggregateDelivery,
				AggregateID:   delivery.ID,
				Actor:         req.actor.Ref(),
				OccurredAt:    at,
				Data: payloads.DeliveryConfirmedEvent{
					DeliveryID:  delivery.ID,
					BuyerID:     delivery.BuyerID,
					Trigger:     trigger,
					ConfirmedAt: at,
				},
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery confirmed")
			}
			result = &ConfirmResult{Delivery: delivery}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SuspendTimeout pauses the auto-confirm clock while a dispute is open. The
// owning buyer or an admin may suspend.
func (s *service) SuspendTimeout(ctx context.Context, input SuspendInput) (*models.Delivery, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "suspension reason required")
	}
	return s.mutateWindow(ctx, input.DeliveryID, input.Actor, func(d *models.Delivery, now time.Time) (map[string]any, *models.DeliveryEvent, error) {
		if !input.Actor.IsAdmin() && !(input.Actor.Role == enums.ActorRoleBuyer && d.BuyerID == input.Actor.UserID) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer or an admin may suspend the confirmation timeout")
		}
		if d.TimeoutSuspended {
			return nil, nil, nil
		}
		d.TimeoutSuspended = true
		d.TimeoutSuspendedAt = &now
		return map[string]any{
			"timeout_suspended":    true,
			"timeout_suspended_at": now,
		}, &models.DeliveryEvent{
			Kind:   enums.DeliveryEventTimeoutSuspended,
			Reason: &reason,
		}, nil
	})
}

// ResumeTimeout restarts the clock, pushing the deadline out by however long
// it was suspended.
func (s *service) ResumeTimeout(ctx context.Context, input ResumeInput) (*models.Delivery, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may resume the confirmation timeout")
	}
	return s.mutateWindow(ctx, input.DeliveryID, input.Actor, func(d *models.Delivery, now time.Time) (map[string]any, *models.DeliveryEvent, error) {
		if !d.TimeoutSuspended {
			return nil, nil, nil
		}
		updates := map[string]any{
			"timeout_suspended":    false,
			"timeout_suspended_at": nil,
		}
		if d.AutoConfirmAt != nil && d.TimeoutSuspendedAt != nil {
			paused := now.Sub(*d.TimeoutSuspendedAt)
			if paused < 0 {
				paused = 0
			}
			deadline := d.AutoConfirmAt.Add(paused).UTC()
			updates["auto_confirm_at"] = deadline
			d.AutoConfirmAt = &deadline
		}
		d.TimeoutSuspended = false
		d.TimeoutSuspendedAt = nil
		return updates, &models.DeliveryEvent{
			Kind: enums.DeliveryEventTimeoutResumed,
			Note: input.Note,
		}, nil
	})
}

type windowMutation func(d *models.Delivery, now time.Time) (map[string]any, *models.DeliveryEvent, error)

type afterWrite func(ctx context.Context, tx *gorm.DB, d *models.Delivery) error

// mutateWindow applies a versioned change to an open confirmation window and
// appends its history entry. A mutation returning nil updates is a no-op and
// skips the after hooks.
func (s *service) mutateWindow(ctx context.Context, deliveryID uuid.UUID, actor auth.Actor, mutate windowMutation, after ...afterWrite) (*models.Delivery, error) {
	if deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	var result *models.Delivery
	err := deliveries.WithStaleRetry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			delivery, err := repo.FindByIDForUpdate(ctx, deliveryID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
			}
			if delivery == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
			}
			if delivery.Status != enums.DeliveryStatusDelivered || delivery.BuyerConfirmed {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "confirmation window is not open")
			}
			if err := s.ensureNotRefunded(ctx, tx, delivery.ID); err != nil {
				return err
			}

			now := s.now()
			updates, event, err := mutate(delivery, now)
			if err != nil {
				return err
			}
			if updates == nil {
				result = delivery
				return nil
			}
			version, err := repo.UpdateVersioned(ctx, delivery.ID, delivery.Version, updates)
			if err != nil {
				return wrapRepoErr(err, "update confirmation window")
			}
			delivery.Version = version

			event.DeliveryID = delivery.ID
			event.Sequence = version
			event.ActorUserID = actor.UserIDPtr()
			event.ActorRole = actor.Role
			event.CreatedAt = now
			if err := repo.AppendEvent(ctx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append window event")
			}
			for _, fn := range after {
				if err := fn(ctx, tx, delivery); err != nil {
					return err
				}
			}
			result = delivery
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ResolveDispute closes a dispute either by releasing escrow or by refunding
// the buyer. A refund also clears the deadline so the sweep ignores the row.
func (s *service) ResolveDispute(ctx context.Context, input ResolveDisputeInput) (*models.Delivery, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may resolve disputes")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "resolution reason required")
	}

	switch input.Outcome {
	case DisputeOutcomeRelease:
		res, err := s.confirm(ctx, confirmRequest{
			deliveryID: input.DeliveryID,
			trigger:    enums.ReleaseTriggerDisputeResolved,
			kind:       enums.DeliveryEventDisputeConfirmed,
			actor:      input.Actor,
			note:       &reason,
		})
		if err != nil {
			return nil, err
		}
		return res.Delivery, nil
	case DisputeOutcomeRefund:
		return s.mutateWindow(ctx, input.DeliveryID, input.Actor, func(d *models.Delivery, now time.Time) (map[string]any, *models.DeliveryEvent, error) {
			if d.AutoConfirmAt == nil {
				return nil, nil, nil
			}
			d.TimeoutSuspended = false
			d.TimeoutSuspendedAt = nil
			d.AutoConfirmAt = nil
			return map[string]any{
				"timeout_suspended":    false,
				"timeout_suspended_at": nil,
				"auto_confirm_at":      nil,
			}, &models.DeliveryEvent{
				Kind:   enums.DeliveryEventDisputeRefunded,
				Reason: &reason,
			}, nil
		}, func(ctx context.Context, tx *gorm.DB, d *models.Delivery) error {
			_, err := s.escrow.RefundTx(ctx, tx, escrow.RefundInput{
				Delivery: d,
				Reason:   reason,
				Actor:    input.Actor,
				At:       s.now(),
			})
			return err
		})
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dispute outcome must be release or refund")
	}
}

func (s *service) ensureNotRefunded(ctx context.Context, tx *gorm.DB, deliveryID uuid.UUID) error {
	hold, err := s.escrow.GetByDeliveryTx(ctx, tx, deliveryID)
	if err != nil {
		return err
	}
	if hold.Status == enums.EscrowStatusRefunded {
		return errEscrowRefunded
	}
	return nil
}

func wrapRepoErr(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
