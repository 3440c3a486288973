package deliveries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/internal/escrow"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type providerDirectory interface {
	RequireAssignable(ctx context.Context, tx *gorm.DB, providerID uuid.UUID) (*models.Provider, error)
	RequirePartner(ctx context.Context, tx *gorm.DB, providerID, partnerID uuid.UUID) error
	IsActiveStaff(ctx context.Context, tx *gorm.DB, providerID, userID uuid.UUID) (bool, error)
}

type escrowRefunder interface {
	RefundTx(ctx context.Context, tx *gorm.DB, input escrow.RefundInput) (*escrow.RefundResult, error)
}

// DeliveredHook runs inside the transaction that moves a delivery to
// DELIVERED. The confirmation resolver uses it to open the buyer window.
type DeliveredHook interface {
	OnDeliveredTx(ctx context.Context, tx *gorm.DB, delivery *models.Delivery) error
}

// Service drives the delivery state machine and assignment.
type Service interface {
	Transition(ctx context.Context, input TransitionInput) (*models.Delivery, error)
	ForceAdvance(ctx context.Context, input ForceAdvanceInput) (*models.Delivery, error)
	AssignProvider(ctx context.Context, input AssignProviderInput) (*models.Delivery, error)
	AssignPartner(ctx context.Context, input AssignPartnerInput) (*models.Delivery, error)
	Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Delivery, error)
	History(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]models.DeliveryEvent, error)
	List(ctx context.Context, params ListParams) (*pagination.Page[models.Delivery], error)
}

type TransitionInput struct {
	DeliveryID         uuid.UUID
	ToStatus           enums.DeliveryStatus
	Actor              auth.Actor
	Note               *string
	ProofOfDeliveryRef *string
}

type ForceAdvanceInput struct {
	DeliveryID uuid.UUID
	ToStatus   enums.DeliveryStatus
	Actor      auth.Actor
	Reason     string
	Note       *string
}

type ListParams struct {
	Actor      auth.Actor
	OrderID    *uuid.UUID
	ProviderID *uuid.UUID
	Status     *enums.DeliveryStatus
	Tracking   string
	Cursor     string
	Limit      int
}

// RetryPolicy bounds internal retries of optimistic version conflicts.
// Backoff is the first delay; each further retry doubles it up to
// maxStaleBackoff.
type RetryPolicy struct {
	MaxRetries uint64
	Backoff    time.Duration
}

const maxStaleBackoff = time.Second

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Backoff
	if base <= 0 {
		base = 10 * time.Millisecond
	}
	b := retry.WithCappedDuration(maxStaleBackoff, retry.NewExponential(base))
	return retry.WithMaxRetries(p.MaxRetries, b)
}

type service struct {
	repo      Repository
	tx        txRunner
	providers providerDirectory
	refunder  escrowRefunder
	delivered DeliveredHook
	outbox    outboxPublisher
	retry     RetryPolicy
	now       func() time.Time
}

func NewService(
	repo Repository,
	tx txRunner,
	providers providerDirectory,
	refunder escrowRefunder,
	delivered DeliveredHook,
	outbox outboxPublisher,
	retryPolicy RetryPolicy,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("deliveries repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if providers == nil {
		return nil, fmt.Errorf("provider directory required")
	}
	if refunder == nil {
		return nil, fmt.Errorf("escrow refunder required")
	}
	if delivered == nil {
		return nil, fmt.Errorf("delivered hook required")
	}
	if outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		providers: providers,
		refunder:  refunder,
		delivered: delivered,
		outbox:    outbox,
		retry:     retryPolicy,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Delivery, error) {
	return s.move(ctx, moveRequest{
		deliveryID: input.DeliveryID,
		to:         input.ToStatus,
		actor:      input.Actor,
		note:       input.Note,
		proof:      input.ProofOfDeliveryRef,
	})
}

// ForceAdvance permits forward skips along the success path. The reason is
// mandatory and recorded on the history entry.
func (s *service) ForceAdvance(ctx context.Context, input ForceAdvanceInput) (*models.Delivery, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "force advance requires a reason")
	}
	return s.move(ctx, moveRequest{
		deliveryID: input.DeliveryID,
		to:         input.ToStatus,
		actor:      input.Actor,
		note:       input.Note,
		reason:     &reason,
		forced:     true,
	})
}

type moveRequest struct {
	deliveryID uuid.UUID
	to         enums.DeliveryStatus
	actor      auth.Actor
	note       *string
	proof      *string
	reason     *string
	forced     bool
}

func (s *service) move(ctx context.Context, req moveRequest) (*models.Delivery, error) {
	if req.deliveryID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id required")
	}
	if !req.to.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	var result *models.Delivery
	err := s.withStaleRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			delivery, err := s.load(ctx, s.repo.WithTx(tx), req.deliveryID)
			if err != nil {
				return err
			}
			updated, err := s.applyMove(ctx, tx, delivery, req)
			if err != nil {
				return err
			}
			result = updated
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) applyMove(ctx context.Context, tx *gorm.DB, delivery *models.Delivery, req moveRequest) (*models.Delivery, error) {
	from := delivery.Status
	kind := classify(from, req.to)
	switch {
	case kind == moveInvalid:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot move delivery from %s to %s", from, req.to))
	case kind == moveSkip && !req.forced:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("moving from %s to %s skips states and requires a forced advance", from, req.to))
	}

	if err := s.authorizeTransition(ctx, tx, req.actor, delivery, req.to, req.forced); err != nil {
		return nil, err
	}
	if kind == moveNoop {
		return delivery, nil
	}
	if requiresProvider(req.to) && delivery.ProviderID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a provider must be assigned before pickup")
	}

	now := s.now()
	updates := map[string]any{"status": req.to}
	if req.proof != nil {
		updates["proof_of_delivery_ref"] = *req.proof
		delivery.ProofOfDeliveryRef = req.proof
	}
	if req.to == enums.DeliveryStatusDelivered {
		updates["delivered_at"] = now
		delivery.DeliveredAt = &now
	}

	repo := s.repo.WithTx(tx)
	version, err := repo.UpdateVersioned(ctx, delivery.ID, delivery.Version, updates)
	if err != nil {
		return nil, wrapRepoErr(err, "update delivery status")
	}
	delivery.Version = version
	delivery.Status = req.to
	delivery.UpdatedAt = now

	eventKind := enums.DeliveryEventStatusTransition
	if req.forced {
		eventKind = enums.DeliveryEventForcedTransition
	}
	if err := repo.AppendEvent(ctx, &models.DeliveryEvent{
		DeliveryID:  delivery.ID,
		Sequence:    version,
		Kind:        eventKind,
		FromStatus:  &from,
		ToStatus:    &req.to,
		ActorUserID: req.actor.UserIDPtr(),
		ActorRole:   req.actor.Role,
		Note:        req.note,
		Reason:      req.reason,
		CreatedAt:   now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append delivery event")
	}

	switch {
	case req.to == enums.DeliveryStatusDelivered:
		if err := s.delivered.OnDeliveredTx(ctx, tx, delivery); err != nil {
			return nil, err
		}
	case req.to.IsTerminalFailure():
		if _, err := s.refunder.RefundTx(ctx, tx, escrow.RefundInput{
			Delivery: delivery,
			Reason:   refundReason(req),
			Actor:    req.actor,
			At:       now,
		}); err != nil {
			return nil, err
		}
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryStatusChanged,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   delivery.ID,
		Actor:         req.actor.Ref(),
		OccurredAt:    now,
		Data: payloads.DeliveryStatusChangedEvent{
			DeliveryID: delivery.ID,
			OrderID:    delivery.OrderID,
			BuyerID:    delivery.BuyerID,
			StoreID:    delivery.StoreID,
			FromStatus: from,
			ToStatus:   req.to,
			Forced:     req.forced,
			Reason:     req.reason,
			Version:    delivery.Version,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery status change")
	}
	return delivery, nil
}

func refundReason(req moveRequest) string {
	if req.reason != nil {
		return *req.reason
	}
	if req.note != nil && strings.TrimSpace(*req.note) != "" {
		return strings.TrimSpace(*req.note)
	}
	return "delivery " + req.to.String()
}

func (s *service) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Delivery, error) {
	delivery, err := s.load(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, actor, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

func (s *service) History(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]models.DeliveryEvent, error) {
	if _, err := s.Get(ctx, id, actor); err != nil {
		return nil, err
	}
	events, err := s.repo.ListEvents(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivery events")
	}
	return events, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*pagination.Page[models.Delivery], error) {
	query := ListQuery{
		OrderID:    params.OrderID,
		ProviderID: params.ProviderID,
		Status:     params.Status,
		Tracking:   params.Tracking,
		Limit:      params.Limit,
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}

	actor := params.Actor
	switch actor.Role {
	case enums.ActorRoleAdmin:
	case enums.ActorRoleBuyer:
		query.BuyerID = &actor.UserID
	case enums.ActorRolePartner:
		query.PartnerID = &actor.UserID
	case enums.ActorRoleProviderStaff:
		if actor.ProviderID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff token carries no provider")
		}
		if params.ProviderID != nil && *params.ProviderID != *actor.ProviderID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff may only list their provider's deliveries")
		}
		active, err := s.providers.IsActiveStaff(ctx, nil, *actor.ProviderID, actor.UserID)
		if err != nil {
			return nil, err
		}
		if !active {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "staff membership is not active")
		}
		query.ProviderID = actor.ProviderID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "actor may not list deliveries")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
	}
	page := pagination.BuildPage(rows, params.Limit, func(d models.Delivery) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	})
	return &page, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Delivery, error) {
	delivery, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery")
	}
	if delivery == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery not found")
	}
	return delivery, nil
}

// withStaleRetry reruns fn while it fails with a stale version, then
// surfaces the last error.
func (s *service) withStaleRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithStaleRetry(ctx, s.retry, fn)
}

// WithStaleRetry is shared with the confirmation resolver, which writes the
// same rows under the same version guard.
func WithStaleRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if pkgerrors.IsCode(err, pkgerrors.CodeStaleVersion) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func wrapRepoErr(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
