package deliveries

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/payloads"
)

type AssignProviderInput struct {
	DeliveryID uuid.UUID
	ProviderID uuid.UUID
	Actor      auth.Actor
}

type AssignPartnerInput struct {
	DeliveryID uuid.UUID
	PartnerID  uuid.UUID
	Actor      auth.Actor
}

// AssignProvider hands a delivery to a provider. Changing provider clears the
// partner, who belonged to the previous provider.
func (s *service) AssignProvider(ctx context.Context, input AssignProviderInput) (*models.Delivery, error) {
	if !input.Actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins may assign providers")
	}
	if input.DeliveryID == uuid.Nil || input.ProviderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id and provider id required")
	}

	var result *models.Delivery
	err := s.withStaleRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			delivery, err := s.load(ctx, repo, input.DeliveryID)
			if err != nil {
				return err
			}
			if delivery.Status.IsTerminal() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery is already in a terminal state")
			}
			if delivery.ProviderID != nil && *delivery.ProviderID == input.ProviderID {
				result = delivery
				return nil
			}
			if _, err := s.providers.RequireAssignable(ctx, tx, input.ProviderID); err != nil {
				return err
			}

			previous := delivery.ProviderID
			providerID := input.ProviderID
			updates := map[string]any{"provider_id": providerID, "partner_id": nil}
			if err := s.recordAssignment(ctx, tx, delivery, updates, enums.DeliveryEventProviderAssigned, previous, providerID, input.Actor); err != nil {
				return err
			}
			delivery.ProviderID = &providerID
			delivery.PartnerID = nil
			result = delivery
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) AssignPartner(ctx context.Context, input AssignPartnerInput) (*models.Delivery, error) {
	if input.DeliveryID == uuid.Nil || input.PartnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery id and partner id required")
	}

	var result *models.Delivery
	err := s.withStaleRetry(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			delivery, err := s.load(ctx, repo, input.DeliveryID)
			if err != nil {
				return err
			}
			if delivery.Status.IsTerminal() {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "delivery is already in a terminal state")
			}
			if delivery.ProviderID == nil {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "assign a provider before assigning a partner")
			}
			if err := s.authorizePartnerAssignment(ctx, tx, input.Actor, delivery); err != nil {
				return err
			}
			if delivery.PartnerID != nil && *delivery.PartnerID == input.PartnerID {
				result = delivery
				return nil
			}
			if err := s.providers.RequirePartner(ctx, tx, *delivery.ProviderID, input.PartnerID); err != nil {
				return err
			}

			previous := delivery.PartnerID
			partnerID := input.PartnerID
			updates := map[string]any{"partner_id": partnerID}
			if err := s.recordAssignment(ctx, tx, delivery, updates, enums.DeliveryEventPartnerAssigned, previous, partnerID, input.Actor); err != nil {
				return err
			}
			delivery.PartnerID = &partnerID
			result = delivery
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) recordAssignment(
	ctx context.Context,
	tx *gorm.DB,
	delivery *models.Delivery,
	updates map[string]any,
	kind enums.DeliveryEventKind,
	previous *uuid.UUID,
	next uuid.UUID,
	actor auth.Actor,
) error {
	repo := s.repo.WithTx(tx)
	version, err := repo.UpdateVersioned(ctx, delivery.ID, delivery.Version, updates)
	if err != nil {
		return wrapRepoErr(err, "update delivery assignment")
	}
	delivery.Version = version

	now := s.now()
	if err := repo.AppendEvent(ctx, &models.DeliveryEvent{
		DeliveryID:         delivery.ID,
		Sequence:           version,
		Kind:               kind,
		ActorUserID:        actor.UserIDPtr(),
		ActorRole:          actor.Role,
		PreviousAssigneeID: previous,
		NewAssigneeID:      &next,
		CreatedAt:          now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append assignment event")
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventDeliveryAssigned,
		AggregateType: enums.AggregateDelivery,
		AggregateID:   delivery.ID,
		Actor:         actor.Ref(),
		OccurredAt:    now,
		Data: payloads.DeliveryAssignedEvent{
			DeliveryID:         delivery.ID,
			Kind:               kind,
			PreviousAssigneeID: previous,
			NewAssigneeID:      next,
		},
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit delivery assigned")
	}
	return nil
}
