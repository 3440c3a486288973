package deliveries

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	internaldeliveries "github.com/angelmondragon/settlement-engine/internal/deliveries"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

type deliveryReader interface {
	Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Delivery, error)
	History(ctx context.Context, id uuid.UUID, actor auth.Actor) ([]models.DeliveryEvent, error)
	List(ctx context.Context, params internaldeliveries.ListParams) (*pagination.Page[models.Delivery], error)
}

type deliveryMover interface {
	Transition(ctx context.Context, input internaldeliveries.TransitionInput) (*models.Delivery, error)
	ForceAdvance(ctx context.Context, input internaldeliveries.ForceAdvanceInput) (*models.Delivery, error)
	AssignProvider(ctx context.Context, input internaldeliveries.AssignProviderInput) (*models.Delivery, error)
	AssignPartner(ctx context.Context, input internaldeliveries.AssignPartnerInput) (*models.Delivery, error)
}

type transitionRequest struct {
	ToStatus           string `json:"to_status" validate:"required"`
	Note               string `json:"note" validate:"max=1000"`
	ProofOfDeliveryRef string `json:"proof_of_delivery_ref" validate:"max=512"`
}

type forceAdvanceRequest struct {
	ToStatus string `json:"to_status" validate:"required"`
	Reason   string `json:"reason" validate:"required,max=1000"`
	Note     string `json:"note" validate:"max=1000"`
}

type assignProviderRequest struct {
	ProviderID string `json:"provider_id" validate:"required,uuid"`
}

type assignPartnerRequest struct {
	PartnerID string `json:"partner_id" validate:"required,uuid"`
}

// List returns the deliveries visible to the caller, newest first.
func List(svc deliveryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, err := requestctx.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := validators.ParsePageQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseDeliveryStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := requestctx.QueryUUID(r, "order_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		providerID, err := requestctx.QueryUUID(r, "provider_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := internaldeliveries.ListParams{
			Actor:      actor,
			OrderID:    orderID,
			ProviderID: providerID,
			Status:     status,
			Tracking:   strings.TrimSpace(r.URL.Query().Get("tracking")),
			Cursor:     page.Cursor,
			Limit:      page.Limit,
		}

		result, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Get returns a single delivery when the caller may view it.
func Get(svc deliveryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.Get(r.Context(), deliveryID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// History returns the ordered lifecycle events of a delivery.
func History(svc deliveryReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.History(r.Context(), deliveryID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, events)
	}
}

// Transition moves a delivery one step along its lifecycle.
func Transition(svc deliveryMover, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseDeliveryStatus(strings.TrimSpace(body.ToStatus))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to_status"))
			return
		}

		delivery, err := svc.Transition(r.Context(), internaldeliveries.TransitionInput{
			DeliveryID:         deliveryID,
			ToStatus:           target,
			Actor:              actor,
			Note:               requestctx.OptionalString(body.Note),
			ProofOfDeliveryRef: requestctx.OptionalString(body.ProofOfDeliveryRef),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// ForceAdvance lets an admin skip the transition table with a recorded reason.
func ForceAdvance(svc deliveryMover, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body forceAdvanceRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		target, err := enums.ParseDeliveryStatus(strings.TrimSpace(body.ToStatus))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to_status"))
			return
		}

		delivery, err := svc.ForceAdvance(r.Context(), internaldeliveries.ForceAdvanceInput{
			DeliveryID: deliveryID,
			ToStatus:   target,
			Actor:      actor,
			Reason:     validators.SanitizeString(body.Reason, 1000),
			Note:       requestctx.OptionalString(body.Note),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

func AssignProvider(svc deliveryMover, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body assignProviderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		providerID, err := uuid.Parse(body.ProviderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid provider_id"))
			return
		}

		delivery, err := svc.AssignProvider(r.Context(), internaldeliveries.AssignProviderInput{
			DeliveryID: deliveryID,
			ProviderID: providerID,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

func AssignPartner(svc deliveryMover, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "delivery service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body assignPartnerRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		partnerID, err := uuid.Parse(body.PartnerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid partner_id"))
			return
		}

		delivery, err := svc.AssignPartner(r.Context(), internaldeliveries.AssignPartnerInput{
			DeliveryID: deliveryID,
			PartnerID:  partnerID,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

func actorAndDelivery(r *http.Request) (auth.Actor, uuid.UUID, error) {
	actor, err := requestctx.Actor(r)
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	deliveryID, err := requestctx.PathUUID(r, "deliveryId", "delivery id")
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	return actor, deliveryID, nil
}
