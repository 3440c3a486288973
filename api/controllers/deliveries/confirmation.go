package deliveries

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/internal/confirmation"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type confirmationService interface {
	ConfirmByBuyer(ctx context.Context, deliveryID uuid.UUID, buyer auth.Actor) (*confirmation.ConfirmResult, error)
	SuspendTimeout(ctx context.Context, input confirmation.SuspendInput) (*models.Delivery, error)
	ResumeTimeout(ctx context.Context, input confirmation.ResumeInput) (*models.Delivery, error)
	ResolveDispute(ctx context.Context, input confirmation.ResolveDisputeInput) (*models.Delivery, error)
}

type suspendRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type resumeRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type resolveDisputeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=release refund"`
	Reason  string `json:"reason" validate:"required,max=1000"`
}

type confirmResponse struct {
	Delivery         *models.Delivery `json:"delivery"`
	AlreadyConfirmed bool             `json:"already_confirmed"`
}

// Confirm records the buyer's receipt and releases escrow. Repeat calls
// report the earlier confirmation.
func Confirm(svc confirmationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "confirmation service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithDeliveryID(ctx, deliveryID.String())
		}
		result, err := svc.ConfirmByBuyer(ctx, deliveryID, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, confirmResponse{Delivery: result.Delivery, AlreadyConfirmed: result.AlreadyConfirmed})
	}
}

// SuspendTimeout pauses the auto-confirm window while a dispute is open.
func SuspendTimeout(svc confirmationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "confirmation service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body suspendRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.SuspendTimeout(r.Context(), confirmation.SuspendInput{
			DeliveryID: deliveryID,
			Actor:      actor,
			Reason:     validators.SanitizeString(body.Reason, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

func ResumeTimeout(svc confirmationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "confirmation service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body resumeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.ResumeTimeout(r.Context(), confirmation.ResumeInput{
			DeliveryID: deliveryID,
			Actor:      actor,
			Note:       requestctx.OptionalString(body.Note),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}

// ResolveDispute closes a dispute by releasing escrow or refunding the buyer.
func ResolveDispute(svc confirmationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "confirmation service unavailable"))
			return
		}
		actor, deliveryID, err := actorAndDelivery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body resolveDisputeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		delivery, err := svc.ResolveDispute(r.Context(), confirmation.ResolveDisputeInput{
			DeliveryID: deliveryID,
			Actor:      actor,
			Outcome:    confirmation.DisputeOutcome(body.Outcome),
			Reason:     validators.SanitizeString(body.Reason, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, delivery)
	}
}
