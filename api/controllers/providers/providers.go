package providers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	internalproviders "github.com/angelmondragon/settlement-engine/internal/providers"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type providerService interface {
	UpsertProvider(ctx context.Context, input internalproviders.UpsertProviderInput) (*models.Provider, error)
	UpsertMember(ctx context.Context, input internalproviders.UpsertMemberInput) (*models.ProviderMember, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Provider, error)
}

type upsertProviderRequest struct {
	Name           string          `json:"name" validate:"required,max=255"`
	Status         string          `json:"status" validate:"required,oneof=active suspended"`
	Verified       bool            `json:"verified"`
	CommissionType string          `json:"commission_type" validate:"required"`
	CommissionRate decimal.Decimal `json:"commission_rate" validate:"gte=0"`
}

type upsertMemberRequest struct {
	Role   string `json:"role" validate:"required"`
	Active *bool  `json:"active" validate:"required"`
}

// UpsertProvider syncs a provider record pushed from user management.
func UpsertProvider(svc providerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provider service unavailable"))
			return
		}
		actor, err := requestctx.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		providerID, err := requestctx.PathUUID(r, "providerId", "provider id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body upsertProviderRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionType, err := enums.ParseCommissionType(strings.TrimSpace(body.CommissionType))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid commission_type"))
			return
		}

		provider, err := svc.UpsertProvider(r.Context(), internalproviders.UpsertProviderInput{
			ID:             providerID,
			Name:           body.Name,
			Status:         enums.ProviderStatus(body.Status),
			Verified:       body.Verified,
			CommissionType: commissionType,
			CommissionRate: body.CommissionRate,
			Actor:          actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, provider)
	}
}

// UpsertMember syncs a provider membership pushed from user management.
func UpsertMember(svc providerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provider service unavailable"))
			return
		}
		actor, err := requestctx.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		providerID, err := requestctx.PathUUID(r, "providerId", "provider id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := requestctx.PathUUID(r, "userId", "user id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body upsertMemberRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		role, err := enums.ParseProviderMemberRole(strings.TrimSpace(body.Role))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid role"))
			return
		}

		member, err := svc.UpsertMember(r.Context(), internalproviders.UpsertMemberInput{
			ProviderID: providerID,
			UserID:     userID,
			Role:       role,
			Active:     *body.Active,
			Actor:      actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, member)
	}
}

func Get(svc providerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provider service unavailable"))
			return
		}
		providerID, err := requestctx.PathUUID(r, "providerId", "provider id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		provider, err := svc.Get(r.Context(), providerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, provider)
	}
}
