package payouts

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	internalpayouts "github.com/angelmondragon/settlement-engine/internal/payouts"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

type payoutReader interface {
	Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Payout, error)
	List(ctx context.Context, params internalpayouts.ListParams) (*pagination.Page[models.Payout], error)
}

type payoutOperator interface {
	Sweep(ctx context.Context, now time.Time) (*internalpayouts.SweepResult, error)
	Process(ctx context.Context, input internalpayouts.ProcessInput) (*models.Payout, error)
	Complete(ctx context.Context, input internalpayouts.CompleteInput) (*models.Payout, error)
	Fail(ctx context.Context, input internalpayouts.FailInput) (*models.Payout, error)
	Cancel(ctx context.Context, input internalpayouts.CancelInput) (*models.Payout, error)
	ReleaseClaims(ctx context.Context, input internalpayouts.ReleaseClaimsInput) (*internalpayouts.ReleaseClaimsResult, error)
}

type payoutLedgerReader interface {
	ListByPayoutID(ctx context.Context, payoutID uuid.UUID) ([]models.LedgerEvent, error)
}

type processRequest struct {
	Method    string `json:"method" validate:"required,max=64"`
	Reference string `json:"reference" validate:"max=255"`
}

type completeRequest struct {
	Reference string `json:"reference" validate:"required,max=255"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type releaseClaimsResponse struct {
	Payout          *models.Payout `json:"payout"`
	Released        int            `json:"released"`
	AlreadyReleased bool           `json:"already_released"`
}

// List returns payouts. Provider staff only see their own provider.
func List(svc payoutReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
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
		status, err := validators.ParseQueryEnum(r, "status", enums.ParsePayoutStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		providerID, err := requestctx.QueryUUID(r, "provider_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := internalpayouts.ListParams{
			Actor:      actor,
			ProviderID: providerID,
			Status:     status,
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

func Get(svc payoutReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, payoutID, err := actorAndPayout(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Get(r.Context(), payoutID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

// Sweep triggers the payout batching run for the period ending now.
func Sweep(svc payoutOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		result, err := svc.Sweep(r.Context(), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Process(svc payoutOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, payoutID, err := actorAndPayout(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body processRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(body.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		payout, err := svc.Process(r.Context(), internalpayouts.ProcessInput{
			PayoutID:  payoutID,
			Method:    method,
			Reference: strings.TrimSpace(body.Reference),
			Actor:     actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

func Complete(svc payoutOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, payoutID, err := actorAndPayout(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body completeRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Complete(r.Context(), internalpayouts.CompleteInput{
			PayoutID:  payoutID,
			Reference: strings.TrimSpace(body.Reference),
			Actor:     actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

func Fail(svc payoutOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, payoutID, err := actorAndPayout(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body reasonRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Fail(r.Context(), internalpayouts.FailInput{
			PayoutID: payoutID,
			Reason:   validators.SanitizeString(body.Reason, 1000),
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

func Cancel(svc payoutOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, payoutID, err := actorAndPayout(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body reasonRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payout, err := svc.Cancel(r.Context(), internalpayouts.CancelInput{
			PayoutID: payoutID,
			Reason:   validators.SanitizeString(body.Reason, 1000),
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payout)
	}
}

// ReleaseClaims returns a failed or cancelled payout's commissions to the
// unclaimed pool so the next sweep can batch them again.
func ReleaseClaims(svc payoutOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}
		actor, payoutID, err := actorAndPayout(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ReleaseClaims(r.Context(), internalpayouts.ReleaseClaimsInput{
			PayoutID: payoutID,
			Actor:    actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, releaseClaimsResponse{
			Payout:          result.Payout,
			Released:        result.Released,
			AlreadyReleased: result.AlreadyReleased,
		})
	}
}

func Ledger(svc payoutLedgerReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		payoutID, err := requestctx.PathUUID(r, "payoutId", "payout id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events, err := svc.ListByPayoutID(r.Context(), payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, events)
	}
}

func actorAndPayout(r *http.Request) (auth.Actor, uuid.UUID, error) {
	actor, err := requestctx.Actor(r)
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	payoutID, err := requestctx.PathUUID(r, "payoutId", "payout id")
	if err != nil {
		return auth.Actor{}, uuid.Nil, err
	}
	return actor, payoutID, nil
}
