package providers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type statsService interface {
	Get(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error)
	Rollup(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error)
}

// Stats returns the provider's last rolled-up settlement figures.
func Stats(svc statsService, logg *logger.Logger) http.HandlerFunc {
	return statsHandler(svc, logg, func(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error) {
		return svc.Get(ctx, providerID, actor)
	})
}

// RollupStats recomputes the provider's figures from commissions and payouts.
func RollupStats(svc statsService, logg *logger.Logger) http.HandlerFunc {
	return statsHandler(svc, logg, func(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error) {
		return svc.Rollup(ctx, providerID, actor)
	})
}

func statsHandler(svc statsService, logg *logger.Logger, load func(context.Context, uuid.UUID, auth.Actor) (*models.ProviderStats, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stats service unavailable"))
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

		stats, err := load(r.Context(), providerID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}
