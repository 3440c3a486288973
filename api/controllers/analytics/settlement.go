package analytics

import (
	"context"
	"net/http"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type settlementQuerier interface {
	Query(ctx context.Context, actor auth.Actor, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error)
}

// SettlementAnalytics serves release, commission and payout KPIs from BigQuery.
func SettlementAnalytics(service settlementQuerier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if service == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "analytics unavailable"))
			return
		}
		actor, err := requestctx.Actor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		start, end, err := resolveRange(r, timeNowUTC())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		providerID, err := requestctx.QueryUUID(r, "provider_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := service.Query(ctx, actor, types.SettlementQueryRequest{
			ProviderID: providerID,
			Start:      start,
			End:        end,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
