package commissions

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type adjuster interface {
	Adjust(ctx context.Context, input commission.AdjustInput) (*models.LedgerEvent, error)
}

type adjustmentRequest struct {
	Delta decimal.Decimal `json:"delta"`
	Note  string          `json:"note" validate:"required,max=1000"`
}

// Adjust records a signed correction against a commission in the ledger.
func Adjust(svc adjuster, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "commission service unavailable"))
			return
		}
		actor, err := requestctx.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		commissionID, err := requestctx.PathUUID(r, "commissionId", "commission id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body adjustmentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		event, err := svc.Adjust(r.Context(), commission.AdjustInput{
			CommissionID: commissionID,
			Delta:        body.Delta,
			Note:         validators.SanitizeString(body.Note, 1000),
			Actor:        actor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, event)
	}
}
