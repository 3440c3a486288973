package outbox

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/controllers/requestctx"
	"github.com/angelmondragon/settlement-engine/api/responses"
	"github.com/angelmondragon/settlement-engine/api/validators"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	pkgoutbox "github.com/angelmondragon/settlement-engine/pkg/outbox"
)

type dlqStore interface {
	List(ctx context.Context, filter pkgoutbox.DLQFilter) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, id uuid.UUID) (*models.OutboxDLQ, error)
}

type dlqListResponse struct {
	Entries    []models.OutboxDLQ `json:"entries"`
	NextBefore *time.Time         `json:"next_before,omitempty"`
}

// ListDLQ returns dead-lettered outbox events, newest failure first. Pass
// next_before back as failed_before to fetch the next page.
func ListDLQ(store dlqStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq store unavailable"))
			return
		}

		filter, err := parseDLQFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := store.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead-lettered events"))
			return
		}

		resp := dlqListResponse{Entries: entries}
		if len(entries) > 0 && len(entries) == filter.Limit {
			last := entries[len(entries)-1].FailedAt
			resp.NextBefore = &last
		}
		responses.WriteSuccess(w, resp)
	}
}

// RequeueDLQ hands a dead-lettered event back to the outbox relay.
func RequeueDLQ(store dlqStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq store unavailable"))
			return
		}
		actor, err := requestctx.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entryID, err := requestctx.PathUUID(r, "entryId", "dlq entry id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := store.Requeue(r.Context(), entryID)
		if errors.Is(err, pkgoutbox.ErrDLQEntryNotFound) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "dlq entry not found"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{
				"dlq_entry_id": entry.ID.String(),
				"event_id":     entry.EventID.String(),
				"event_type":   string(entry.EventType),
				"actor_id":     actor.UserID.String(),
			}), "outbox.dlq.requeued")
		}
		responses.WriteSuccess(w, entry)
	}
}

func parseDLQFilter(r *http.Request) (pkgoutbox.DLQFilter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
	if err != nil {
		return pkgoutbox.DLQFilter{}, err
	}
	eventType, err := validators.ParseQueryEnum(r, "event_type", enums.ParseOutboxEventType)
	if err != nil {
		return pkgoutbox.DLQFilter{}, err
	}
	aggregateID, err := requestctx.QueryUUID(r, "aggregate_id")
	if err != nil {
		return pkgoutbox.DLQFilter{}, err
	}

	filter := pkgoutbox.DLQFilter{
		EventType:   eventType,
		AggregateID: aggregateID,
		Limit:       limit,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("failed_before")); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return pkgoutbox.DLQFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "failed_before must be RFC3339").
				WithDetails(map[string]any{"field": "failed_before"})
		}
		before = before.UTC()
		filter.FailedBefore = &before
	}
	return filter, nil
}
