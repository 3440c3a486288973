package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/middleware"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgoutbox "github.com/angelmondragon/settlement-engine/pkg/outbox"
)

type stubDLQStore struct {
	filter  pkgoutbox.DLQFilter
	entries []models.OutboxDLQ
	requeue func(id uuid.UUID) (*models.OutboxDLQ, error)
}

func (s *stubDLQStore) List(ctx context.Context, filter pkgoutbox.DLQFilter) ([]models.OutboxDLQ, error) {
	s.filter = filter
	return s.entries, nil
}

func (s *stubDLQStore) Requeue(ctx context.Context, id uuid.UUID) (*models.OutboxDLQ, error) {
	return s.requeue(id)
}

func serve(method, pattern, target string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.MethodFunc(method, pattern, handler)

	req := httptest.NewRequest(method, target, nil)
	req = req.WithContext(middleware.WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListDLQParsesFilters(t *testing.T) {
	failedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &stubDLQStore{entries: []models.OutboxDLQ{
		{ID: uuid.New(), EventType: enums.EventEscrowReleased, FailedAt: failedAt},
		{ID: uuid.New(), EventType: enums.EventEscrowReleased, FailedAt: failedAt.Add(-time.Minute)},
	}}

	rec := serve(http.MethodGet, "/dlq", "/dlq?event_type=Escrow_Released&limit=2&failed_before=2026-03-02T00:00:00Z", ListDLQ(store, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.filter.EventType == nil || *store.filter.EventType != enums.EventEscrowReleased {
		t.Fatalf("expected event type filter, got %+v", store.filter.EventType)
	}
	if store.filter.Limit != 2 || store.filter.FailedBefore == nil {
		t.Fatalf("unexpected filter %+v", store.filter)
	}

	var body struct {
		Data dlqListResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.NextBefore == nil || !body.Data.NextBefore.Equal(failedAt.Add(-time.Minute)) {
		t.Fatalf("expected next_before at last entry, got %v", body.Data.NextBefore)
	}
}

func TestListDLQRejectsBadTimestamp(t *testing.T) {
	rec := serve(http.MethodGet, "/dlq", "/dlq?failed_before=yesterday", ListDLQ(&stubDLQStore{}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRequeueDLQMapsMissingEntry(t *testing.T) {
	store := &stubDLQStore{requeue: func(uuid.UUID) (*models.OutboxDLQ, error) {
		return nil, pkgoutbox.ErrDLQEntryNotFound
	}}
	rec := serve(http.MethodPost, "/dlq/{entryId}/requeue", "/dlq/"+uuid.NewString()+"/requeue", RequeueDLQ(store, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequeueDLQReturnsEntry(t *testing.T) {
	id := uuid.New()
	store := &stubDLQStore{requeue: func(got uuid.UUID) (*models.OutboxDLQ, error) {
		return &models.OutboxDLQ{ID: got, EventID: uuid.New(), EventType: enums.EventPayoutCreated}, nil
	}}
	rec := serve(http.MethodPost, "/dlq/{entryId}/requeue", "/dlq/"+id.String()+"/requeue", RequeueDLQ(store, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDLQHandlersWithoutStore(t *testing.T) {
	rec := serve(http.MethodGet, "/dlq", "/dlq", ListDLQ(nil, nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
