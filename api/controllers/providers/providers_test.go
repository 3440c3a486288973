package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/settlement-engine/api/middleware"
	internalproviders "github.com/angelmondragon/settlement-engine/internal/providers"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type stubProviderService struct {
	provider internalproviders.UpsertProviderInput
	member   internalproviders.UpsertMemberInput
}

func (s *stubProviderService) UpsertProvider(ctx context.Context, input internalproviders.UpsertProviderInput) (*models.Provider, error) {
	s.provider = input
	return &models.Provider{ID: input.ID, Name: input.Name}, nil
}

func (s *stubProviderService) UpsertMember(ctx context.Context, input internalproviders.UpsertMemberInput) (*models.ProviderMember, error) {
	s.member = input
	return &models.ProviderMember{ProviderID: input.ProviderID, UserID: input.UserID}, nil
}

func (s *stubProviderService) Get(ctx context.Context, id uuid.UUID) (*models.Provider, error) {
	return &models.Provider{ID: id}, nil
}

type stubStatsService struct {
	err error
}

func (s *stubStatsService) Get(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.ProviderStats{ProviderID: providerID}, nil
}

func (s *stubStatsService) Rollup(ctx context.Context, providerID uuid.UUID, actor auth.Actor) (*models.ProviderStats, error) {
	return &models.ProviderStats{ProviderID: providerID, TotalDeliveries: 4}, nil
}

func serve(method, pattern, target, body string, actor auth.Actor, handler http.HandlerFunc) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.MethodFunc(method, pattern, handler)

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestUpsertProviderParsesPolicy(t *testing.T) {
	svc := &stubProviderService{}
	providerID := uuid.New()
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	body := `{"name":"Fast Couriers","status":"active","verified":true,"commission_type":"percentage","commission_rate":"12.5"}`

	rec := serve(http.MethodPut, "/providers/{providerId}", "/providers/"+providerID.String(), body, admin, UpsertProvider(svc, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.provider.ID != providerID || svc.provider.CommissionType != enums.CommissionTypePercentage {
		t.Fatalf("unexpected input %+v", svc.provider)
	}
	if !svc.provider.CommissionRate.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("expected rate 12.5 got %s", svc.provider.CommissionRate)
	}
}

func TestUpsertProviderRejectsUnknownStatus(t *testing.T) {
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	body := `{"name":"X","status":"paused","commission_type":"fixed","commission_rate":1}`

	rec := serve(http.MethodPut, "/providers/{providerId}", "/providers/"+uuid.NewString(), body, admin, UpsertProvider(&stubProviderService{}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestUpsertMemberRequiresActiveFlag(t *testing.T) {
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	target := "/providers/" + uuid.NewString() + "/members/" + uuid.NewString()

	rec := serve(http.MethodPut, "/providers/{providerId}/members/{userId}", target, `{"role":"partner"}`, admin, UpsertMember(&stubProviderService{}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestUpsertMemberForwardsInput(t *testing.T) {
	svc := &stubProviderService{}
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
	providerID, userID := uuid.New(), uuid.New()
	target := "/providers/" + providerID.String() + "/members/" + userID.String()

	rec := serve(http.MethodPut, "/providers/{providerId}/members/{userId}", target, `{"role":"staff","active":false}`, admin, UpsertMember(svc, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.member.ProviderID != providerID || svc.member.UserID != userID {
		t.Fatalf("unexpected ids %+v", svc.member)
	}
	if svc.member.Role != enums.ProviderMemberRoleStaff || svc.member.Active {
		t.Fatalf("unexpected member input %+v", svc.member)
	}
}

func TestStatsForbidden(t *testing.T) {
	staff := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleProviderStaff}
	svc := &stubStatsService{err: pkgerrors.New(pkgerrors.CodeForbidden, "not your provider")}

	rec := serve(http.MethodGet, "/providers/{providerId}/stats", "/providers/"+uuid.NewString()+"/stats", "", staff, Stats(svc, nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rec.Code)
	}
}

func TestRollupStats(t *testing.T) {
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	rec := serve(http.MethodPost, "/providers/{providerId}/stats/rollup", "/providers/"+uuid.NewString()+"/stats/rollup", "", admin, RollupStats(&stubStatsService{}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
