package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/middleware"
	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
)

type testAnalyticsService struct {
	calls    int
	actor    auth.Actor
	last     types.SettlementQueryRequest
	response *types.SettlementQueryResponse
	err      error
}

func (s *testAnalyticsService) Query(ctx context.Context, actor auth.Actor, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	s.calls++
	s.actor = actor
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	if s.response == nil {
		s.response = &types.SettlementQueryResponse{}
	}
	return s.response, nil
}

func withActor(req *http.Request, actor auth.Actor) *http.Request {
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func TestSettlementAnalyticsRequiresActor(t *testing.T) {
	stub := &testAnalyticsService{}
	handler := SettlementAnalytics(stub, logger.New(logger.Options{ServiceName: "test"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/settlement", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when actor missing, got %d", resp.Code)
	}
	if stub.calls != 0 {
		t.Fatal("service should not be invoked without an actor")
	}
}

func TestSettlementAnalyticsUsesPreset(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	timeNowUTC = func() time.Time { return now }
	defer func() { timeNowUTC = func() time.Time { return time.Now().UTC() } }()

	stub := &testAnalyticsService{
		response: &types.SettlementQueryResponse{
			ReleasesSeries: []types.TimeSeriesPoint{{Date: "2026-03-09", Value: 3}},
		},
	}
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	handler := SettlementAnalytics(stub, nil)
	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/analytics/settlement?preset=7d", nil), admin)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if got := stub.last.End.Sub(stub.last.Start); got != 7*24*time.Hour {
		t.Fatalf("expected 7d range, got %v", got)
	}
	if stub.last.ProviderID != nil {
		t.Fatalf("expected no provider filter")
	}

	var envelope struct {
		Data types.SettlementQueryResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.ReleasesSeries) == 0 || envelope.Data.ReleasesSeries[0].Value != 3 {
		t.Fatalf("unexpected releases: %+v", envelope.Data.ReleasesSeries)
	}
}

func TestSettlementAnalyticsExplicitRange(t *testing.T) {
	stub := &testAnalyticsService{}
	providerID := uuid.New()
	staff := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleProviderStaff, ProviderID: &providerID}

	target := "/api/v1/analytics/settlement?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z&provider_id=" + providerID.String()
	req := withActor(httptest.NewRequest(http.MethodGet, target, nil), staff)
	resp := httptest.NewRecorder()
	SettlementAnalytics(stub, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if stub.last.ProviderID == nil || *stub.last.ProviderID != providerID {
		t.Fatalf("expected provider filter %s", providerID)
	}
	if !stub.last.Start.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", stub.last.Start)
	}
}

func TestSettlementAnalyticsRejectsHalfRange(t *testing.T) {
	stub := &testAnalyticsService{}
	admin := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}

	req := withActor(httptest.NewRequest(http.MethodGet, "/api/v1/analytics/settlement?from=2026-01-01T00:00:00Z", nil), admin)
	resp := httptest.NewRecorder()
	SettlementAnalytics(stub, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if stub.calls != 0 {
		t.Fatal("service should not be invoked on invalid range")
	}
}
