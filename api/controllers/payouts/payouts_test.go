package payouts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/api/middleware"
	internalpayouts "github.com/angelmondragon/settlement-engine/internal/payouts"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
	"github.com/angelmondragon/settlement-engine/pkg/pagination"
)

type stubPayoutService struct {
	list    func(ctx context.Context, params internalpayouts.ListParams) (*pagination.Page[models.Payout], error)
	process func(ctx context.Context, input internalpayouts.ProcessInput) (*models.Payout, error)
	release func(ctx context.Context, input internalpayouts.ReleaseClaimsInput) (*internalpayouts.ReleaseClaimsResult, error)
}

func (s *stubPayoutService) Get(ctx context.Context, id uuid.UUID, actor auth.Actor) (*models.Payout, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout not found")
}

func (s *stubPayoutService) List(ctx context.Context, params internalpayouts.ListParams) (*pagination.Page[models.Payout], error) {
	return s.list(ctx, params)
}

func (s *stubPayoutService) Sweep(ctx context.Context, now time.Time) (*internalpayouts.SweepResult, error) {
	return &internalpayouts.SweepResult{Created: 2}, nil
}

func (s *stubPayoutService) Process(ctx context.Context, input internalpayouts.ProcessInput) (*models.Payout, error) {
	return s.process(ctx, input)
}

func (s *stubPayoutService) Complete(ctx context.Context, input internalpayouts.CompleteInput) (*models.Payout, error) {
	panic("not implemented")
}

func (s *stubPayoutService) Fail(ctx context.Context, input internalpayouts.FailInput) (*models.Payout, error) {
	panic("not implemented")
}

func (s *stubPayoutService) Cancel(ctx context.Context, input internalpayouts.CancelInput) (*models.Payout, error) {
	panic("not implemented")
}

func (s *stubPayoutService) ReleaseClaims(ctx context.Context, input internalpayouts.ReleaseClaimsInput) (*internalpayouts.ReleaseClaimsResult, error) {
	return s.release(ctx, input)
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

func adminActor() auth.Actor {
	return auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}
}

func TestListParsesStatusFilter(t *testing.T) {
	var captured internalpayouts.ListParams
	svc := &stubPayoutService{
		list: func(ctx context.Context, params internalpayouts.ListParams) (*pagination.Page[models.Payout], error) {
			captured = params
			return &pagination.Page[models.Payout]{}, nil
		},
	}

	rec := serve(http.MethodGet, "/payouts", "/payouts?status=processing", "", adminActor(), List(svc, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured.Status == nil || *captured.Status != enums.PayoutStatusProcessing {
		t.Fatalf("expected processing filter got %v", captured.Status)
	}
	if captured.Limit != pagination.DefaultLimit {
		t.Fatalf("expected default limit got %d", captured.Limit)
	}
}

func TestListRejectsOversizedLimit(t *testing.T) {
	rec := serve(http.MethodGet, "/payouts", "/payouts?limit=100000", "", adminActor(), List(&stubPayoutService{}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestGetNotFound(t *testing.T) {
	rec := serve(http.MethodGet, "/payouts/{payoutId}", "/payouts/"+uuid.NewString(), "", adminActor(), Get(&stubPayoutService{}, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestProcessRequiresMethod(t *testing.T) {
	svc := &stubPayoutService{
		process: func(ctx context.Context, input internalpayouts.ProcessInput) (*models.Payout, error) {
			t.Fatalf("service should not be called")
			return nil, nil
		},
	}
	rec := serve(http.MethodPost, "/payouts/{payoutId}/process", "/payouts/"+uuid.NewString()+"/process", `{"reference":"r"}`, adminActor(), Process(svc, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestProcessForwardsInput(t *testing.T) {
	payoutID := uuid.New()
	var captured internalpayouts.ProcessInput
	svc := &stubPayoutService{
		process: func(ctx context.Context, input internalpayouts.ProcessInput) (*models.Payout, error) {
			captured = input
			return &models.Payout{ID: input.PayoutID, Status: enums.PayoutStatusProcessing}, nil
		},
	}
	rec := serve(http.MethodPost, "/payouts/{payoutId}/process", "/payouts/"+payoutID.String()+"/process", `{"method":"ach","reference":" batch-7 "}`, adminActor(), Process(svc, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if captured.PayoutID != payoutID || captured.Method != "ach" || captured.Reference != "batch-7" {
		t.Fatalf("unexpected input %+v", captured)
	}
}

func TestReleaseClaimsResponse(t *testing.T) {
	svc := &stubPayoutService{
		release: func(ctx context.Context, input internalpayouts.ReleaseClaimsInput) (*internalpayouts.ReleaseClaimsResult, error) {
			return &internalpayouts.ReleaseClaimsResult{Payout: &models.Payout{ID: input.PayoutID}, Released: 3}, nil
		},
	}
	rec := serve(http.MethodPost, "/payouts/{payoutId}/release-claims", "/payouts/"+uuid.NewString()+"/release-claims", "", adminActor(), ReleaseClaims(svc, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	var payload struct {
		Data struct {
			Released        int  `json:"released"`
			AlreadyReleased bool `json:"already_released"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Data.Released != 3 || payload.Data.AlreadyReleased {
		t.Fatalf("unexpected payload %+v", payload.Data)
	}
}

func TestSweepReturnsResult(t *testing.T) {
	rec := serve(http.MethodPost, "/payouts/sweep", "/payouts/sweep", "", adminActor(), Sweep(&stubPayoutService{}, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
}
