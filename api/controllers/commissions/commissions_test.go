package commissions

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
	"github.com/angelmondragon/settlement-engine/internal/commission"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type stubAdjuster struct {
	input commission.AdjustInput
	err   error
}

func (s *stubAdjuster) Adjust(ctx context.Context, input commission.AdjustInput) (*models.LedgerEvent, error) {
	s.input = input
	if s.err != nil {
		return nil, s.err
	}
	return &models.LedgerEvent{ID: uuid.New(), Amount: input.Delta}, nil
}

func post(target, body string, handler http.HandlerFunc) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Post("/commissions/{commissionId}/adjustments", handler)

	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req = req.WithContext(middleware.WithActor(req.Context(), auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdjustCreatesLedgerEvent(t *testing.T) {
	svc := &stubAdjuster{}
	commissionID := uuid.New()

	rec := post("/commissions/"+commissionID.String()+"/adjustments", `{"delta":"-2.50","note":"fee correction"}`, Adjust(svc, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.input.CommissionID != commissionID {
		t.Fatalf("expected commission %s got %s", commissionID, svc.input.CommissionID)
	}
	if !svc.input.Delta.Equal(decimal.RequireFromString("-2.5")) {
		t.Fatalf("expected delta -2.5 got %s", svc.input.Delta)
	}
}

func TestAdjustRequiresNote(t *testing.T) {
	rec := post("/commissions/"+uuid.NewString()+"/adjustments", `{"delta":"1.00"}`, Adjust(&stubAdjuster{}, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestAdjustNotFound(t *testing.T) {
	svc := &stubAdjuster{err: pkgerrors.New(pkgerrors.CodeNotFound, "commission not found")}
	rec := post("/commissions/"+uuid.NewString()+"/adjustments", `{"delta":"1.00","note":"x"}`, Adjust(svc, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}
