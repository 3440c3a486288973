package query

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

func TestValidateRequest(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		req  types.SettlementQueryRequest
		ok   bool
	}{
		{name: "valid", req: types.SettlementQueryRequest{Start: start, End: start.Add(48 * time.Hour)}, ok: true},
		{name: "missing start", req: types.SettlementQueryRequest{End: start}},
		{name: "inverted", req: types.SettlementQueryRequest{Start: start, End: start.Add(-time.Hour)}},
		{name: "too wide", req: types.SettlementQueryRequest{Start: start, End: start.Add(400 * 24 * time.Hour)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRequest(tc.req)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestScopeClauseAndParams(t *testing.T) {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	req := types.SettlementQueryRequest{Start: start, End: start.Add(time.Hour)}

	if got := scopeClause("`p.d.t`", req); got != allProvidersClause {
		t.Fatalf("unexpected clause for all providers: %s", got)
	}
	if params := baseParams(req); len(params) != 2 {
		t.Fatalf("expected start/end params only, got %d", len(params))
	}

	providerID := uuid.New()
	req.ProviderID = &providerID
	clause := scopeClause("`p.d.t`", req)
	if !strings.Contains(clause, "provider_id = @providerID") || !strings.Contains(clause, "`p.d.t`") {
		t.Fatalf("unexpected provider clause: %s", clause)
	}
	params := baseParams(req)
	if len(params) != 3 || params[2].Name != "providerID" || params[2].Value != providerID.String() {
		t.Fatalf("unexpected provider params: %+v", params)
	}
}

func TestAutoConfirmRate(t *testing.T) {
	if got := AutoConfirmRate(nil); got != 0 {
		t.Fatalf("expected zero rate without releases, got %v", got)
	}
	rate := AutoConfirmRate([]types.LabelValue{
		{Label: "buyer_confirmed", Value: 3},
		{Label: "timeout", Value: 1},
	})
	if rate != 0.25 {
		t.Fatalf("expected 0.25, got %v", rate)
	}
}
