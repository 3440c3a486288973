package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

type fakeSettlementService struct {
	calls    int
	lastReq  types.SettlementQueryRequest
	response *types.SettlementQueryResponse
	err      error
}

func (f *fakeSettlementService) Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response == nil {
		f.response = &types.SettlementQueryResponse{}
	}
	return f.response, nil
}

func window() types.SettlementQueryRequest {
	now := time.Now().UTC()
	return types.SettlementQueryRequest{Start: now.Add(-24 * time.Hour), End: now}
}

func TestServiceQueryAdminForwardsRequest(t *testing.T) {
	fake := &fakeSettlementService{}
	srv := &service{settlement: fake}
	req := window()

	resp, err := srv.Query(context.Background(), auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleAdmin}, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != fake.response {
		t.Fatalf("expected response to be forwarded")
	}
	if fake.lastReq.ProviderID != nil {
		t.Fatalf("expected admin query across providers")
	}
	if !fake.lastReq.Start.Equal(req.Start) || !fake.lastReq.End.Equal(req.End) {
		t.Fatalf("unexpected request window: %v - %v", fake.lastReq.Start, fake.lastReq.End)
	}
}

func TestServiceQueryPinsStaffToProvider(t *testing.T) {
	fake := &fakeSettlementService{}
	srv := &service{settlement: fake}
	providerID := uuid.New()
	staff := auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleProviderStaff, ProviderID: &providerID}

	if _, err := srv.Query(context.Background(), staff, window()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.lastReq.ProviderID == nil || *fake.lastReq.ProviderID != providerID {
		t.Fatalf("expected staff query pinned to provider, got %v", fake.lastReq.ProviderID)
	}

	other := uuid.New()
	req := window()
	req.ProviderID = &other
	_, err := srv.Query(context.Background(), staff, req)
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden for other provider, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected forbidden query to skip BigQuery, got %d calls", fake.calls)
	}
}

func TestServiceQueryRejectsBuyer(t *testing.T) {
	fake := &fakeSettlementService{}
	srv := &service{settlement: fake}
	_, err := srv.Query(context.Background(), auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleBuyer}, window())
	if !pkgerrors.IsCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestServiceQueryPropagatesError(t *testing.T) {
	want := errors.New("query failed")
	fake := &fakeSettlementService{err: want}
	srv := &service{settlement: fake}

	resp, err := srv.Query(context.Background(), auth.Actor{Role: enums.ActorRoleAdmin}, window())
	if err != want {
		t.Fatalf("expected error %v, got %v", want, err)
	}
	if resp != nil {
		t.Fatalf("expected nil response on error")
	}
}
