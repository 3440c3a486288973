package analytics

import (
	"context"
	"fmt"

	"github.com/angelmondragon/settlement-engine/internal/analytics/query"
	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/auth"
	"github.com/angelmondragon/settlement-engine/pkg/bigquery"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// Service provides settlement reports based on exported outbox events.
type Service interface {
	// Query returns settlement KPIs for the provided request. Provider staff
	// are pinned to their own provider.
	Query(ctx context.Context, actor auth.Actor, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error)
}

type service struct {
	settlement query.SettlementService
}

// NewService builds an analytics service backed by BigQuery.
func NewService(client *bigquery.Client, table string) (Service, error) {
	if client == nil {
		return nil, fmt.Errorf("bigquery client required")
	}

	settlement, err := query.NewSettlementService(client, table)
	if err != nil {
		return nil, err
	}

	return &service{settlement: settlement}, nil
}

func (s *service) Query(ctx context.Context, actor auth.Actor, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	switch {
	case actor.IsAdmin():
	case actor.Role == enums.ActorRoleProviderStaff && actor.ProviderID != nil:
		if req.ProviderID != nil && *req.ProviderID != *actor.ProviderID {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "analytics limited to own provider")
		}
		providerID := *actor.ProviderID
		req.ProviderID = &providerID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "analytics not available for role")
	}
	return s.settlement.Query(ctx, req)
}
