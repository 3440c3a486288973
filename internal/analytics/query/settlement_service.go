package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	cloudbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/angelmondragon/settlement-engine/internal/analytics/types"
	"github.com/angelmondragon/settlement-engine/pkg/bigquery"
	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

// maxWindow bounds a single dashboard query.
const maxWindow = 366 * 24 * time.Hour

const (
	dailyCountSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(occurred_at)) AS day,
  COUNT(*) AS value
FROM %s
WHERE %s
  AND event_type = '%s'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	dailyCentsSQL = `
SELECT
  FORMAT_DATE('%%F', DATE(occurred_at)) AS day,
  SUM(COALESCE(amount_cents, 0)) AS value
FROM %s
WHERE %s
  AND event_type = '%s'
  AND occurred_at BETWEEN @start AND @end
GROUP BY day
ORDER BY day ASC
`

	releasesByTriggerSQL = `
SELECT trigger AS label, COUNT(*) AS value
FROM %s
WHERE %s
  AND event_type = 'escrow_released'
  AND trigger IS NOT NULL
  AND occurred_at BETWEEN @start AND @end
GROUP BY trigger
ORDER BY value DESC
`

	payoutsByStatusSQL = `
SELECT status AS label, COUNT(DISTINCT payout_id) AS value
FROM %s
WHERE %s
  AND event_type IN ('payout_created', 'payout_status_changed')
  AND status IS NOT NULL
  AND occurred_at BETWEEN @start AND @end
GROUP BY status
ORDER BY value DESC
`
)

const (
	allProvidersClause = "TRUE"
	// Escrow rows carry no provider, so they are scoped through the
	// commission recorded for the same delivery.
	providerClauseTemplate = `(provider_id = @providerID OR delivery_id IN (
  SELECT delivery_id FROM %s
  WHERE event_type = 'commission_recorded' AND provider_id = @providerID
))`
)

// SettlementService provides dashboard data from the settlement_events table.
type SettlementService interface {
	Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error)
}

type settlementService struct {
	client   *bigquery.Client
	tableRef string
}

// NewSettlementService builds a service backed by BigQuery.
func NewSettlementService(client *bigquery.Client, table string) (SettlementService, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if table == "" {
		return nil, errors.New("settlement table required")
	}
	return &settlementService{
		client:   client,
		tableRef: client.TableRef(table),
	}, nil
}

func (s *settlementService) Query(ctx context.Context, req types.SettlementQueryRequest) (*types.SettlementQueryResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	scope := scopeClause(s.tableRef, req)
	params := baseParams(req)

	releases, err := s.querySeries(ctx, fmt.Sprintf(dailyCountSQL, s.tableRef, scope, "escrow_released"), params)
	if err != nil {
		return nil, err
	}
	released, err := s.querySeries(ctx, fmt.Sprintf(dailyCentsSQL, s.tableRef, scope, "escrow_released"), params)
	if err != nil {
		return nil, err
	}
	commission, err := s.querySeries(ctx, fmt.Sprintf(dailyCentsSQL, s.tableRef, scope, "commission_recorded"), params)
	if err != nil {
		return nil, err
	}
	refunds, err := s.querySeries(ctx, fmt.Sprintf(dailyCountSQL, s.tableRef, scope, "escrow_refunded"), params)
	if err != nil {
		return nil, err
	}
	byTrigger, err := s.queryLabels(ctx, fmt.Sprintf(releasesByTriggerSQL, s.tableRef, scope), params)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.queryLabels(ctx, fmt.Sprintf(payoutsByStatusSQL, s.tableRef, scope), params)
	if err != nil {
		return nil, err
	}

	return &types.SettlementQueryResponse{
		ReleasesSeries:        releases,
		ReleasedCentsSeries:   released,
		CommissionCentsSeries: commission,
		RefundsSeries:         refunds,
		ReleasesByTrigger:     byTrigger,
		PayoutsByStatus:       byStatus,
		AutoConfirmRate:       AutoConfirmRate(byTrigger),
	}, nil
}

// ValidateRequest checks the query window.
func ValidateRequest(req types.SettlementQueryRequest) error {
	if req.Start.IsZero() || req.End.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "start and end are required")
	}
	if req.End.Before(req.Start) {
		return pkgerrors.New(pkgerrors.CodeValidation, "end must be after start")
	}
	if req.End.Sub(req.Start) > maxWindow {
		return pkgerrors.New(pkgerrors.CodeValidation, "window must not exceed 366 days")
	}
	return nil
}

// AutoConfirmRate is the share of releases triggered by the confirmation timeout.
func AutoConfirmRate(byTrigger []types.LabelValue) float64 {
	var total, timeouts int64
	for _, lv := range byTrigger {
		total += lv.Value
		if lv.Label == "timeout" {
			timeouts += lv.Value
		}
	}
	if total == 0 {
		return 0
	}
	return float64(timeouts) / float64(total)
}

func scopeClause(tableRef string, req types.SettlementQueryRequest) string {
	if req.ProviderID == nil {
		return allProvidersClause
	}
	return fmt.Sprintf(providerClauseTemplate, tableRef)
}

func baseParams(req types.SettlementQueryRequest) []cloudbigquery.QueryParameter {
	params := []cloudbigquery.QueryParameter{
		{Name: "start", Value: req.Start.UTC()},
		{Name: "end", Value: req.End.UTC()},
	}
	if req.ProviderID != nil {
		params = append(params, cloudbigquery.QueryParameter{Name: "providerID", Value: req.ProviderID.String()})
	}
	return params
}

func (s *settlementService) querySeries(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.TimeSeriesPoint, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	points := []types.TimeSeriesPoint{}
	for {
		var row struct {
			Day   string `bigquery:"day"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("reading series row: %w", err)
		}
		points = append(points, types.TimeSeriesPoint{Date: row.Day, Value: row.Value})
	}
	return points, nil
}

func (s *settlementService) queryLabels(ctx context.Context, sql string, params []cloudbigquery.QueryParameter) ([]types.LabelValue, error) {
	iter, err := s.client.Query(ctx, sql, params)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}

	result := []types.LabelValue{}
	for {
		var row struct {
			Label string `bigquery:"label"`
			Value int64  `bigquery:"value"`
		}
		if err := iter.Next(&row); err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("reading label row: %w", err)
		}
		result = append(result, types.LabelValue{Label: row.Label, Value: row.Value})
	}
	return result, nil
}
