package types

import (
	"time"

	"github.com/google/uuid"
)

// SettlementQueryRequest scopes a settlement KPI query. A nil ProviderID
// covers every provider.
type SettlementQueryRequest struct {
	ProviderID *uuid.UUID
	Start      time.Time
	End        time.Time
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// LabelValue is a grouped count such as releases per trigger.
type LabelValue struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// SettlementQueryResponse wraps the settlement KPIs for the admin dashboard.
type SettlementQueryResponse struct {
	ReleasesSeries        []TimeSeriesPoint `json:"releases"`
	ReleasedCentsSeries   []TimeSeriesPoint `json:"released_cents"`
	CommissionCentsSeries []TimeSeriesPoint `json:"commission_cents"`
	RefundsSeries         []TimeSeriesPoint `json:"refunds"`
	ReleasesByTrigger     []LabelValue      `json:"releases_by_trigger"`
	PayoutsByStatus       []LabelValue      `json:"payouts_by_status"`
	AutoConfirmRate       float64           `json:"auto_confirm_rate"`
}
