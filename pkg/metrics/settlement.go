package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// SettlementMetrics tracks money movement outcomes.
type SettlementMetrics struct {
	releases       *prometheus.CounterVec
	refunds        prometheus.Counter
	releaseNoops   *prometheus.CounterVec
	payoutsCreated prometheus.Counter
	claimed        prometheus.Counter
	claimedAmount  prometheus.Counter
}

// NewSettlementMetrics registers settlement counters on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_releases_total",
			Help: "Escrow holds released, by trigger.",
		}, []string{"trigger"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escrow_refunds_total",
			Help: "Escrow holds refunded.",
		}),
		releaseNoops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escrow_release_noops_total",
			Help: "Release attempts that found the hold already settled, by trigger.",
		}, []string{"trigger"}),
		payoutsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payouts_created_total",
			Help: "Payout batches created by sweeps.",
		}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payout_commissions_claimed_total",
			Help: "Commission rows claimed into payouts.",
		}),
		claimedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payout_claimed_amount_total",
			Help: "Sum of commission amounts claimed into payouts.",
		}),
	}
	reg.MustRegister(m.releases, m.refunds, m.releaseNoops, m.payoutsCreated, m.claimed, m.claimedAmount)
	return m
}

// IncRelease counts a successful release.
func (m *SettlementMetrics) IncRelease(trigger string) {
	if m == nil || m.releases == nil {
		return
	}
	m.releases.WithLabelValues(labelOrUnknown(trigger)).Inc()
}

// IncReleaseNoop counts a release attempt that lost the race or arrived late.
func (m *SettlementMetrics) IncReleaseNoop(trigger string) {
	if m == nil || m.releaseNoops == nil {
		return
	}
	m.releaseNoops.WithLabelValues(labelOrUnknown(trigger)).Inc()
}

// IncRefund counts a refunded hold.
func (m *SettlementMetrics) IncRefund() {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.Inc()
}

// ObservePayout records a created payout and its claim set.
func (m *SettlementMetrics) ObservePayout(count int, amount decimal.Decimal) {
	if m == nil || m.payoutsCreated == nil {
		return
	}
	m.payoutsCreated.Inc()
	m.claimed.Add(float64(count))
	m.claimedAmount.Add(amount.InexactFloat64())
}
