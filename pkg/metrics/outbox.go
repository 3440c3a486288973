package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics tracks the relay between the outbox table and Pub/Sub.
type OutboxMetrics struct {
	published    *prometheus.CounterVec
	retried      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
	batchRows    prometheus.Histogram
}

// NewOutboxMetrics registers the relay counters on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox rows acknowledged by Pub/Sub, by event type.",
		}, []string{"event_type"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_retries_total",
			Help: "Publish failures left for a later batch, by event type.",
		}, []string{"event_type"}),
		deadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_events_dead_lettered_total",
			Help: "Outbox rows moved to the DLQ, by reason.",
		}, []string{"reason"}),
		batchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_batch_rows",
			Help:    "Rows claimed per relay batch.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
	reg.MustRegister(m.published, m.retried, m.deadLettered, m.batchRows)
	return m
}

func (m *OutboxMetrics) IncPublished(eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

func (m *OutboxMetrics) IncRetried(eventType string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(labelOrUnknown(eventType)).Inc()
}

func (m *OutboxMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLettered == nil {
		return
	}
	m.deadLettered.WithLabelValues(labelOrUnknown(reason)).Inc()
}

// ObserveBatch records how many rows a batch claimed. Empty polls are skipped.
func (m *OutboxMetrics) ObserveBatch(rows int) {
	if m == nil || m.batchRows == nil || rows == 0 {
		return
	}
	m.batchRows.Observe(float64(rows))
}
