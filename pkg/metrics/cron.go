package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// CronJobMetrics covers the scheduled sweeps run by the cron worker.
type CronJobMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job executions, by job and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Wall time of one cron job execution.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_cycle_skipped_total",
			Help: "Schedule cycles skipped because another instance held the lock.",
		}, []string{"schedule"}),
	}
	reg.MustRegister(m.runs, m.duration, m.skipped)
	return m
}

func (m *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(labelOrUnknown(job)).Observe(d.Seconds())
}

func (m *CronJobMetrics) IncSuccess(job string) {
	m.incRun(job, outcomeSuccess)
}

func (m *CronJobMetrics) IncFailure(job string) {
	m.incRun(job, outcomeFailure)
}

func (m *CronJobMetrics) incRun(job, outcome string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(labelOrUnknown(job), outcome).Inc()
}

// IncSkipped counts a cycle that lost the single-instance lock.
func (m *CronJobMetrics) IncSkipped(schedule string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(labelOrUnknown(schedule)).Inc()
}

func labelOrUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
