package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "test-job"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)
	metrics.IncSkipped("payout-sweep")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	for _, outcome := range []string{outcomeSuccess, outcomeFailure} {
		got, err := fetchCounterValue(mfs, "cron_job_runs_total", "outcome", outcome)
		if err != nil || got != 1 {
			t.Fatalf("expected one %s run, got %f err=%v", outcome, got, err)
		}
	}

	if got, err := fetchCounterValue(mfs, "cron_cycle_skipped_total", "schedule", "payout-sweep"); err != nil {
		t.Fatalf("fetch skipped: %v", err)
	} else if got != 1 {
		t.Fatalf("expected skipped=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestSettlementMetricsCountReleasesByTrigger(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.IncRelease("timeout")
	m.IncRelease("timeout")
	m.IncReleaseNoop("buyer_confirmed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "escrow_releases_total", "trigger", "timeout"); err != nil || got != 2 {
		t.Fatalf("expected 2 timeout releases, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "escrow_release_noops_total", "trigger", "buyer_confirmed"); err != nil || got != 1 {
		t.Fatalf("expected 1 noop, got %f err=%v", got, err)
	}
}

func TestHTTPMetricsLabelByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("POST", "/api/v1/deliveries/{deliveryId}/confirm", 200, 40*time.Millisecond)
	m.ObserveRequest("POST", "/api/v1/deliveries/{deliveryId}/confirm", 422, 10*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "http_requests_total", "status", "422"); err != nil || got != 1 {
		t.Fatalf("expected one 422, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "http_requests_total", "route", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected unmatched route bucket, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "http_request_duration_seconds", "route", "/api/v1/deliveries/{deliveryId}/confirm"); err != nil || got <= 0 {
		t.Fatalf("expected latency sum, got %f err=%v", got, err)
	}
}

func TestOutboxMetricsCountByEventType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("escrow_released")
	m.IncRetried("")
	m.IncDeadLettered("max_attempts")
	m.ObserveBatch(12)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_published_total", "event_type", "escrow_released"); err != nil || got != 1 {
		t.Fatalf("published: %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_publish_retries_total", "event_type", "unknown"); err != nil || got != 1 {
		t.Fatalf("retried: %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_dead_lettered_total", "reason", "max_attempts"); err != nil || got != 1 {
		t.Fatalf("dead lettered: %f err=%v", got, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var cron *CronJobMetrics
	cron.IncSuccess("job")
	cron.IncSkipped("schedule")

	var api *HTTPMetrics
	api.ObserveRequest("GET", "/health/live", 200, time.Millisecond)

	var settlement *SettlementMetrics
	settlement.IncRelease("timeout")
	settlement.IncRefund()
}
