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

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "rentflow_cron_job_success_total", "job", job); err != nil {
		t.Fatalf("fetch success: %v", err)
	} else if got != 1 {
		t.Fatalf("expected success=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "rentflow_cron_job_failure_total", "job", job); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "rentflow_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var cron *CronJobMetrics
	cron.ObserveDuration("x", time.Second)
	cron.IncSuccess("x")
	cron.IncFailure("x")

	var coord *CoordinatorMetrics
	coord.IncReservation("ok")
	coord.IncVersionConflict()
	coord.IncPricingCache("hit")
	coord.IncOffer("accepted")

	unregistered := NewCoordinatorMetrics(nil)
	unregistered.IncOffer("accepted")
}

func TestCoordinatorMetricsExportCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCoordinatorMetrics(reg)
	m.IncReservation("insufficient_inventory")
	m.IncReservation("insufficient_inventory")
	m.IncOffer("")
	m.IncPricingCache("miss")
	m.IncVersionConflict()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "rentflow_inventory_reservations_total", "result", "insufficient_inventory"); err != nil || got != 2 {
		t.Fatalf("expected 2 insufficient reservations, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "rentflow_assignment_offers_total", "outcome", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected empty outcome normalized to unknown, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "rentflow_pricing_rule_cache_total", "result", "miss"); err != nil || got != 1 {
		t.Fatalf("expected one cache miss, got %f err=%v", got, err)
	}
	mf := findMetricFamily(mfs, "rentflow_inventory_version_conflicts_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one version conflict")
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

func TestHTTPMetricsExportRequests(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.Observe("POST", "/api/v1/reservations", 201, 10*time.Millisecond)
	m.Observe("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "rentflow_http_requests_total", "route", "/api/v1/reservations"); err != nil || got != 1 {
		t.Fatalf("expected one reservation request, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "rentflow_http_requests_total", "route", "unmatched"); err != nil || got != 1 {
		t.Fatalf("expected unmatched route label, got %f err=%v", got, err)
	}

	var noop *HTTPMetrics
	noop.Observe("GET", "/", 200, time.Second)
}
