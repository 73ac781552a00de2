package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					matched = false
				}
			}
			if matched && metric.GetCounter() != nil {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := newRegistry(t)
	if err := Register(reg); err != nil {
		t.Fatalf("second register should be tolerated: %v", err)
	}
}

func TestObserveAnalysisNormalizesOutcome(t *testing.T) {
	reg := newRegistry(t)
	success := map[string]string{"kind": "amsp", "outcome": OutcomeSuccess}
	before := gatherCounter(t, reg, "ds_analyzer_analyses_total", success)

	ObserveAnalysis("amsp", 10*time.Millisecond, "anything")
	ObserveAnalysis("amsp", -time.Second, OutcomeSuccess)

	if got := gatherCounter(t, reg, "ds_analyzer_analyses_total", success) - before; got != 2 {
		t.Fatalf("expected two successes, got %v", got)
	}

	degraded := map[string]string{"kind": "amsp", "outcome": OutcomeDegraded}
	before = gatherCounter(t, reg, "ds_analyzer_analyses_total", degraded)
	ObserveAnalysis("amsp", time.Millisecond, OutcomeDegraded)
	if got := gatherCounter(t, reg, "ds_analyzer_analyses_total", degraded) - before; got != 1 {
		t.Fatalf("expected degraded outcome to be counted, got %v", got)
	}
}

func TestCountersIgnoreNonPositive(t *testing.T) {
	reg := newRegistry(t)
	before := gatherCounter(t, reg, "ds_analyzer_parse_anomalies_total", nil)
	AddParseAnomalies(0)
	AddParseAnomalies(-3)
	AddParseAnomalies(2)
	if got := gatherCounter(t, reg, "ds_analyzer_parse_anomalies_total", nil) - before; got != 2 {
		t.Fatalf("expected 2 parse anomalies, got %v", got)
	}

	AddRecordsParsed("connectivity", 5)
	if got := gatherCounter(t, reg, "ds_analyzer_records_parsed_total", map[string]string{"component_category": "connectivity"}); got < 5 {
		t.Fatalf("expected records counter >= 5, got %v", got)
	}

	failures := gatherCounter(t, reg, "ds_analyzer_completion_failures_total", nil)
	IncCompletionFailures()
	if got := gatherCounter(t, reg, "ds_analyzer_completion_failures_total", nil); got != failures+1 {
		t.Fatalf("expected completion failure counted, got %v", got)
	}
}
