package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analyses that produced a complete report.
	OutcomeSuccess = "success"
	// OutcomeDegraded labels analyses whose expert narrative was unavailable.
	OutcomeDegraded = "degraded"
	// OutcomeError labels analyses that could not run (invalid request, cancelled).
	OutcomeError = "error"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ds_analyzer",
			Name:      "analyses_total",
			Help:      "Total number of analyses handled, partitioned by analyzer kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ds_analyzer",
			Name:      "analysis_seconds",
			Help:      "End-to-end analysis latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	recordsParsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ds_analyzer",
			Name:      "records_parsed_total",
			Help:      "Log records normalized, partitioned by component category.",
		},
		[]string{"component_category"},
	)

	parseAnomaliesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ds_analyzer",
			Name:      "parse_anomalies_total",
			Help:      "Lines that matched no pattern or carried a level outside the lookup table.",
		},
	)

	completionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ds_analyzer",
			Name:      "completion_failures_total",
			Help:      "Completion service calls that failed or timed out.",
		},
	)
)

// Register attaches ds-analyzer collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		recordsParsedTotal,
		parseAnomaliesTotal,
		completionFailuresTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnalysis records an analysis duration with kind and outcome labels.
func ObserveAnalysis(kind string, duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError && label != OutcomeDegraded {
		label = OutcomeSuccess
	}
	analysesTotal.WithLabelValues(kind, label).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// AddRecordsParsed counts normalized records for one component category.
func AddRecordsParsed(category string, n int) {
	if n <= 0 {
		return
	}
	recordsParsedTotal.WithLabelValues(category).Add(float64(n))
}

// AddParseAnomalies counts unmatched lines and out-of-table levels.
func AddParseAnomalies(n int) {
	if n <= 0 {
		return
	}
	parseAnomaliesTotal.Add(float64(n))
}

// IncCompletionFailures counts one failed completion call.
func IncCompletionFailures() {
	completionFailuresTotal.Inc()
}
