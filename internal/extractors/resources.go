package extractors

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/logsight/ds-analyzer/internal/models"
)

// ResourceReading is a numeric resource figure pulled out of a message.
type ResourceReading struct {
	Line      int     `json:"line" yaml:"line"`
	Component string  `json:"component" yaml:"component"`
	Metric    string  `json:"metric" yaml:"metric"`
	Value     float64 `json:"value" yaml:"value"`
	Unit      string  `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// ResourceSpike captures an anomalous resource reading.
type ResourceSpike struct {
	Reading   ResourceReading `json:"reading" yaml:"reading"`
	Score     float64         `json:"score" yaml:"score"`
	Threshold float64         `json:"threshold" yaml:"threshold"`
}

var reResource = regexp.MustCompile(`(?i)\b(cpu|memory|mem|disk|handles?|threads?)\b(?:\s+(?:usage|utilization|used|load|count))?\s*[=:]?\s*(?:is\s+|at\s+)?(\d+(?:\.\d+)?)\s*(%|kb|mb|gb)?`)

// ResourceExtractor detects resource readings far above the run mean using a
// z-score, and treats any utilisation at or above 90% as a spike.
type ResourceExtractor struct{}

// NewResourceExtractor creates a resource reading detector.
func NewResourceExtractor() *ResourceExtractor {
	return &ResourceExtractor{}
}

// Readings extracts every resource figure from records in input order.
func (e *ResourceExtractor) Readings(records []models.LogRecord) []ResourceReading {
	var out []ResourceReading
	for _, rec := range records {
		for _, m := range reResource.FindAllStringSubmatch(rec.Message, -1) {
			value, err := strconv.ParseFloat(m[2], 64)
			if err != nil {
				continue
			}
			out = append(out, ResourceReading{
				Line:      rec.Line,
				Component: rec.Component,
				Metric:    canonicalMetric(m[1]),
				Value:     value,
				Unit:      strings.ToLower(m[3]),
			})
		}
	}
	return out
}

// Detect finds readings whose z-score within their metric exceeds threshold.
func (e *ResourceExtractor) Detect(readings []ResourceReading, threshold float64) []ResourceSpike {
	if len(readings) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = 2.5
	}

	byMetric := map[string][]float64{}
	for _, r := range readings {
		byMetric[r.Metric] = append(byMetric[r.Metric], r.Value)
	}
	type moments struct{ mean, std float64 }
	stats := make(map[string]moments, len(byMetric))
	for metric, values := range byMetric {
		m := mean(values)
		std := stdDev(values, m)
		if std == 0 {
			std = 0.01
		}
		stats[metric] = moments{mean: m, std: std}
	}

	spikes := make([]ResourceSpike, 0)
	for _, r := range readings {
		s := stats[r.Metric]
		score := (r.Value - s.mean) / s.std
		if len(byMetric[r.Metric]) < 3 {
			score = 0
		}
		if score >= threshold || (r.Unit == "%" && r.Value >= 90) {
			spikes = append(spikes, ResourceSpike{Reading: r, Score: score, Threshold: threshold})
		}
	}
	return spikes
}

func canonicalMetric(raw string) string {
	switch lower := strings.ToLower(raw); {
	case lower == "mem":
		return "memory"
	case strings.HasPrefix(lower, "handle"):
		return "handles"
	case strings.HasPrefix(lower, "thread"):
		return "threads"
	default:
		return lower
	}
}

func mean(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	sum := 0.0
	for _, v := range values {
		diff := v - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(values)))
}
