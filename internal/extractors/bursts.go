package extractors

import (
	"math"
	"sort"
	"time"

	"github.com/logsight/ds-analyzer/internal/models"
)

// ErrorBurst represents a minute whose error volume deviates from the run baseline.
type ErrorBurst struct {
	Minute    time.Time `json:"minute" yaml:"minute"`
	Count     int       `json:"count" yaml:"count"`
	Score     float64   `json:"score" yaml:"score"`
	Component string    `json:"component" yaml:"component"`
}

// BurstDetector spots error volume spikes vs the per-minute median.
type BurstDetector struct {
	threshold float64
}

// NewBurstDetector constructs a detector with the default deviation threshold (3).
func NewBurstDetector() *BurstDetector {
	return &BurstDetector{threshold: 3}
}

type minuteBucket struct {
	minute     time.Time
	count      int
	components map[string]int
}

// Detect buckets warning-or-worse records by minute and flags buckets whose
// count sits far from the median. Records without timestamps are ignored.
func (d *BurstDetector) Detect(records []models.LogRecord) []ErrorBurst {
	buckets := map[int64]*minuteBucket{}
	for _, rec := range records {
		if rec.Timestamp == nil {
			continue
		}
		minute := rec.Timestamp.Truncate(time.Minute)
		b, ok := buckets[minute.Unix()]
		if !ok {
			b = &minuteBucket{minute: minute, components: map[string]int{}}
			buckets[minute.Unix()] = b
		}
		if rec.NormalizedSeverity.Rank() >= models.LevelWarning.Rank() {
			b.count++
			b.components[rec.Component]++
		}
	}
	if len(buckets) < 3 {
		return nil
	}

	ordered := make([]*minuteBucket, 0, len(buckets))
	counts := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].minute.Before(ordered[j].minute) })
	for _, b := range ordered {
		counts = append(counts, float64(b.count))
	}

	median := percentile(counts, 0.5)
	mad := meanAbsoluteDeviation(counts, median)
	if mad == 0 {
		mad = 1
	}

	bursts := make([]ErrorBurst, 0)
	for _, b := range ordered {
		if b.count == 0 {
			continue
		}
		score := math.Abs(float64(b.count)-median) / mad
		if score >= d.threshold && float64(b.count) > median {
			bursts = append(bursts, ErrorBurst{
				Minute:    b.minute,
				Count:     b.count,
				Score:     score,
				Component: dominant(b.components),
			})
		}
	}
	return bursts
}

func dominant(counts map[string]int) string {
	best, bestCount := "", -1
	for name, c := range counts {
		if c > bestCount || (c == bestCount && name < best) {
			best, bestCount = name, c
		}
	}
	return best
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
