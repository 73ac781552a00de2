package engine

import (
	"math"
	"sort"

	"github.com/logsight/ds-analyzer/internal/extractors"
	"github.com/logsight/ds-analyzer/internal/models"
)

// HealthConfig carries the status thresholds and issue weights.
type HealthConfig struct {
	HealthyThreshold  float64
	DegradedThreshold float64
	BenignWeight      float64
	Weights           SeverityWeights
}

// SeverityWeights is the per-issue weight by severity. Low applies to
// low-severity records that were still flagged as anomalies.
type SeverityWeights struct {
	Critical float64
	High     float64
	Medium   float64
	Low      float64
}

// DefaultHealthConfig mirrors the configuration defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		HealthyThreshold:  90,
		DegradedThreshold: 60,
		BenignWeight:      0.25,
		Weights:           SeverityWeights{Critical: 3, High: 2, Medium: 1, Low: 0.5},
	}
}

func (w SeverityWeights) of(s models.Severity) float64 {
	switch s {
	case models.SeverityCritical:
		return w.Critical
	case models.SeverityHigh:
		return w.High
	case models.SeverityMedium:
		return w.Medium
	default:
		return w.Low
	}
}

// HealthAggregator rolls per-record results into per-component health.
type HealthAggregator struct {
	cfg HealthConfig
}

// NewHealthAggregator constructs an aggregator.
func NewHealthAggregator(cfg HealthConfig) *HealthAggregator {
	return &HealthAggregator{cfg: cfg}
}

// IsIssue reports whether a scored record counts against its component.
func IsIssue(res models.AnomalyResult) bool {
	return res.IsAnomaly || res.Severity.Rank() >= models.SeverityMedium.Rank()
}

// Aggregate groups records by component. results must be index-aligned with
// records; missing results count as clean low-severity entries.
func (a *HealthAggregator) Aggregate(records []models.LogRecord, results []models.AnomalyResult) map[string]models.ComponentHealth {
	type acc struct {
		health   models.ComponentHealth
		weighted float64
	}
	byComponent := make(map[string]*acc)
	for i, rec := range records {
		entry, ok := byComponent[rec.Component]
		if !ok {
			entry = &acc{health: models.ComponentHealth{
				Component:   rec.Component,
				Category:    extractors.Categorize(rec.Component),
				MaxSeverity: models.SeverityLow,
			}}
			byComponent[rec.Component] = entry
		}
		entry.health.TotalEntries++

		var res models.AnomalyResult
		if i < len(results) {
			res = results[i]
		}
		if res.IsAnomaly {
			entry.health.AnomalyCount++
		}
		if !IsIssue(res) {
			continue
		}
		entry.health.IssueCount++
		entry.health.MaxSeverity = models.MaxSeverity(entry.health.MaxSeverity, res.Severity)
		weight := a.cfg.Weights.of(res.Severity)
		if res.Benign {
			weight *= a.cfg.BenignWeight
		}
		entry.weighted += weight
		if rec.Timestamp != nil && (entry.health.FirstIssue == nil || rec.Timestamp.Before(*entry.health.FirstIssue)) {
			ts := *rec.Timestamp
			entry.health.FirstIssue = &ts
		}
	}

	out := make(map[string]models.ComponentHealth, len(byComponent))
	for name, entry := range byComponent {
		if entry.health.TotalEntries == 0 {
			continue
		}
		rate := 100 * entry.weighted / float64(entry.health.TotalEntries)
		entry.health.HealthScore = round2(math.Max(0, 100-rate))
		entry.health.Status = a.Status(entry.health.HealthScore)
		out[name] = entry.health
	}
	return out
}

// Status maps a health score onto healthy/degraded/failed.
func (a *HealthAggregator) Status(score float64) models.HealthStatus {
	switch {
	case score >= a.cfg.HealthyThreshold:
		return models.StatusHealthy
	case score >= a.cfg.DegradedThreshold:
		return models.StatusDegraded
	default:
		return models.StatusFailed
	}
}

// SortedHealth orders components worst-first, then by name.
func SortedHealth(health map[string]models.ComponentHealth) []models.ComponentHealth {
	out := make([]models.ComponentHealth, 0, len(health))
	for _, h := range health {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HealthScore != out[j].HealthScore {
			return out[i].HealthScore < out[j].HealthScore
		}
		return out[i].Component < out[j].Component
	})
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
