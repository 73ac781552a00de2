package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
)

func rec(component string, ts time.Time) models.LogRecord {
	return models.LogRecord{Component: component, Timestamp: &ts, Message: "m", NormalizedSeverity: models.LevelInfo}
}

func TestAggregateHealthyComponent(t *testing.T) {
	now := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	records := []models.LogRecord{rec("dsa.Heartbeat", now), rec("dsa.Heartbeat", now)}
	results := []models.AnomalyResult{{Severity: models.SeverityLow}, {Severity: models.SeverityLow}}

	health := NewHealthAggregator(DefaultHealthConfig()).Aggregate(records, results)
	require.Len(t, health, 1)
	h := health["dsa.Heartbeat"]
	assert.Equal(t, 2, h.TotalEntries)
	assert.Equal(t, 0, h.IssueCount)
	assert.Equal(t, 100.0, h.HealthScore)
	assert.Equal(t, models.StatusHealthy, h.Status)
	assert.Equal(t, models.CategoryConnectivity, h.Category)
	assert.Nil(t, h.FirstIssue)
}

func TestAggregateWeightsSeverityAndBenign(t *testing.T) {
	now := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	records := make([]models.LogRecord, 0, 20)
	results := make([]models.AnomalyResult, 0, 20)
	for i := 0; i < 20; i++ {
		records = append(records, rec("AMSP", now.Add(time.Duration(i)*time.Second)))
		results = append(results, models.AnomalyResult{Severity: models.SeverityLow})
	}
	// one high issue: weight 2 over 20 entries -> 10 points
	results[3] = models.AnomalyResult{Severity: models.SeverityHigh, IsAnomaly: true}
	// one benign critical: weight 3 * 0.25 over 20 entries -> 3.75 points
	results[5] = models.AnomalyResult{Severity: models.SeverityCritical, Benign: true}

	h := NewHealthAggregator(DefaultHealthConfig()).Aggregate(records, results)["AMSP"]
	assert.Equal(t, 2, h.IssueCount)
	assert.Equal(t, 1, h.AnomalyCount)
	assert.InDelta(t, 86.25, h.HealthScore, 1e-9)
	assert.Equal(t, models.StatusDegraded, h.Status)
	assert.Equal(t, models.SeverityCritical, h.MaxSeverity)
	require.NotNil(t, h.FirstIssue)
	assert.Equal(t, now.Add(3*time.Second), *h.FirstIssue)
}

func TestAggregateFailedAndClamped(t *testing.T) {
	now := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	records := []models.LogRecord{rec("dsa.Command", now)}
	results := []models.AnomalyResult{{Severity: models.SeverityCritical, IsAnomaly: true}}
	h := NewHealthAggregator(DefaultHealthConfig()).Aggregate(records, results)["dsa.Command"]
	assert.Equal(t, 0.0, h.HealthScore)
	assert.Equal(t, models.StatusFailed, h.Status)
}

func TestAggregateTotalCoverage(t *testing.T) {
	records, vectors := parseLines(t,
		heartbeatLine,
		"garbage line",
		"2025-07-25 00:03:48.000000 [+0100]: [Cmd/2] Command failed | dsa.Command",
		heartbeatLine,
	)
	results := newTestScorer().Score(records, vectors)
	health := NewHealthAggregator(DefaultHealthConfig()).Aggregate(records, results)

	total := 0
	for _, h := range health {
		total += h.TotalEntries
	}
	assert.Equal(t, len(records), total)
	assert.Contains(t, health, models.UnknownComponent)
}

func TestStatusThresholdsAreConfigurable(t *testing.T) {
	cfg := DefaultHealthConfig()
	cfg.HealthyThreshold = 95
	cfg.DegradedThreshold = 80
	agg := NewHealthAggregator(cfg)
	assert.Equal(t, models.StatusHealthy, agg.Status(95))
	assert.Equal(t, models.StatusDegraded, agg.Status(90))
	assert.Equal(t, models.StatusFailed, agg.Status(79.99))
}

func TestSortedHealthWorstFirst(t *testing.T) {
	sorted := SortedHealth(map[string]models.ComponentHealth{
		"b": {Component: "b", HealthScore: 100},
		"a": {Component: "a", HealthScore: 40},
		"c": {Component: "c", HealthScore: 100},
	})
	require.Len(t, sorted, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{sorted[0].Component, sorted[1].Component, sorted[2].Component})
}
