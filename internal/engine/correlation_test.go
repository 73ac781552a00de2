package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/utils"
)

func TestCorrelationLeaderPrecedesFollower(t *testing.T) {
	base := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	records := []models.LogRecord{
		rec("dsa.Connection", base),
		rec("dsa.Heartbeat", base.Add(30*time.Second)),
		rec("dsa.Connection", base.Add(2*time.Minute)),
		rec("dsa.Heartbeat", base.Add(150*time.Second)),
		rec("dsa.Heartbeat", base.Add(3*time.Minute)),
	}
	issue := models.AnomalyResult{IsAnomaly: true, Severity: models.SeverityHigh}
	results := []models.AnomalyResult{issue, issue, issue, issue, issue}

	res := NewCorrelationEngine(utils.DiscardLogger(), 5*time.Minute).Evaluate(records, results)
	require.Len(t, res.Correlations, 1)
	c := res.Correlations[0]
	assert.Equal(t, "dsa.Connection", c.Leader)
	assert.Equal(t, "dsa.Heartbeat", c.Follower)
	assert.Equal(t, 30*time.Second, c.Lag)
	assert.Equal(t, 3, c.Supporting)
	assert.Equal(t, 1.0, c.Score)
	require.Len(t, res.Notes, 1)
}

func TestCorrelationIgnoresBenignAndClean(t *testing.T) {
	base := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	records := []models.LogRecord{rec("AMSP", base), rec("dsa.Heartbeat", base.Add(time.Second))}
	results := []models.AnomalyResult{
		{Severity: models.SeverityCritical, Benign: true},
		{Severity: models.SeverityHigh, IsAnomaly: true},
	}
	res := NewCorrelationEngine(nil, 0).Evaluate(records, results)
	assert.Empty(t, res.Correlations)
}

func TestCorrelationWindow(t *testing.T) {
	base := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	records := []models.LogRecord{rec("a", base), rec("b", base.Add(10*time.Minute))}
	issue := models.AnomalyResult{IsAnomaly: true, Severity: models.SeverityHigh}
	res := NewCorrelationEngine(nil, time.Minute).Evaluate(records, []models.AnomalyResult{issue, issue})
	assert.Empty(t, res.Correlations)
}
