package extractors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
)

func TestBurstDetectorDetect(t *testing.T) {
	detector := NewBurstDetector()

	start := time.Date(2025, 7, 25, 8, 0, 0, 0, time.UTC)
	records := make([]models.LogRecord, 0)
	for minute := 0; minute < 6; minute++ {
		errors := 1
		if minute == 4 {
			errors = 20
		}
		for i := 0; i < errors; i++ {
			ts := start.Add(time.Duration(minute)*time.Minute + time.Duration(i)*time.Second)
			records = append(records, models.LogRecord{Timestamp: &ts, Component: "AMSP", NormalizedSeverity: models.LevelError, Message: "scan failed"})
		}
	}

	bursts := detector.Detect(records)
	require.Len(t, bursts, 1)
	assert.Equal(t, 20, bursts[0].Count)
	assert.Equal(t, "AMSP", bursts[0].Component)
}

func TestBurstDetectorNeedsTimestamps(t *testing.T) {
	records := []models.LogRecord{{Component: "x", NormalizedSeverity: models.LevelError, Message: "m"}}
	assert.Empty(t, NewBurstDetector().Detect(records))
}

func TestResourceExtractorDetect(t *testing.T) {
	extractor := NewResourceExtractor()
	records := []models.LogRecord{
		{Line: 1, Component: "dsa.Perf", Message: "CPU usage 12%"},
		{Line: 2, Component: "dsa.Perf", Message: "CPU usage 14%"},
		{Line: 3, Component: "dsa.Perf", Message: "cpu usage: 97% memory=512 MB"},
	}

	readings := extractor.Readings(records)
	require.Len(t, readings, 4)
	assert.Equal(t, "memory", readings[3].Metric)
	assert.Equal(t, "mb", readings[3].Unit)

	spikes := extractor.Detect(readings, 0)
	require.Len(t, spikes, 1)
	assert.Equal(t, 3, spikes[0].Reading.Line)
}
