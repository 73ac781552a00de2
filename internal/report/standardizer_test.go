package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/utils"
)

func newTestStandardizer() *Standardizer {
	return NewStandardizer(utils.DiscardLogger())
}

func assertWellFormed(t *testing.T, rep models.AnalysisReport) {
	t.Helper()
	assert.NotEmpty(t, strings.TrimSpace(rep.Summary))
	assert.True(t, rep.Severity.Valid(), "severity %q", rep.Severity)
	assert.NotNil(t, rep.Details)
	assert.NotNil(t, rep.Recommendations)
	assert.NotNil(t, rep.Statistics)
	assert.NotNil(t, rep.Correlations)
	assert.NotNil(t, rep.Metadata)
}

func TestStandardizeNil(t *testing.T) {
	rep := newTestStandardizer().Standardize(nil, models.KindDSAgent)
	assertWellFormed(t, rep)
	assert.Equal(t, "Analysis returned no data", rep.Summary)
	assert.Equal(t, models.SeverityHigh, rep.Severity)
	require.NotEmpty(t, rep.Recommendations)

	var ptr *models.AnalysisReport
	assert.Equal(t, NoDataSummary, newTestStandardizer().Standardize(ptr, models.KindAMSP).Summary)
	assert.Equal(t, NoDataSummary, newTestStandardizer().Standardize("   ", models.KindAMSP).Summary)
}

func TestStandardizeTotality(t *testing.T) {
	inputs := []any{
		nil,
		"",
		"plain text only",
		"{not json",
		[]byte(`{"summary": 3}`),
		42,
		[]int{1, 2},
		make(chan int),
		map[string]any{},
		map[string]any{"severity": "banana"},
		struct{ A string }{"x"},
		"<div><ul><li>one</li></ul></div>",
	}
	s := newTestStandardizer()
	for _, in := range inputs {
		for _, kind := range models.Kinds() {
			assertWellFormed(t, s.Standardize(in, kind))
		}
	}
}

func TestStandardizeMapAliasesAndUnknownKeys(t *testing.T) {
	raw := map[string]any{
		"Conflict Summary":  "Two real-time scanners are active",
		"conflicts":         []any{"McAfee VirusScan filter driver loaded", map[string]any{"product": "Sophos"}},
		"next_steps":        "- Uninstall McAfee\n- Reboot",
		"risk_level":        "HIGH",
		"stats":             map[string]any{"products": 2},
		"scan_engine_build": "12.0.1",
	}
	rep := newTestStandardizer().Standardize(raw, models.KindAVConflict)

	assertWellFormed(t, rep)
	assert.Equal(t, "Two real-time scanners are active", rep.Summary)
	assert.Equal(t, []string{"McAfee VirusScan filter driver loaded", "product: Sophos"}, rep.Details)
	assert.Equal(t, []string{"Uninstall McAfee", "Reboot"}, rep.Recommendations)
	assert.Equal(t, models.SeverityHigh, rep.Severity)
	assert.Equal(t, 2, rep.Statistics["products"])
	assert.Equal(t, "12.0.1", rep.Metadata["scan_engine_build"])
	assert.Equal(t, "av_conflict", rep.Metadata["analysis_kind"])
}

func TestStandardizeMarkdown(t *testing.T) {
	raw := `### Summary
The agent cannot reach the manager.

### Severity
High

### Root Cause
- Port 4120 is blocked by a proxy

### Immediate Actions
1. Allow outbound 4120
2. Force a heartbeat

### Prevention
- Monitor proxy changes

### Extra Notes
- seen twice
`
	rep := newTestStandardizer().Standardize(raw, models.KindDSAgent)
	assertWellFormed(t, rep)
	assert.Equal(t, "The agent cannot reach the manager.", rep.Summary)
	assert.Equal(t, models.SeverityHigh, rep.Severity)
	assert.Equal(t, []string{"Port 4120 is blocked by a proxy"}, rep.Details)
	assert.Equal(t, []string{"Allow outbound 4120", "Force a heartbeat", "Monitor proxy changes"}, rep.Recommendations)
	assert.Equal(t, []string{"seen twice"}, rep.Metadata["section_extra_notes"])
}

func TestStandardizePlainTextInfersSeverity(t *testing.T) {
	rep := newTestStandardizer().Standardize("Scan engine failed to start\nPattern file is corrupt", models.KindAMSP)
	assert.Equal(t, "Scan engine failed to start", rep.Summary)
	assert.Equal(t, []string{"Pattern file is corrupt"}, rep.Details)
	assert.Equal(t, models.SeverityHigh, rep.Severity)
}

func TestStandardizeHTML(t *testing.T) {
	raw := `<div class="summary"><p>Heartbeat failures detected</p></div>
<h3>Recommendations</h3><ul><li>Check proxy settings</li><li>Restart the agent</li></ul>`
	rep := newTestStandardizer().Standardize(raw, models.KindDSAgent)
	assertWellFormed(t, rep)
	assert.Equal(t, "Heartbeat failures detected", rep.Summary)
	assert.Equal(t, []string{"Check proxy settings", "Restart the agent"}, rep.Recommendations)
	assert.Equal(t, "html", rep.Metadata["source_format"])
}

func TestStandardizeReportPassThrough(t *testing.T) {
	in := models.AnalysisReport{Summary: "ok", Severity: models.SeverityMedium}
	rep := newTestStandardizer().Standardize(in, models.KindResource)
	assert.Equal(t, "ok", rep.Summary)
	assert.Equal(t, models.SeverityMedium, rep.Severity)
	assert.NotNil(t, rep.Details)
}

func TestEncodeFormats(t *testing.T) {
	rep := newTestStandardizer().Standardize(nil, models.KindDSAgent)

	var y bytes.Buffer
	require.NoError(t, Encode(&y, rep, "yaml"))
	assert.Contains(t, y.String(), "summary: Analysis returned no data")

	var j bytes.Buffer
	require.NoError(t, Encode(&j, rep, "json"))
	assert.Contains(t, j.String(), `"severity": "high"`)

	assert.Error(t, Encode(&j, rep, "xml"))

	data, err := Marshal(rep)
	require.NoError(t, err)
	back, err := Unmarshal(data, models.KindDSAgent)
	require.NoError(t, err)
	assert.Equal(t, rep.Summary, back.Summary)
	assert.Equal(t, rep.Severity, back.Severity)
}
