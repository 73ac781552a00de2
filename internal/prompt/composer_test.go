package prompt

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
)

var sectionOrder = []string{"# [", "## Log Context", "## ML Intelligence", "## Component Health", "## Retrieved Knowledge", "## Instructions"}

func assertSectionOrder(t *testing.T, out string) {
	t.Helper()
	last := -1
	for _, header := range sectionOrder {
		idx := strings.Index(out, header)
		require.GreaterOrEqual(t, idx, 0, "missing %q", header)
		assert.Greater(t, idx, last, "section %q out of order", header)
		last = idx
	}
}

func healthy() []models.ComponentHealth {
	return []models.ComponentHealth{{Component: "dsa.Heartbeat", Category: models.CategoryConnectivity, TotalEntries: 10, HealthScore: 100, Status: models.StatusHealthy, MaxSeverity: models.SeverityLow}}
}

func TestComposeEmptyKnowledge(t *testing.T) {
	out := NewComposer(24000).Compose(
		LogContext{Kind: models.KindDSAgent, TotalRecords: 1, ParsedRecords: 1},
		MLResults{Health: healthy()},
		nil,
	)
	require.NotEmpty(t, out)
	assertSectionOrder(t, out)
	assert.Contains(t, strings.ToLower(out), "no additional knowledge found")
	assert.Contains(t, out, "[STANDARD PRIORITY]")
	assert.Contains(t, out, "### Root Cause")
	assert.Contains(t, out, "### Immediate Actions")
	assert.Contains(t, out, "### Prevention")
}

func TestPriorityOf(t *testing.T) {
	cases := []struct {
		name string
		ml   MLResults
		want Priority
	}{
		{"standard", MLResults{Health: healthy()}, PriorityStandard},
		{"medium anomaly", MLResults{AnomalyCount: 1, Anomalies: []AnomalyLine{{Severity: models.SeverityLow}}}, PriorityMedium},
		{"medium warnings", MLResults{Health: []models.ComponentHealth{{Status: models.StatusHealthy, IssueCount: 1}}}, PriorityMedium},
		{"high anomaly", MLResults{AnomalyCount: 1, Anomalies: []AnomalyLine{{Severity: models.SeverityHigh}}}, PriorityHigh},
		{"degraded", MLResults{Health: []models.ComponentHealth{{Status: models.StatusDegraded}}}, PriorityHigh},
		{"critical", MLResults{AnomalyCount: 1, Anomalies: []AnomalyLine{{Severity: models.SeverityCritical}}}, PriorityEmergency},
		{"failed", MLResults{Health: []models.ComponentHealth{{Status: models.StatusFailed}}}, PriorityEmergency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PriorityOf(tc.ml))
		})
	}
}

func TestComposeEmergencyKeepsAllSections(t *testing.T) {
	ml := MLResults{
		Statistical:  true,
		AnomalyCount: 1,
		Anomalies:    []AnomalyLine{{Line: 4, Component: "AMSP", Severity: models.SeverityCritical, Score: 0.81, Message: "engine crash"}},
		Health:       []models.ComponentHealth{{Component: "AMSP", Category: models.CategoryAntiMalware, TotalEntries: 4, IssueCount: 4, HealthScore: 0, Status: models.StatusFailed, MaxSeverity: models.SeverityCritical}},
	}
	knowledge := []models.RetrievalResult{{Chunk: models.KnowledgeChunk{SourceID: "amsp", SectionTitle: "AMSP start failures", Text: "Reinstall the engine."}, Score: 0.9}}
	out := NewComposer(24000).Compose(LogContext{Kind: models.KindAMSP}, ml, knowledge)

	assertSectionOrder(t, out)
	assert.Contains(t, out, "[EMERGENCY PRIORITY]")
	assert.Contains(t, out, "FOCUS: AMSP (failed, 0%)")
	assert.Contains(t, out, "### [1] AMSP start failures (source amsp, relevance 0.90)")
	assert.NotContains(t, out, NoKnowledgeNote)
}

func TestComposeTruncatesKnowledgeFirst(t *testing.T) {
	knowledge := make([]models.RetrievalResult, 0, 6)
	for i := 0; i < 6; i++ {
		knowledge = append(knowledge, models.RetrievalResult{
			Chunk: models.KnowledgeChunk{SourceID: string(rune('a' + i)), SectionTitle: "Passage", Text: strings.Repeat("x", 600)},
			Score: 1 - float64(i)/10,
		})
	}
	samples := []string{"line one", "line two"}
	out := NewComposer(2500).Compose(LogContext{SampleLines: samples}, MLResults{Health: healthy()}, knowledge)

	assert.LessOrEqual(t, len(out), 2500)
	assertSectionOrder(t, out)
	assert.Contains(t, out, "### [1] Passage (source a")
	assert.NotContains(t, out, "source f,")
	assert.Contains(t, out, "line two")
}

func TestComposeDropsAllKnowledgeThenSamples(t *testing.T) {
	knowledge := []models.RetrievalResult{{Chunk: models.KnowledgeChunk{SourceID: "big", Text: strings.Repeat("k", 1400)}, Score: 0.5}}
	samples := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		samples = append(samples, strings.Repeat("s", 40))
	}
	out := NewComposer(1000).Compose(LogContext{SampleLines: samples}, MLResults{}, knowledge)

	assert.LessOrEqual(t, len(out), 1000)
	assertSectionOrder(t, out)
	assert.Contains(t, out, NoKnowledgeNote)
	assert.Contains(t, out, "passages omitted")
}

func degradedComponents(n int) []models.ComponentHealth {
	health := make([]models.ComponentHealth, 0, n)
	for i := 0; i < n; i++ {
		health = append(health, models.ComponentHealth{
			Component:    fmt.Sprintf("ds_am.Component%02d", i),
			Category:     models.CategoryAntiMalware,
			TotalEntries: 20,
			IssueCount:   5,
			HealthScore:  float64(70 - i%10),
			Status:       models.StatusDegraded,
			MaxSeverity:  models.SeverityHigh,
		})
	}
	return health
}

func TestComposeBoundsManyComponents(t *testing.T) {
	health := degradedComponents(80)
	out := NewComposer(2000).Compose(LogContext{Kind: models.KindDiagnosticPackage}, MLResults{Health: health}, nil)

	assert.LessOrEqual(t, len(out), 2000)
	assertSectionOrder(t, out)
	assert.Contains(t, out, "more components omitted")
	assert.Contains(t, out, "(+75 more)")
	assert.Contains(t, out, "ds_am.Component09 [")
	assert.NotContains(t, out, "ds_am.Component00 [")
	assert.Contains(t, out, "### Prevention")
}

func TestComposeCapsFileList(t *testing.T) {
	files := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		files = append(files, fmt.Sprintf("diag/component-%02d.log", i))
	}
	out := NewComposer(24000).Compose(LogContext{Kind: models.KindDiagnosticPackage, Files: files}, MLResults{Health: healthy()}, nil)

	assert.Contains(t, out, "diag/component-07.log and 32 more")
	assert.NotContains(t, out, "diag/component-08.log")
}

func TestComposeTruncatesOversizedFixedContent(t *testing.T) {
	files := []string{strings.Repeat("f", 3000) + ".log"}
	out := NewComposer(1000).Compose(LogContext{Files: files}, MLResults{Health: degradedComponents(3)}, nil)

	assert.LessOrEqual(t, len(out), 1000)
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, truncatedPromptNote)
	assert.Contains(t, out, "## Instructions")
}

func TestComposeTruncatesChunkOnRuneBoundary(t *testing.T) {
	text := "a" + strings.Repeat("é", maxChunkChars)
	knowledge := []models.RetrievalResult{{Chunk: models.KnowledgeChunk{SourceID: "utf8", Text: text}, Score: 0.5}}
	out := NewComposer(24000).Compose(LogContext{}, MLResults{Health: healthy()}, knowledge)

	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "é ...")
	assert.Equal(t, "aé", truncateRunes("aéé", 4))
	assert.Equal(t, "", truncateRunes("é", 1))
}
