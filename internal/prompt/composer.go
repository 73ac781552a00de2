package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/logsight/ds-analyzer/internal/models"
)

// Priority is the prompt banner level derived from the worst finding.
type Priority string

const (
	PriorityEmergency Priority = "emergency"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityStandard  Priority = "standard"
)

// NoKnowledgeNote is the knowledge section body when retrieval found nothing.
const NoKnowledgeNote = "No additional knowledge found for this analysis."

const (
	maxChunkChars       = 1500
	maxListedFiles      = 8
	maxFocusComponents  = 5
	truncatedPromptNote = "(prompt truncated to fit the budget)"
)

// AnomalyLine is one anomalous record as presented to the model.
type AnomalyLine struct {
	Line      int
	Component string
	Severity  models.Severity
	Score     float64
	Message   string
	ClusterID string
}

// LogContext describes the analysed input.
type LogContext struct {
	Kind          models.AnalyzerKind
	Product       string
	Files         []string
	TotalRecords  int
	ParsedRecords int
	FirstSeen     *time.Time
	LastSeen      *time.Time
	SampleLines   []string
}

// MLResults carries the scoring and aggregation output.
type MLResults struct {
	Statistical  bool
	AnomalyCount int
	Anomalies    []AnomalyLine
	Health       []models.ComponentHealth
	Patterns     []models.MessagePattern
	Correlations []models.ComponentCorrelation
	Signals      []string
}

// Composer assembles the bounded prompt. It knows nothing about transport.
type Composer struct {
	maxChars int
}

// NewComposer creates a composer with a character budget.
func NewComposer(maxChars int) *Composer {
	if maxChars < 1000 {
		maxChars = 1000
	}
	return &Composer{maxChars: maxChars}
}

// PriorityOf derives the banner priority from anomalies and component health.
func PriorityOf(ml MLResults) Priority {
	worstAnomaly := models.SeverityLow
	for _, a := range ml.Anomalies {
		worstAnomaly = models.MaxSeverity(worstAnomaly, a.Severity)
	}
	failed, degraded, warnings := false, false, false
	for _, h := range ml.Health {
		switch h.Status {
		case models.StatusFailed:
			failed = true
		case models.StatusDegraded:
			degraded = true
		}
		if h.IssueCount > 0 {
			warnings = true
		}
	}
	switch {
	case failed || (len(ml.Anomalies) > 0 && worstAnomaly == models.SeverityCritical):
		return PriorityEmergency
	case degraded || (len(ml.Anomalies) > 0 && worstAnomaly == models.SeverityHigh):
		return PriorityHigh
	case ml.AnomalyCount > 0 || warnings:
		return PriorityMedium
	default:
		return PriorityStandard
	}
}

type section struct {
	header string
	fixed  []string
	// trimmable lines are dropped from the tail when over budget.
	trimmable []string
	omitted   int
	omitNote  string
}

func (s section) render(b *strings.Builder) {
	b.WriteString(s.header)
	b.WriteString("\n")
	for _, line := range s.fixed {
		b.WriteString(line)
		b.WriteString("\n")
	}
	for _, line := range s.trimmable {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if s.omitted > 0 && s.omitNote != "" {
		b.WriteString(fmt.Sprintf(s.omitNote, s.omitted))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (s *section) dropLast() bool {
	if len(s.trimmable) == 0 {
		return false
	}
	s.trimmable = s.trimmable[:len(s.trimmable)-1]
	s.omitted++
	return true
}

func renderSections(sections ...section) string {
	var b strings.Builder
	for _, s := range sections {
		s.render(&b)
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Compose renders every section in fixed order and trims to the budget:
// knowledge chunks go first, then log samples, then ML detail lines, then the
// healthiest components. The result never exceeds the budget.
func (c *Composer) Compose(lc LogContext, ml MLResults, knowledge []models.RetrievalResult) string {
	priority := PriorityOf(ml)
	banner := bannerSection(lc, priority)
	context := contextSection(lc)
	intel := intelligenceSection(ml, priority)
	health := healthSection(ml.Health)
	instructions := instructionSection(priority)

	know := section{header: "## Retrieved Knowledge", trimmable: knowledgeBlocks(knowledge)}
	knowledgeSection := func() section {
		if len(know.trimmable) > 0 {
			return know
		}
		out := section{header: know.header, fixed: []string{NoKnowledgeNote}}
		if know.omitted > 0 {
			out.fixed = append(out.fixed, fmt.Sprintf("(%d passages omitted to fit the prompt budget)", know.omitted))
		}
		return out
	}
	render := func() string {
		return renderSections(banner, context, intel, health, knowledgeSection(), instructions)
	}

	out := render()
	for len(out) > c.maxChars {
		if !know.dropLast() && !context.dropLast() && !intel.dropLast() && !health.dropLast() {
			return c.truncate(renderSections(banner, context, intel, health, knowledgeSection()), renderSections(instructions))
		}
		out = render()
	}
	return out
}

// truncate cuts head at a line boundary so that head, a truncation note and
// tail fit the budget together.
func (c *Composer) truncate(head, tail string) string {
	note := truncatedPromptNote + "\n\n"
	budget := c.maxChars - len(tail) - len(note)
	if budget <= 0 {
		return truncateRunes(tail, c.maxChars)
	}
	head = truncateRunes(head, budget)
	if i := strings.LastIndex(head, "\n"); i >= 0 {
		head = head[:i+1]
	}
	return head + note + tail
}

// truncateRunes returns at most n bytes of s without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func bannerSection(lc LogContext, p Priority) section {
	product := lc.Product
	if product == "" {
		product = "Deep Security"
	}
	title := fmt.Sprintf("# [%s PRIORITY] %s %s log analysis", strings.ToUpper(string(p)), product, kindLabel(lc.Kind))
	var lead string
	switch p {
	case PriorityEmergency:
		lead = "Critical failures were detected. Protection may be impaired; prioritise restoring service."
	case PriorityHigh:
		lead = "Significant errors were detected that degrade agent functionality."
	case PriorityMedium:
		lead = "Warnings and isolated anomalies were detected."
	default:
		lead = "No significant issues were detected; review for optimisation opportunities."
	}
	return section{header: title, fixed: []string{lead}}
}

func contextSection(lc LogContext) section {
	s := section{header: "## Log Context"}
	s.fixed = append(s.fixed, fmt.Sprintf("- Analyzer: %s", kindLabel(lc.Kind)))
	if len(lc.Files) > 0 {
		s.fixed = append(s.fixed, "- Files: "+listFiles(lc.Files))
	}
	s.fixed = append(s.fixed, fmt.Sprintf("- Records: %d (%d matched a known format)", lc.TotalRecords, lc.ParsedRecords))
	if lc.FirstSeen != nil && lc.LastSeen != nil {
		s.fixed = append(s.fixed, fmt.Sprintf("- Time range: %s to %s", lc.FirstSeen.Format(time.RFC3339), lc.LastSeen.Format(time.RFC3339)))
	}
	if len(lc.SampleLines) > 0 {
		s.fixed = append(s.fixed, "", "Notable lines:")
		for _, line := range lc.SampleLines {
			s.trimmable = append(s.trimmable, "    "+line)
		}
	}
	return s
}

func intelligenceSection(ml MLResults, p Priority) section {
	s := section{header: "## ML Intelligence"}
	mode := "isolation forest with rule overrides"
	if !ml.Statistical {
		mode = "rule-based (batch too small for statistical scoring)"
	}
	s.fixed = append(s.fixed,
		fmt.Sprintf("- Scoring: %s", mode),
		fmt.Sprintf("- Anomalies: %d", ml.AnomalyCount),
	)
	if p == PriorityEmergency || p == PriorityHigh {
		var focus []string
		unhealthy := 0
		for _, h := range worstFirst(ml.Health) {
			if h.Status == models.StatusHealthy {
				continue
			}
			unhealthy++
			if len(focus) < maxFocusComponents {
				focus = append(focus, fmt.Sprintf("%s (%s, %.0f%%)", h.Component, h.Status, h.HealthScore))
			}
		}
		if len(focus) > 0 {
			line := "- FOCUS: " + strings.Join(focus, "; ")
			if more := unhealthy - len(focus); more > 0 {
				line += fmt.Sprintf(" (+%d more)", more)
			}
			s.fixed = append(s.fixed, line)
		}
	}

	for _, signal := range ml.Signals {
		s.trimmable = append(s.trimmable, "- Signal: "+signal)
	}
	for _, a := range ml.Anomalies {
		cluster := ""
		if a.ClusterID != "" {
			cluster = " " + a.ClusterID
		}
		s.trimmable = append(s.trimmable, fmt.Sprintf("- Anomaly line %d [%s %s score %.2f%s]: %s", a.Line, a.Component, a.Severity, a.Score, cluster, a.Message))
	}
	for _, pat := range ml.Patterns {
		s.trimmable = append(s.trimmable, fmt.Sprintf("- Pattern %s x%d (%s): %s", pat.ClusterID, pat.Count, pat.Severity, pat.Template))
	}
	for _, corr := range ml.Correlations {
		s.trimmable = append(s.trimmable, fmt.Sprintf("- Correlation: %s precedes %s by %s (score %.2f)", corr.Leader, corr.Follower, corr.Lag, corr.Score))
	}
	return s
}

// healthSection lists components worst first so trimming keeps the most
// relevant ones.
func healthSection(health []models.ComponentHealth) section {
	s := section{header: "## Component Health", omitNote: "(%d more components omitted)"}
	if len(health) == 0 {
		s.fixed = []string{"No components observed."}
		return s
	}
	for _, h := range worstFirst(health) {
		s.trimmable = append(s.trimmable, fmt.Sprintf("- %s [%s]: %.0f%% %s, %d/%d issues, worst %s", h.Component, h.Category, h.HealthScore, h.Status, h.IssueCount, h.TotalEntries, h.MaxSeverity))
	}
	return s
}

func worstFirst(health []models.ComponentHealth) []models.ComponentHealth {
	sorted := append([]models.ComponentHealth(nil), health...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].HealthScore != sorted[j].HealthScore {
			return sorted[i].HealthScore < sorted[j].HealthScore
		}
		return sorted[i].IssueCount > sorted[j].IssueCount
	})
	return sorted
}

func listFiles(files []string) string {
	if len(files) <= maxListedFiles {
		return strings.Join(files, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(files[:maxListedFiles], ", "), len(files)-maxListedFiles)
}

func knowledgeBlocks(results []models.RetrievalResult) []string {
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		text := strings.TrimSpace(r.Chunk.Text)
		if len(text) > maxChunkChars {
			text = strings.TrimSpace(truncateRunes(text, maxChunkChars)) + " ..."
		}
		title := r.Chunk.SectionTitle
		if title == "" {
			title = r.Chunk.SourceID
		}
		blocks = append(blocks, fmt.Sprintf("### [%d] %s (source %s, relevance %.2f)\n%s", i+1, title, r.Chunk.SourceID, r.Score, text))
	}
	return blocks
}

func instructionSection(p Priority) section {
	s := section{header: "## Instructions"}
	s.fixed = []string{
		"Using only the evidence above, respond in markdown with these sections:",
		"### Summary",
		"### Severity (one of: critical, high, medium, low)",
		"### Root Cause",
		"### Immediate Actions",
		"### Prevention",
		"Use bullet points under each section and cite knowledge passages by their [n] index.",
	}
	if p == PriorityEmergency {
		s.fixed = append(s.fixed, "Lead Immediate Actions with the steps that restore protection fastest.")
	}
	return s
}

func kindLabel(kind models.AnalyzerKind) string {
	switch kind {
	case models.KindAMSP:
		return "Anti-Malware (AMSP)"
	case models.KindAVConflict:
		return "AV conflict"
	case models.KindResource:
		return "resource usage"
	case models.KindDiagnosticPackage:
		return "diagnostic package"
	default:
		return "DS Agent"
	}
}
