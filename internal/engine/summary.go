package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/logsight/ds-analyzer/internal/extractors"
	"github.com/logsight/ds-analyzer/internal/knowledge"
	"github.com/logsight/ds-analyzer/internal/metrics"
	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/prompt"
)

const (
	maxAnomalyLines = 20
	maxDetailLines  = 15
)

// issueIndexes returns the record indexes that count as issues, worst first.
func (st *runState) issueIndexes() []int {
	idx := make([]int, 0)
	for i, res := range st.results {
		if res.Benign || !IsIssue(res) {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := st.results[idx[a]], st.results[idx[b]]
		if ra.Severity.Rank() != rb.Severity.Rank() {
			return ra.Severity.Rank() > rb.Severity.Rank()
		}
		if ra.IsAnomaly != rb.IsAnomaly {
			return ra.IsAnomaly
		}
		return ra.AnomalyScore > rb.AnomalyScore
	})
	return idx
}

func (d *DiagnosticRun) queryContext(st *runState) knowledge.QueryContext {
	qc := knowledge.QueryContext{Kind: st.kind, Components: SortedHealth(st.health)}
	seen := map[string]struct{}{}
	for _, i := range st.issueIndexes() {
		rec, res := st.records[i], st.results[i]
		if res.IsAnomaly {
			qc.Anomalies = append(qc.Anomalies, knowledge.AnomalySignal{
				Component: rec.Component,
				Severity:  res.Severity,
				Message:   rec.Message,
				ClusterID: res.ClusterID,
			})
		}
		for _, code := range extractors.ErrorCodes(rec.Message) {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			qc.ErrorTypes = append(qc.ErrorTypes, code)
		}
	}
	return qc
}

func (d *DiagnosticRun) logContext(st *runState) prompt.LogContext {
	first, last := timeBounds(st.records)
	lc := prompt.LogContext{
		Kind:          st.kind,
		Product:       d.cfg.Product,
		Files:         fileNames(st.req.Files),
		TotalRecords:  len(st.records),
		ParsedRecords: st.stats.Parsed,
		FirstSeen:     first,
		LastSeen:      last,
	}
	picked := map[int]struct{}{}
	for _, i := range st.issueIndexes() {
		if len(lc.SampleLines) >= d.cfg.MaxSampleLines {
			break
		}
		picked[i] = struct{}{}
		lc.SampleLines = append(lc.SampleLines, sampleLine(st.records[i]))
	}
	for i, rec := range st.records {
		if len(lc.SampleLines) >= d.cfg.MaxSampleLines {
			break
		}
		if _, ok := picked[i]; ok {
			continue
		}
		lc.SampleLines = append(lc.SampleLines, sampleLine(rec))
	}
	return lc
}

func (d *DiagnosticRun) mlResults(st *runState) prompt.MLResults {
	ml := prompt.MLResults{
		Statistical:  len(st.results) > 0 && st.results[0].Statistical,
		AnomalyCount: st.anomalyCount(),
		Health:       SortedHealth(st.health),
		Patterns:     st.patterns,
		Correlations: st.correlation.Correlations,
		Signals:      signals(st),
	}
	for _, i := range st.issueIndexes() {
		res := st.results[i]
		if !res.IsAnomaly {
			continue
		}
		if len(ml.Anomalies) >= maxAnomalyLines {
			break
		}
		rec := st.records[i]
		ml.Anomalies = append(ml.Anomalies, prompt.AnomalyLine{
			Line:      rec.Line,
			Component: rec.Component,
			Severity:  res.Severity,
			Score:     res.AnomalyScore,
			Message:   rec.Message,
			ClusterID: res.ClusterID,
		})
	}
	return ml
}

// signals renders burst, resource and third-party product findings.
func signals(st *runState) []string {
	var out []string
	for _, b := range st.bursts {
		out = append(out, fmt.Sprintf("Error burst at %s: %d warning-or-worse events (deviation %.1f), mostly %s",
			b.Minute.Format("2006-01-02 15:04"), b.Count, b.Score, b.Component))
	}
	for _, s := range st.spikes {
		r := s.Reading
		out = append(out, fmt.Sprintf("Resource spike on %s: %s %.1f%s (line %d)", r.Component, r.Metric, r.Value, r.Unit, r.Line))
	}
	if products := thirdPartyProducts(st.records); len(products) > 0 {
		out = append(out, "Third-party security products referenced: "+strings.Join(products, ", "))
	}
	return out
}

func thirdPartyProducts(records []models.LogRecord) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, rec := range records {
		for _, p := range extractors.ThirdPartyProducts(rec.Message) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// overallSeverity is the worst non-benign issue, raised to high when a
// component with anomalies failed.
func (st *runState) overallSeverity() models.Severity {
	sev := models.SeverityLow
	for _, i := range st.issueIndexes() {
		sev = models.MaxSeverity(sev, st.results[i].Severity)
	}
	for _, h := range st.health {
		if h.Status == models.StatusFailed && h.AnomalyCount > 0 {
			sev = models.MaxSeverity(sev, models.SeverityHigh)
		}
	}
	return sev
}

// baseReport builds the ML and retrieval report that stands on its own when
// no expert narrative is available.
func (d *DiagnosticRun) baseReport(st *runState) models.AnalysisReport {
	rep := models.NewReport()
	sorted := SortedHealth(st.health)
	issues := st.issueIndexes()

	rep.Severity = st.overallSeverity()
	rep.Summary = summaryLine(st, sorted, len(issues))

	for _, h := range sorted {
		if len(rep.Details) >= maxDetailLines {
			break
		}
		if h.IssueCount == 0 && h.Status == models.StatusHealthy {
			continue
		}
		rep.Details = append(rep.Details, fmt.Sprintf("%s (%s): %s, health %.2f, %d issue(s) in %d entries, worst severity %s",
			h.Component, h.Category, h.Status, h.HealthScore, h.IssueCount, h.TotalEntries, h.MaxSeverity))
	}
	for _, p := range st.patterns {
		if len(rep.Details) >= 2*maxDetailLines {
			break
		}
		rep.Details = append(rep.Details, fmt.Sprintf("Pattern %s seen %d time(s) [%s]: %s",
			p.ClusterID, p.Count, strings.Join(p.Components, ", "), p.Template))
	}
	rep.Details = append(rep.Details, signals(st)...)

	ruleIssues := make([]Issue, 0, len(issues))
	for _, i := range issues {
		rec := st.records[i]
		ruleIssues = append(ruleIssues, Issue{
			Component: rec.Component,
			Category:  st.vectors[i].ComponentCategory,
			Severity:  st.results[i].Severity,
			Message:   rec.Message,
		})
	}
	rep.Recommendations = d.rules.Recommend(st.kind, ruleIssues)

	rep.Statistics = statistics(st, sorted)
	rep.Correlations = map[string]any{
		"components": st.correlation.Correlations,
		"notes":      st.correlation.Notes,
	}

	rep.Metadata["run_id"] = st.runID
	rep.Metadata["analysis_kind"] = string(st.kind)
	rep.Metadata["files"] = fileNames(st.req.Files)
	rep.Metadata["queries"] = st.queries
	rep.Metadata["knowledge_sources"] = knowledgeSources(st.knowledge)
	rep.Metadata["retrieval_available"] = !st.retrievalOff
	return rep
}

func summaryLine(st *runState, sorted []models.ComponentHealth, issues int) string {
	if issues == 0 {
		return fmt.Sprintf("No significant issues detected across %d log record(s) from %d component(s).",
			len(st.records), len(sorted))
	}
	worst := sorted[0]
	return fmt.Sprintf("Detected %d anomal%s and %d issue(s) across %d log record(s); %s is %s (health %.2f).",
		st.anomalyCount(), plural(st.anomalyCount(), "y", "ies"), issues, len(st.records),
		worst.Component, worst.Status, worst.HealthScore)
}

func statistics(st *runState, sorted []models.ComponentHealth) map[string]any {
	benign := 0
	for _, r := range st.results {
		if r.Benign {
			benign++
		}
	}
	stats := map[string]any{
		"total_records":      len(st.records),
		"parsed_records":     st.stats.Parsed,
		"unparsed_records":   st.stats.Unparsed,
		"level_anomalies":    st.stats.LevelAnomalies,
		"parse_success_rate": round2(st.stats.SuccessRate() * 100),
		"formats":            st.stats.ByFamily,
		"anomaly_count":      st.anomalyCount(),
		"issue_count":        len(st.issueIndexes()),
		"benign_overrides":   benign,
		"statistical":        len(st.results) > 0 && st.results[0].Statistical,
		"components":         sorted,
		"patterns":           st.patterns,
		"error_bursts":       st.bursts,
		"resource_spikes":    st.spikes,
	}
	if len(st.readings) > 0 {
		stats["resource_readings"] = len(st.readings)
	}
	if products := thirdPartyProducts(st.records); len(products) > 0 {
		stats["third_party_products"] = products
	}
	return stats
}

// finish merges the standardized narrative into the base report.
func (d *DiagnosticRun) finish(st *runState, base models.AnalysisReport, narrative string, completionErr error, logger *slog.Logger) models.AnalysisReport {
	rep := base
	switch {
	case errors.Is(completionErr, errCompletionSkipped):
		rep.Metadata["completion"] = "skipped"
	case completionErr != nil:
		metrics.IncCompletionFailures()
		logger.Warn("completion failed; returning degraded report", slog.Any("error", completionErr))
		rep.Metadata["completion"] = "failed"
		rep.Metadata["degraded"] = true
		rep.Metadata["degraded_reason"] = completionErr.Error()
		st.note("Expert narrative unavailable (%s); report contains ML and retrieval results only", completionErr.Error())
	default:
		narr := d.standardizer.Standardize(narrative, st.kind)
		rep.Metadata["completion"] = "ok"
		if narr.Summary != "" {
			rep.Summary = narr.Summary
		}
		rep.Details = append(append([]string{}, narr.Details...), base.Details...)
		rep.Recommendations = appendUnique(append([]string{}, narr.Recommendations...), base.Recommendations...)
		rep.Severity = models.MaxSeverity(base.Severity, narr.Severity)
		for k, v := range narr.Statistics {
			if _, ok := rep.Statistics[k]; !ok {
				rep.Statistics[k] = v
			}
		}
		for k, v := range narr.Metadata {
			if _, ok := rep.Metadata[k]; !ok {
				rep.Metadata[k] = v
			}
		}
		rep.Metadata["narrative"] = narrative
	}
	if len(st.notes) > 0 {
		rep.Metadata["notes"] = st.notes
	}
	return d.standardizer.Standardize(rep, st.kind)
}

func knowledgeSources(results []models.RetrievalResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk.SourceID)
	}
	return out
}

func timeBounds(records []models.LogRecord) (*time.Time, *time.Time) {
	var first, last *time.Time
	for _, rec := range records {
		if rec.Timestamp == nil {
			continue
		}
		ts := *rec.Timestamp
		if first == nil || ts.Before(*first) {
			first = &ts
		}
		if last == nil || ts.After(*last) {
			last = &ts
		}
	}
	return first, last
}

func sampleLine(rec models.LogRecord) string {
	ts := "-"
	if rec.Timestamp != nil {
		ts = rec.Timestamp.Format("2006-01-02 15:04:05.000")
	}
	line := fmt.Sprintf("%s [%s] %s: %s", ts, strings.ToUpper(string(rec.NormalizedSeverity)), rec.Component, rec.Message)
	if src := rec.Extra["source_file"]; src != "" {
		line = fmt.Sprintf("%s:%d %s", src, rec.Line, line)
	}
	return line
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
