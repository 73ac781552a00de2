package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/logsight/ds-analyzer/internal/models"
)

// NoDataSummary is the summary of the synthesized report for absent output.
const NoDataSummary = "Analysis returned no data"

type aliases struct {
	summary         []string
	details         []string
	recommendations []string
	severity        []string
	statistics      []string
	correlations    []string
}

var baseAliases = aliases{
	summary:         []string{"summary", "overview", "analysis_summary", "executive_summary"},
	details:         []string{"details", "findings", "issues", "analysis", "observations", "root_cause", "errors"},
	recommendations: []string{"recommendations", "actions", "immediate_actions", "remediation", "next_steps", "prevention"},
	severity:        []string{"severity", "overall_severity", "risk_level", "level"},
	statistics:      []string{"statistics", "stats", "metrics", "counts"},
	correlations:    []string{"correlations", "correlation", "related"},
}

var kindAliases = map[models.AnalyzerKind]aliases{
	models.KindAMSP: {
		summary: []string{"amsp_summary"},
		details: []string{"scan_issues", "engine_status"},
	},
	models.KindAVConflict: {
		summary: []string{"conflict_summary"},
		details: []string{"conflicts", "detected_products"},
	},
	models.KindResource: {
		summary:    []string{"resource_summary"},
		details:    []string{"resource_findings", "top_processes"},
		statistics: []string{"resource_usage"},
	},
	models.KindDiagnosticPackage: {
		summary: []string{"package_summary"},
		details: []string{"component_findings"},
	},
}

func aliasesFor(kind models.AnalyzerKind) aliases {
	extra := kindAliases[kind]
	return aliases{
		summary:         append(append([]string{}, extra.summary...), baseAliases.summary...),
		details:         append(append([]string{}, baseAliases.details...), extra.details...),
		recommendations: append(append([]string{}, baseAliases.recommendations...), extra.recommendations...),
		severity:        append(append([]string{}, baseAliases.severity...), extra.severity...),
		statistics:      append(append([]string{}, baseAliases.statistics...), extra.statistics...),
		correlations:    append(append([]string{}, baseAliases.correlations...), extra.correlations...),
	}
}

// Standardizer converges heterogeneous analyzer output onto AnalysisReport.
type Standardizer struct {
	logger *slog.Logger
}

// NewStandardizer constructs a Standardizer.
func NewStandardizer(logger *slog.Logger) *Standardizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Standardizer{logger: logger}
}

// Standardize never fails: absent or unrecognised input yields a synthesized
// report with a non-empty summary and a valid severity.
func (s *Standardizer) Standardize(raw any, kind models.AnalyzerKind) models.AnalysisReport {
	var rep models.AnalysisReport
	switch v := raw.(type) {
	case nil:
		return s.fallback(kind, "nil")
	case models.AnalysisReport:
		rep = normalizeReport(v)
	case *models.AnalysisReport:
		if v == nil {
			return s.fallback(kind, "nil")
		}
		rep = normalizeReport(*v)
	case map[string]any:
		rep = fromMap(v, kind)
	case map[string]string:
		m := make(map[string]any, len(v))
		for k, val := range v {
			m[k] = val
		}
		rep = fromMap(m, kind)
	case []byte:
		return s.Standardize(string(v), kind)
	case json.RawMessage:
		return s.Standardize(string(v), kind)
	case string:
		trimmed := strings.TrimSpace(v)
		switch {
		case trimmed == "":
			return s.fallback(kind, "empty string")
		case strings.HasPrefix(trimmed, "{"):
			var m map[string]any
			if err := json.Unmarshal([]byte(trimmed), &m); err == nil {
				rep = fromMap(m, kind)
				break
			}
			rep = fromText(trimmed)
		case looksLikeHTML(trimmed):
			rep = fromHTML(trimmed)
		default:
			rep = fromText(trimmed)
		}
	default:
		m, err := toGenericMap(v)
		if err != nil {
			s.logger.Warn("unexpected analyzer output shape", slog.String("type", fmt.Sprintf("%T", raw)), slog.Any("error", err))
			rep := s.fallback(kind, fmt.Sprintf("%T", raw))
			rep.Summary = "Analysis output had an unexpected format"
			return rep
		}
		rep = fromMap(m, kind)
	}
	return finalize(rep, kind)
}

func (s *Standardizer) fallback(kind models.AnalyzerKind, rawType string) models.AnalysisReport {
	s.logger.Warn("analyzer returned no usable output", slog.String("kind", string(kind)), slog.String("type", rawType))
	rep := models.NewReport()
	rep.Summary = NoDataSummary
	rep.Severity = models.SeverityHigh
	rep.Recommendations = []string{"Re-run the analysis with complete log files and confirm the analyzer finished without errors"}
	rep.Metadata["analysis_kind"] = string(kind)
	rep.Metadata["fallback"] = true
	rep.Metadata["raw_type"] = rawType
	return rep
}

func normalizeReport(r models.AnalysisReport) models.AnalysisReport {
	out := models.NewReport()
	out.Summary = r.Summary
	out.Details = append(out.Details, r.Details...)
	out.Recommendations = append(out.Recommendations, r.Recommendations...)
	out.Severity = r.Severity
	for k, v := range r.Statistics {
		out.Statistics[k] = v
	}
	for k, v := range r.Correlations {
		out.Correlations[k] = v
	}
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func fromMap(m map[string]any, kind models.AnalyzerKind) models.AnalysisReport {
	rep := models.NewReport()
	rep.Severity = ""
	a := aliasesFor(kind)
	used := map[string]struct{}{}
	lookup := func(keys []string) []any {
		var found []any
		for _, k := range keys {
			for mk, v := range m {
				if _, done := used[mk]; done {
					continue
				}
				if normalizeKey(mk) == k {
					used[mk] = struct{}{}
					found = append(found, v)
				}
			}
		}
		return found
	}

	for _, v := range lookup(a.summary) {
		if rep.Summary == "" {
			rep.Summary = strings.Join(toStrings(v), " ")
		}
	}
	for _, v := range lookup(a.details) {
		rep.Details = append(rep.Details, toStrings(v)...)
	}
	for _, v := range lookup(a.recommendations) {
		rep.Recommendations = append(rep.Recommendations, toStrings(v)...)
	}
	for _, v := range lookup(a.severity) {
		if sev, ok := models.ParseSeverity(fmt.Sprint(v)); ok && rep.Severity == "" {
			rep.Severity = sev
		}
		rep.Metadata["raw_severity"] = v
	}
	for _, v := range lookup(a.statistics) {
		mergeInto(rep.Statistics, toMap(v))
	}
	for _, v := range lookup(a.correlations) {
		mergeInto(rep.Correlations, toMap(v))
	}
	for _, v := range lookup([]string{"metadata", "meta"}) {
		mergeInto(rep.Metadata, toMap(v))
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, done := used[k]; !done {
			rep.Metadata[k] = m[k]
		}
	}
	return rep
}

// finalize guarantees the report invariants: non-empty summary, valid
// severity and initialised collections.
func finalize(rep models.AnalysisReport, kind models.AnalyzerKind) models.AnalysisReport {
	rep = normalizeReport(rep)
	rep.Details = compact(rep.Details)
	rep.Recommendations = compact(rep.Recommendations)
	if !rep.Severity.Valid() {
		rep.Severity = inferSeverity(rep)
	}
	if strings.TrimSpace(rep.Summary) == "" {
		if len(rep.Details) > 0 {
			rep.Summary = rep.Details[0]
		} else {
			rep.Summary = fmt.Sprintf("Analysis completed for %s logs", kind)
		}
	}
	if _, ok := rep.Metadata["analysis_kind"]; !ok {
		rep.Metadata["analysis_kind"] = string(kind)
	}
	return rep
}

func inferSeverity(rep models.AnalysisReport) models.Severity {
	text := strings.ToLower(rep.Summary + " " + strings.Join(rep.Details, " "))
	switch {
	case strings.Contains(text, "critical") || strings.Contains(text, "fatal"):
		return models.SeverityCritical
	case strings.Contains(text, "error") || strings.Contains(text, "fail"):
		return models.SeverityHigh
	case strings.Contains(text, "warn"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(k)
}

func toStrings(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		var out []string
		for _, line := range strings.Split(t, "\n") {
			if line = stripBullet(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, strings.Join(toStrings(item), "; "))
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, fmt.Sprintf("%s: %s", k, strings.Join(toStrings(t[k]), ", ")))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

func toMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = val
		}
		return out
	case nil:
		return nil
	default:
		return map[string]any{"value": t}
	}
}

func toGenericMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("not an object")
	}
	return m, nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
