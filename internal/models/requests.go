package models

import (
	"strings"
	"time"
)

// AnalyzerKind selects the analyzer variant and its extraction rules.
type AnalyzerKind string

const (
	KindDSAgent           AnalyzerKind = "ds_agent"
	KindAMSP              AnalyzerKind = "amsp"
	KindAVConflict        AnalyzerKind = "av_conflict"
	KindResource          AnalyzerKind = "resource"
	KindDiagnosticPackage AnalyzerKind = "diagnostic_package"
)

// Kinds lists every supported analyzer variant.
func Kinds() []AnalyzerKind {
	return []AnalyzerKind{KindDSAgent, KindAMSP, KindAVConflict, KindResource, KindDiagnosticPackage}
}

// ParseKind resolves a user-supplied kind, defaulting to ds_agent.
func ParseKind(value string) (AnalyzerKind, bool) {
	v := AnalyzerKind(normalizeWord(value))
	if v == "" {
		return KindDSAgent, true
	}
	for _, k := range Kinds() {
		if k == v {
			return k, true
		}
	}
	return KindDSAgent, false
}

// DetectKind guesses the analyzer kind from a log file name.
func DetectKind(fileName string) AnalyzerKind {
	name := strings.ToLower(fileName)
	switch {
	case strings.Contains(name, "amsp"), strings.Contains(name, "ds_am"):
		return KindAMSP
	case strings.Contains(name, "conflict"):
		return KindAVConflict
	case strings.Contains(name, "resource"), strings.Contains(name, "perf"):
		return KindResource
	default:
		return KindDSAgent
	}
}

// InputFile is one already-validated, decoded log file.
type InputFile struct {
	Name    string
	Content string
}

// AnalysisOptions tunes a single run.
type AnalysisOptions struct {
	// SkipCompletion disables the external LLM call.
	SkipCompletion bool
	// Deadline bounds the whole run; zero means the configured LLM timeout applies.
	Deadline time.Duration
	// Model overrides the configured completion model.
	Model string
}

// AnalysisRequest is the single entry point payload for every analyzer variant.
type AnalysisRequest struct {
	Kind    AnalyzerKind
	Files   []InputFile
	Options AnalysisOptions
}

func normalizeWord(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
