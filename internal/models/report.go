package models

// AnalysisReport is the standardized output of every analyzer variant.
type AnalysisReport struct {
	Summary         string         `json:"summary" yaml:"summary"`
	Details         []string       `json:"details" yaml:"details"`
	Recommendations []string       `json:"recommendations" yaml:"recommendations"`
	Severity        Severity       `json:"severity" yaml:"severity"`
	Statistics      map[string]any `json:"statistics" yaml:"statistics"`
	Correlations    map[string]any `json:"correlations" yaml:"correlations"`
	Metadata        map[string]any `json:"metadata" yaml:"metadata"`
}

// NewReport returns a report with every collection initialised.
func NewReport() AnalysisReport {
	return AnalysisReport{
		Details:         []string{},
		Recommendations: []string{},
		Severity:        SeverityLow,
		Statistics:      map[string]any{},
		Correlations:    map[string]any{},
		Metadata:        map[string]any{},
	}
}

// Degraded reports whether the metadata marks the report as degraded.
func (r AnalysisReport) Degraded() bool {
	v, ok := r.Metadata["degraded"].(bool)
	return ok && v
}
