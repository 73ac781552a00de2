package models

import "time"

// Severity captures impact levels used by scoring and reports.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can take the more critical of two.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// MaxSeverity returns the most critical of the supplied severities (low when empty).
func MaxSeverity(values ...Severity) Severity {
	best := SeverityLow
	for _, v := range values {
		if v.Rank() > best.Rank() {
			best = v
		}
	}
	return best
}

// ParseSeverity maps loose severity words onto the enum; unknown values yield ok=false.
func ParseSeverity(value string) (Severity, bool) {
	switch normalizeWord(value) {
	case "critical", "emergency", "fatal", "severe":
		return SeverityCritical, true
	case "high", "error", "major":
		return SeverityHigh, true
	case "medium", "moderate", "warning", "warn":
		return SeverityMedium, true
	case "low", "minor", "info", "informational", "none", "ok":
		return SeverityLow, true
	}
	return "", false
}

// ComponentCorrelation records that issues on one component tend to precede another.
type ComponentCorrelation struct {
	Leader     string        `json:"leader" yaml:"leader"`
	Follower   string        `json:"follower" yaml:"follower"`
	Lag        time.Duration `json:"lag" yaml:"lag"`
	Score      float64       `json:"score" yaml:"score"`
	Supporting int           `json:"supporting" yaml:"supporting"`
}
