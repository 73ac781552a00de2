package models

import "time"

// LogLevel is the normalized severity of a single log line.
type LogLevel string

const (
	LevelCritical LogLevel = "critical"
	LevelError    LogLevel = "error"
	LevelWarning  LogLevel = "warning"
	LevelInfo     LogLevel = "info"
)

// Rank is the ordinal used by severity_rank (critical=3 ... info=0).
func (l LogLevel) Rank() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelError:
		return 2
	case LevelWarning:
		return 1
	default:
		return 0
	}
}

// Severity maps a log level onto the scoring severity enum.
func (l LogLevel) Severity() Severity {
	switch l {
	case LevelCritical:
		return SeverityCritical
	case LevelError:
		return SeverityHigh
	case LevelWarning:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// UnknownComponent is assigned to lines no pattern recognised.
const UnknownComponent = "unknown"

// LogRecord is one parsed log line. It is not mutated after parsing.
type LogRecord struct {
	Line               int
	Timestamp          *time.Time
	Component          string
	RawSeverity        string
	NormalizedSeverity LogLevel
	Message            string
	Extra              map[string]string
	// Parsed is false when no pattern matched.
	Parsed bool
	// LevelAnomaly is set when the raw level was outside the lookup table.
	LevelAnomaly bool
}

// ComponentCategory is the fixed category set used by feature extraction.
type ComponentCategory string

const (
	CategoryAntiMalware     ComponentCategory = "anti-malware"
	CategoryConnectivity    ComponentCategory = "connectivity"
	CategoryCommand         ComponentCategory = "command"
	CategoryNetworkSecurity ComponentCategory = "network-security"
	CategoryIntegrity       ComponentCategory = "integrity"
	CategoryOther           ComponentCategory = "other"
)

// Categories lists every category in encoding order.
func Categories() []ComponentCategory {
	return []ComponentCategory{
		CategoryOther,
		CategoryAntiMalware,
		CategoryConnectivity,
		CategoryCommand,
		CategoryNetworkSecurity,
		CategoryIntegrity,
	}
}

// Index returns the ordinal of the category for numeric encoding.
func (c ComponentCategory) Index() int {
	for i, v := range Categories() {
		if v == c {
			return i
		}
	}
	return 0
}

// FeatureVector is the fixed-width feature set derived from one LogRecord.
// Every field is always set; inapplicable features stay at their zero value.
type FeatureVector struct {
	IsCommand           bool
	IsHeartbeat         bool
	HasHTTP             bool
	HasErrorKeyword     bool
	HasTimeout          bool
	HasConnectionIssue  bool
	HasErrorCode        bool
	IsScanEvent         bool
	HasIPAddress        bool
	HasPath             bool
	MentionsThirdParty  bool
	HasResourcePressure bool
	MessageLength       int
	TokenCount          int
	DigitRatio          float64
	SeverityRank        int
	ComponentCategory   ComponentCategory
}

// FeatureNames lists the numeric encoding order used by Numeric.
var FeatureNames = []string{
	"is_command",
	"is_heartbeat",
	"has_http",
	"has_error_keyword",
	"has_timeout",
	"has_connection_issue",
	"has_error_code",
	"is_scan_event",
	"has_ip_address",
	"has_path",
	"mentions_third_party_av",
	"has_resource_pressure",
	"message_length",
	"token_count",
	"digit_ratio",
	"severity_rank",
	"component_category",
}

// Numeric encodes the vector in FeatureNames order.
func (f FeatureVector) Numeric() []float64 {
	return []float64{
		boolFloat(f.IsCommand),
		boolFloat(f.IsHeartbeat),
		boolFloat(f.HasHTTP),
		boolFloat(f.HasErrorKeyword),
		boolFloat(f.HasTimeout),
		boolFloat(f.HasConnectionIssue),
		boolFloat(f.HasErrorCode),
		boolFloat(f.IsScanEvent),
		boolFloat(f.HasIPAddress),
		boolFloat(f.HasPath),
		boolFloat(f.MentionsThirdParty),
		boolFloat(f.HasResourcePressure),
		float64(f.MessageLength),
		float64(f.TokenCount),
		f.DigitRatio,
		float64(f.SeverityRank),
		float64(f.ComponentCategory.Index()),
	}
}

// Map returns the named features, used for report statistics and debugging.
func (f FeatureVector) Map() map[string]float64 {
	values := f.Numeric()
	out := make(map[string]float64, len(values))
	for i, name := range FeatureNames {
		out[name] = values[i]
	}
	return out
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// AnomalyResult is the scorer output for one record, index-aligned with its input.
type AnomalyResult struct {
	IsAnomaly    bool     `json:"is_anomaly" yaml:"is_anomaly"`
	AnomalyScore float64  `json:"anomaly_score" yaml:"anomaly_score"`
	Severity     Severity `json:"severity" yaml:"severity"`
	ClusterID    string   `json:"cluster_id,omitempty" yaml:"cluster_id,omitempty"`
	// Benign is set when a known-benign rule overrode the statistical stage.
	Benign       bool   `json:"benign,omitempty" yaml:"benign,omitempty"`
	BenignReason string `json:"benign_reason,omitempty" yaml:"benign_reason,omitempty"`
	// Statistical is false when the batch was too small for the outlier model.
	Statistical bool `json:"statistical" yaml:"statistical"`
}

// HealthStatus is derived from a component's health score.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusFailed   HealthStatus = "failed"
)

// ComponentHealth aggregates one component's records for a single run.
type ComponentHealth struct {
	Component    string            `json:"component" yaml:"component"`
	Category     ComponentCategory `json:"category" yaml:"category"`
	TotalEntries int               `json:"total_entries" yaml:"total_entries"`
	IssueCount   int               `json:"issue_count" yaml:"issue_count"`
	AnomalyCount int               `json:"anomaly_count" yaml:"anomaly_count"`
	HealthScore  float64           `json:"health_score" yaml:"health_score"`
	Status       HealthStatus      `json:"status" yaml:"status"`
	MaxSeverity  Severity          `json:"max_severity" yaml:"max_severity"`
	FirstIssue   *time.Time        `json:"first_issue,omitempty" yaml:"first_issue,omitempty"`
}
