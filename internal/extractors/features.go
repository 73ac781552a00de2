package extractors

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/logsight/ds-analyzer/internal/models"
)

type keywordSet []string

func (k keywordSet) in(text string) bool {
	for _, word := range k {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}

var (
	commandWords      = keywordSet{"command", "getconfiguration", "getevents", "setsecurityconfiguration", "activate", "updateconfiguration", "cmd="}
	heartbeatWords    = keywordSet{"heartbeat"}
	httpWords         = keywordSet{"http://", "https://", "http/1", "http ", "https ", "status code", "post ", "get /", "rest api"}
	errorWords        = keywordSet{"error", "fail", "exception", "fatal", "crash", "denied", "unable to", "cannot", "can't"}
	timeoutWords      = keywordSet{"timeout", "timed out", "time out", "deadline exceeded"}
	connectionWords   = keywordSet{"connection refused", "connection reset", "connection closed", "connection failed", "unable to connect", "could not connect", "disconnected", "unreachable", "no route to host", "ssl handshake", "tls handshake", "name resolution"}
	scanWords         = keywordSet{"scan", "pattern update", "quarantine", "malware", "virus", "realtime", "real-time", "vsapi"}
	thirdPartyAVWords = keywordSet{"symantec", "mcafee", "sophos", "kaspersky", "eset", "windows defender", "defender", "crowdstrike", "sentinelone", "bitdefender", "avast", "carbon black", "cylance", "malwarebytes", "trellix", "norton"}
	resourceWords     = keywordSet{"cpu", "memory", "out of memory", "low memory", "disk space", "disk full", "no space left", "high load", "handle count", "throttl", "working set", "page file"}

	reErrorCode = regexp.MustCompile(`\b(?:[A-Z][A-Z0-9]+_[A-Z0-9_]+|0x[0-9A-Fa-f]{4,8}|(?:error|err|code)[ =:#]+-?\d{2,})\b`)
	rePathLike  = regexp.MustCompile(`(?:[A-Za-z]:\\|/(?:[\w.-]+/)+)`)
)

type categoryRule struct {
	category models.ComponentCategory
	tokens   []string
	contains []string
}

// Evaluated in order so heartbeat and connectivity modules win over the
// generic dsa prefix.
var categoryRules = []categoryRule{
	{models.CategoryConnectivity, []string{"heartbeat", "hb", "connection", "connect", "comm", "relay", "proxy", "dsm", "http", "ssl", "tls"}, []string{"heartbeat", "connection", "connectivity"}},
	{models.CategoryCommand, []string{"cmd", "command", "commands"}, []string{"command"}},
	{models.CategoryAntiMalware, []string{"amsp", "am", "ds_am", "vsapi", "scan", "scanner", "malware", "antimalware", "realtime", "quarantine"}, []string{"antimalware", "anti-malware", "amsp", "vsapi"}},
	{models.CategoryNetworkSecurity, []string{"fw", "firewall", "ips", "dpi", "wrs", "webreputation", "tmwfp", "tbimdsa"}, []string{"firewall", "intrusion", "webreputation"}},
	{models.CategoryIntegrity, []string{"im", "fim", "integrity", "li", "loginspection"}, []string{"integrity", "loginspection", "log inspection"}},
}

// Categorize maps a component name onto the fixed category enum.
func Categorize(component string) models.ComponentCategory {
	lower := strings.ToLower(component)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, rule := range categoryRules {
		for _, tok := range tokens {
			for _, want := range rule.tokens {
				if tok == want {
					return rule.category
				}
			}
		}
		for _, sub := range rule.contains {
			if strings.Contains(lower, sub) {
				return rule.category
			}
		}
	}
	return models.CategoryOther
}

// FeatureExtractor derives a FeatureVector from a single record.
type FeatureExtractor struct{}

// NewFeatureExtractor constructs a FeatureExtractor.
func NewFeatureExtractor() *FeatureExtractor {
	return &FeatureExtractor{}
}

// Extract is deterministic and computes every flag independently.
func (e *FeatureExtractor) Extract(rec models.LogRecord) models.FeatureVector {
	msg := strings.ToLower(rec.Message)
	subject := strings.ToLower(rec.Component) + " " + msg

	return models.FeatureVector{
		IsCommand:           commandWords.in(subject) || rec.Extra["tag"] == "Cmd",
		IsHeartbeat:         heartbeatWords.in(subject),
		HasHTTP:             httpWords.in(msg),
		HasErrorKeyword:     errorWords.in(msg),
		HasTimeout:          timeoutWords.in(msg),
		HasConnectionIssue:  connectionWords.in(msg),
		HasErrorCode:        reErrorCode.MatchString(rec.Message),
		IsScanEvent:         scanWords.in(subject),
		HasIPAddress:        reIPv4.MatchString(rec.Message),
		HasPath:             rePathLike.MatchString(rec.Message),
		MentionsThirdParty:  thirdPartyAVWords.in(msg),
		HasResourcePressure: resourceWords.in(msg),
		MessageLength:       utf8.RuneCountInString(rec.Message),
		TokenCount:          len(strings.Fields(rec.Message)),
		DigitRatio:          digitRatio(rec.Message),
		SeverityRank:        rec.NormalizedSeverity.Rank(),
		ComponentCategory:   Categorize(rec.Component),
	}
}

// ExtractAll returns one vector per record, index-aligned.
func (e *FeatureExtractor) ExtractAll(records []models.LogRecord) []models.FeatureVector {
	out := make([]models.FeatureVector, len(records))
	for i, rec := range records {
		out[i] = e.Extract(rec)
	}
	return out
}

// ErrorCodes returns the distinct error code tokens found in message.
func ErrorCodes(message string) []string {
	matches := reErrorCode.FindAllString(message, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// ThirdPartyProducts lists the third-party security products named in message.
func ThirdPartyProducts(message string) []string {
	lower := strings.ToLower(message)
	var out []string
	for _, word := range thirdPartyAVWords {
		if word == "defender" && strings.Contains(lower, "windows defender") {
			continue
		}
		if strings.Contains(lower, word) {
			out = append(out, word)
		}
	}
	return out
}

func digitRatio(s string) float64 {
	total, digits := 0, 0
	for _, r := range s {
		total++
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(digits) / float64(total)
}
