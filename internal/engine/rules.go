package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/logsight/ds-analyzer/internal/models"
)

//go:embed rules.yaml
var defaultRulePack []byte

// RulePack holds benign overrides, severity keywords and recommendation rules.
type RulePack struct {
	benign   []benignRule
	keywords []keywordRule
	rules    []Rule
	logger   *slog.Logger
}

// Rule represents a single recommendation rule.
type Rule struct {
	ID              string    `yaml:"id"`
	Match           RuleMatch `yaml:"match"`
	Recommendations []string  `yaml:"recommendations"`
}

// RuleMatch defines optional attributes for rule matching. Empty fields match anything.
type RuleMatch struct {
	Category        string   `yaml:"category"`
	Component       string   `yaml:"component"`
	Severity        string   `yaml:"severity"`
	MessageContains []string `yaml:"message_contains"`
	Kinds           []string `yaml:"kinds"`
}

// BenignPattern is a known-benign message that must never be flagged as anomalous.
type BenignPattern struct {
	ID      string `yaml:"id"`
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Benign           []BenignPattern     `yaml:"benign"`
	SeverityKeywords map[string][]string `yaml:"severity_keywords"`
	Rules            []Rule              `yaml:"rules"`
}

type benignRule struct {
	BenignPattern
	re *regexp.Regexp
}

type keywordRule struct {
	severity models.Severity
	re       *regexp.Regexp
}

// Issue is the per-record view recommendation rules match against.
type Issue struct {
	Component string
	Category  models.ComponentCategory
	Severity  models.Severity
	Message   string
}

// DefaultRulePack returns the embedded rule pack.
func DefaultRulePack(logger *slog.Logger) *RulePack {
	pack, err := ParseRulePack(defaultRulePack, logger)
	if err != nil {
		panic(fmt.Sprintf("embedded rule pack: %v", err))
	}
	return pack
}

// NewRulePack loads rules from path. An empty or missing path yields the
// embedded defaults; sections absent from the file keep their defaults.
func NewRulePack(path string, logger *slog.Logger) (*RulePack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultRulePack(logger), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("rule pack not found, using defaults", slog.String("path", path))
			return DefaultRulePack(logger), nil
		}
		return nil, err
	}
	return ParseRulePack(data, logger)
}

// ParseRulePack parses YAML rule pack content on top of the embedded defaults.
func ParseRulePack(data []byte, logger *slog.Logger) (*RulePack, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var base RuleConfigFile
	if err := yaml.Unmarshal(defaultRulePack, &base); err != nil {
		return nil, fmt.Errorf("parse default rules: %w", err)
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if cfg.Benign == nil {
		cfg.Benign = base.Benign
	}
	if cfg.SeverityKeywords == nil {
		cfg.SeverityKeywords = base.SeverityKeywords
	}
	if cfg.Rules == nil {
		cfg.Rules = base.Rules
	}

	pack := &RulePack{rules: cfg.Rules, logger: logger}
	for _, b := range cfg.Benign {
		re, err := regexp.Compile(b.Pattern)
		if err != nil {
			return nil, fmt.Errorf("benign rule %q: %w", b.ID, err)
		}
		pack.benign = append(pack.benign, benignRule{BenignPattern: b, re: re})
	}
	for _, sev := range []models.Severity{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium} {
		words := cfg.SeverityKeywords[string(sev)]
		if len(words) == 0 {
			continue
		}
		quoted := make([]string, 0, len(words))
		for _, w := range words {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(w)))
		}
		pack.keywords = append(pack.keywords, keywordRule{
			severity: sev,
			re:       regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)`),
		})
	}
	return pack, nil
}

// Benign reports whether message matches a known-benign pattern.
func (p *RulePack) Benign(message string) (BenignPattern, bool) {
	if p == nil {
		return BenignPattern{}, false
	}
	for _, b := range p.benign {
		if b.re.MatchString(message) {
			return b.BenignPattern, true
		}
	}
	return BenignPattern{}, false
}

// KeywordSeverity classifies message by keyword; the most severe match wins.
func (p *RulePack) KeywordSeverity(message string) models.Severity {
	if p == nil {
		return models.SeverityLow
	}
	for _, k := range p.keywords {
		if k.re.MatchString(message) {
			return k.severity
		}
	}
	return models.SeverityLow
}

// Recommend produces rule-based recommendations for the run's issues.
func (p *RulePack) Recommend(kind models.AnalyzerKind, issues []Issue) []string {
	if p == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range p.rules {
		if len(rule.Match.Kinds) > 0 && !kindMatches(rule.Match.Kinds, kind) {
			continue
		}
		if !rule.Match.issueScoped() {
			matched = appendUnique(matched, rule.Recommendations...)
			continue
		}
		for _, issue := range issues {
			if rule.Match.matches(issue) {
				matched = appendUnique(matched, rule.Recommendations...)
				break
			}
		}
	}
	return matched
}

func (m RuleMatch) issueScoped() bool {
	return m.Category != "" || m.Component != "" || m.Severity != "" || len(m.MessageContains) > 0
}

func (m RuleMatch) matches(issue Issue) bool {
	if m.Category != "" && !strings.EqualFold(m.Category, string(issue.Category)) {
		return false
	}
	if m.Component != "" && !strings.Contains(strings.ToLower(issue.Component), strings.ToLower(m.Component)) {
		return false
	}
	if m.Severity != "" {
		min, ok := models.ParseSeverity(m.Severity)
		if ok && issue.Severity.Rank() < min.Rank() {
			return false
		}
	}
	if len(m.MessageContains) > 0 && !messageContains(issue.Message, m.MessageContains) {
		return false
	}
	return true
}

func kindMatches(kinds []string, kind models.AnalyzerKind) bool {
	for _, k := range kinds {
		if strings.EqualFold(k, string(kind)) {
			return true
		}
	}
	return false
}

func messageContains(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
