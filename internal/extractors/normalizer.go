package extractors

import (
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/utils"
)

// Format families recognised by the normalizer.
const (
	FamilyDSAgent = "ds_agent"
	FamilyAMSP    = "amsp"
	FamilyGeneric = "generic"
)

// LevelTable maps product-specific raw levels onto the normalized enum.
type LevelTable map[string]models.LogLevel

// DSAgentLevels is the canonical numeric table for ds_agent trace logs.
var DSAgentLevels = LevelTable{
	"1": models.LevelCritical,
	"2": models.LevelError,
	"3": models.LevelWarning,
	"4": models.LevelInfo,
	"5": models.LevelInfo,
	"6": models.LevelInfo,
	"7": models.LevelInfo,
	"8": models.LevelInfo,
	"9": models.LevelInfo,
}

// AMSPLevels is the canonical letter table for AMSP logs.
var AMSPLevels = LevelTable{
	"F": models.LevelCritical,
	"C": models.LevelCritical,
	"E": models.LevelError,
	"W": models.LevelWarning,
	"I": models.LevelInfo,
	"D": models.LevelInfo,
	"T": models.LevelInfo,
}

// TextLevels covers the generic textual level names.
var TextLevels = LevelTable{
	"EMERG":    models.LevelCritical,
	"FATAL":    models.LevelCritical,
	"CRITICAL": models.LevelCritical,
	"CRIT":     models.LevelCritical,
	"SEVERE":   models.LevelError,
	"ERROR":    models.LevelError,
	"ERR":      models.LevelError,
	"WARNING":  models.LevelWarning,
	"WARN":     models.LevelWarning,
	"NOTICE":   models.LevelInfo,
	"INFO":     models.LevelInfo,
	"DEBUG":    models.LevelInfo,
	"TRACE":    models.LevelInfo,
}

// LinePattern is one entry of the ordered pattern list. Named groups ts, tz,
// tag, level, component, pid, tid and message are read when present.
type LinePattern struct {
	Name   string
	Family string
	Regex  *regexp.Regexp
	Levels LevelTable
}

const textLevelGroup = `(?P<level>(?i:EMERG|FATAL|CRITICAL|CRIT|SEVERE|ERROR|ERR|WARNING|WARN|NOTICE|INFO|DEBUG|TRACE))`

// DefaultPatterns is the ordered pattern list; the first match wins.
func DefaultPatterns() []LinePattern {
	return []LinePattern{
		{
			Name:   "ds_agent_trace",
			Family: FamilyDSAgent,
			Regex:  regexp.MustCompile(`^(?P<ts>\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?)\s*(?:\[(?P<tz>[+-]\d{4})\])?\s*:?\s*\[(?P<tag>[^\]/]+)/(?P<level>-?\d+)\]\s*\|?\s*(?P<message>.*)$`),
			Levels: DSAgentLevels,
		},
		{
			Name:   "amsp",
			Family: FamilyAMSP,
			Regex:  regexp.MustCompile(`^(?P<ts>\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?)\s+\[(?P<pid>\d+):(?P<tid>\d+)\]\s+\[(?P<level>[A-Za-z])\]\s+\[(?P<component>[^\]]+)\]\s*(?P<message>.*)$`),
			Levels: AMSPLevels,
		},
		{
			Name:   "generic_timestamped",
			Family: FamilyGeneric,
			Regex:  regexp.MustCompile(`^(?P<ts>\d{4}[-/]\d{2}[-/]\d{2}[ T]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+\[?` + textLevelGroup + `\]?(?:\s*[:\-]\s*|\s+|$)(?:\[(?P<component>[^\]]+)\]\s*)?[:\-]?\s*(?P<message>.*)$`),
			Levels: TextLevels,
		},
		{
			Name:   "generic_level_prefix",
			Family: FamilyGeneric,
			Regex:  regexp.MustCompile(`^\[?` + textLevelGroup + `\]?(?:\s*[:\-]\s*|\s+)(?:\[(?P<component>[^\]]+)\]\s*)?[:\-]?\s*(?P<message>.+)$`),
			Levels: TextLevels,
		},
	}
}

var (
	reKV       = regexp.MustCompile(`^([A-Za-z_][\w.-]*)=(\S*)$`)
	reInlineKV = regexp.MustCompile(`\b(tid|pid|thread|session|code|err|error)=([^\s,;|]+)`)
	reModule   = regexp.MustCompile(`^[A-Za-z][\w-]*(?:\.[A-Za-z][\w-]*)+$`)
	reSource   = regexp.MustCompile(`^[\w./\\-]+\.(?:cpp|c|h|lua|py|go|js)(?:[:(]\d+\)?)?(?::\w+)?$`)
	reIPv4     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	rePath     = regexp.MustCompile(`(?:[A-Za-z]:\\[^\s|"']+|/(?:[\w.-]+/)+[\w.-]*)`)
)

// ParseStats summarises one parse pass; parse anomalies surface only here.
type ParseStats struct {
	Total          int
	Parsed         int
	Unparsed       int
	LevelAnomalies int
	ByFamily       map[string]int
}

// SuccessRate is the share of lines matched by a known pattern.
func (s ParseStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Parsed) / float64(s.Total)
}

// Normalizer turns raw log text into LogRecords using an ordered pattern list.
type Normalizer struct {
	patterns []LinePattern
	loc      *time.Location
	logger   *slog.Logger
}

// NewNormalizer builds a normalizer; nil patterns selects DefaultPatterns.
func NewNormalizer(logger *slog.Logger, loc *time.Location, patterns []LinePattern) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Normalizer{patterns: patterns, loc: loc, logger: logger}
}

// Parse lazily yields one record per non-blank line of raw. Each call restarts
// from the beginning, so ranging twice produces identical records.
func (n *Normalizer) Parse(raw string) iter.Seq[models.LogRecord] {
	return n.ParseSource("", raw)
}

// ParseSource is Parse with every record tagged with its source file name.
func (n *Normalizer) ParseSource(source, raw string) iter.Seq[models.LogRecord] {
	return func(yield func(models.LogRecord) bool) {
		text := strings.ToValidUTF8(raw, "\uFFFD")
		text = strings.TrimPrefix(text, "\uFEFF")
		lineNo := 0
		for len(text) > 0 {
			var line string
			if idx := strings.IndexByte(text, '\n'); idx >= 0 {
				line, text = text[:idx], text[idx+1:]
			} else {
				line, text = text, ""
			}
			lineNo++
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			rec := n.ParseLine(line)
			rec.Line = lineNo
			if source != "" {
				rec.Extra["source_file"] = source
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// ParseAll collects Parse output together with parse statistics.
func (n *Normalizer) ParseAll(source, raw string) ([]models.LogRecord, ParseStats) {
	stats := ParseStats{ByFamily: map[string]int{}}
	var records []models.LogRecord
	for rec := range n.ParseSource(source, raw) {
		stats.Total++
		if rec.Parsed {
			stats.Parsed++
			stats.ByFamily[rec.Extra["format"]]++
		} else {
			stats.Unparsed++
		}
		if rec.LevelAnomaly {
			stats.LevelAnomalies++
		}
		records = append(records, rec)
	}
	return records, stats
}

// ParseLine applies the pattern list to a single line. It never fails: lines
// no pattern matches become component "unknown" records at info level.
func (n *Normalizer) ParseLine(line string) models.LogRecord {
	trimmed := strings.TrimSpace(line)
	for _, p := range n.patterns {
		m := p.Regex.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		return n.build(p, groups(p.Regex, m), trimmed)
	}
	return models.LogRecord{
		Component:          models.UnknownComponent,
		NormalizedSeverity: models.LevelInfo,
		Message:            trimmed,
		Extra:              extractInline(trimmed, map[string]string{}),
	}
}

func (n *Normalizer) build(p LinePattern, g map[string]string, line string) models.LogRecord {
	extra := map[string]string{"format": p.Family, "pattern": p.Name}
	rec := models.LogRecord{Parsed: true, RawSeverity: g["level"], Extra: extra}

	if ts := g["ts"]; ts != "" {
		if parsed, err := utils.ParseLogTimestamp(strings.Replace(ts, ",", ".", 1), g["tz"], n.loc); err == nil {
			rec.Timestamp = &parsed
		}
	}

	level, ok := p.Levels[strings.ToUpper(g["level"])]
	if !ok {
		level = models.LevelInfo
		rec.LevelAnomaly = true
		n.logger.Debug("log level outside lookup table", slog.String("pattern", p.Name), slog.String("level", g["level"]))
	}
	rec.NormalizedSeverity = level

	for _, key := range []string{"pid", "tid"} {
		if v := g[key]; v != "" {
			extra[key] = v
		}
	}

	message, module := splitPipeFields(g["message"], extra)
	rec.Component = firstNonEmpty(module, strings.TrimSpace(g["component"]), strings.TrimSpace(g["tag"]), "general")
	if tag := strings.TrimSpace(g["tag"]); tag != "" {
		extra["tag"] = tag
	}
	if message == "" {
		message = line
	}
	rec.Message = message
	extractInline(message, extra)
	return rec
}

// splitPipeFields splits "message | dsa.Module | key=value" trailers. The first
// dotted module name becomes the component.
func splitPipeFields(body string, extra map[string]string) (string, string) {
	parts := strings.Split(body, "|")
	var message []string
	module := ""
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if i > 0 || len(parts) > 1 {
			if kv := reKV.FindStringSubmatch(part); kv != nil {
				extra[strings.ToLower(kv[1])] = kv[2]
				continue
			}
			if reSource.MatchString(part) {
				extra["source"] = part
				continue
			}
			if module == "" && reModule.MatchString(part) {
				module = part
				continue
			}
		}
		message = append(message, part)
	}
	return strings.Join(message, " | "), module
}

func extractInline(message string, extra map[string]string) map[string]string {
	for _, m := range reInlineKV.FindAllStringSubmatch(message, -1) {
		key := strings.ToLower(m[1])
		if _, exists := extra[key]; !exists {
			extra[key] = m[2]
		}
	}
	if ip := reIPv4.FindString(message); ip != "" {
		extra["ip"] = ip
	}
	if path := rePath.FindString(message); path != "" {
		extra["path"] = path
	}
	return extra
}

func groups(re *regexp.Regexp, match []string) map[string]string {
	out := make(map[string]string, len(match))
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			out[name] = match[i]
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
