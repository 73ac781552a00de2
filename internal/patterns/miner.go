package patterns

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/logsight/ds-analyzer/internal/models"
)

// Store abstracts persistence for mined patterns.
type Store interface {
	StorePatterns(ctx context.Context, runID string, patterns []models.MessagePattern) error
}

// Miner groups issue messages into templates by masking variable tokens.
type Miner struct {
	store  Store
	logger *slog.Logger
	limit  int
}

// NewMiner constructs a Miner; store may be nil for dry runs.
func NewMiner(logger *slog.Logger, store Store) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{store: store, logger: logger, limit: 20}
}

var masks = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "<uuid>"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`), "<ip>"},
	{regexp.MustCompile(`https?://\S+`), "<url>"},
	{regexp.MustCompile(`[A-Za-z]:\\[^\s|"']+|/(?:[\w.-]+/)+[\w.-]*`), "<path>"},
	{regexp.MustCompile(`"[^"]*"|'[^']*'`), "<str>"},
	{regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`), "<hex>"},
	{regexp.MustCompile(`\b\d+(?:\.\d+)?\b`), "<num>"},
}

var reSpaces = regexp.MustCompile(`\s+`)

// Template masks identifiers, numbers, addresses and paths in message.
func Template(message string) string {
	out := message
	for _, m := range masks {
		out = m.re.ReplaceAllString(out, m.repl)
	}
	return strings.TrimSpace(reSpaces.ReplaceAllString(out, " "))
}

// ClusterID is a stable short key for a template.
func ClusterID(template string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(template))
	return fmt.Sprintf("c%08x", h.Sum32())
}

// Mine groups the run's issue records (anomalies or medium+ severity) into
// templates. The returned results are a copy of results with ClusterID set
// on every anomaly; patterns are ordered by count.
func (m *Miner) Mine(ctx context.Context, runID string, records []models.LogRecord, results []models.AnomalyResult) ([]models.MessagePattern, []models.AnomalyResult, error) {
	annotated := append([]models.AnomalyResult(nil), results...)
	if len(records) == 0 {
		return nil, annotated, nil
	}

	aggregates := make(map[string]*templateAggregate)
	order := make([]string, 0)
	for i, rec := range records {
		if i >= len(annotated) {
			break
		}
		res := annotated[i]
		if !res.IsAnomaly && res.Severity.Rank() < models.SeverityMedium.Rank() {
			continue
		}
		tmpl := Template(rec.Message)
		agg, ok := aggregates[tmpl]
		if !ok {
			agg = &templateAggregate{
				pattern:    models.MessagePattern{ClusterID: ClusterID(tmpl), Template: tmpl, Example: rec.Message, Severity: models.SeverityLow},
				components: map[string]struct{}{},
			}
			aggregates[tmpl] = agg
			order = append(order, tmpl)
		}
		agg.add(rec, res)
		if res.IsAnomaly {
			annotated[i].ClusterID = agg.pattern.ClusterID
		}
	}

	patterns := make([]models.MessagePattern, 0, len(order))
	for _, tmpl := range order {
		patterns = append(patterns, aggregates[tmpl].finish())
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Anomalies != patterns[j].Anomalies {
			return patterns[i].Anomalies > patterns[j].Anomalies
		}
		return patterns[i].Count > patterns[j].Count
	})
	if len(patterns) > m.limit {
		patterns = patterns[:m.limit]
	}

	if m.store != nil && len(patterns) > 0 {
		if err := m.store.StorePatterns(ctx, runID, patterns); err != nil {
			m.logger.Warn("pattern store failed", slog.Any("error", err))
		}
	}

	return patterns, annotated, nil
}

type templateAggregate struct {
	pattern    models.MessagePattern
	components map[string]struct{}
}

func (agg *templateAggregate) add(rec models.LogRecord, res models.AnomalyResult) {
	agg.pattern.Count++
	if res.IsAnomaly {
		agg.pattern.Anomalies++
	}
	agg.pattern.Severity = models.MaxSeverity(agg.pattern.Severity, res.Severity)
	agg.components[rec.Component] = struct{}{}
	if rec.Timestamp == nil {
		return
	}
	ts := *rec.Timestamp
	if agg.pattern.FirstSeen == nil || ts.Before(*agg.pattern.FirstSeen) {
		agg.pattern.FirstSeen = timePtr(ts)
	}
	if agg.pattern.LastSeen == nil || ts.After(*agg.pattern.LastSeen) {
		agg.pattern.LastSeen = timePtr(ts)
	}
}

func (agg *templateAggregate) finish() models.MessagePattern {
	components := make([]string, 0, len(agg.components))
	for c := range agg.components {
		components = append(components, c)
	}
	sort.Strings(components)
	agg.pattern.Components = components
	return agg.pattern
}

func timePtr(t time.Time) *time.Time { return &t }
