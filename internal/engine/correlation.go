package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/logsight/ds-analyzer/internal/models"
)

// CorrelationEngine applies lightweight temporal heuristics to link component issues.
type CorrelationEngine struct {
	logger *slog.Logger
	window time.Duration
	limit  int
}

// CorrelationResult captures the outcome of a correlation evaluation.
type CorrelationResult struct {
	Correlations []models.ComponentCorrelation
	Notes        []string
}

// NewCorrelationEngine constructs a CorrelationEngine. Follower issues must
// occur within window of a leader issue to count as supporting evidence.
func NewCorrelationEngine(logger *slog.Logger, window time.Duration) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &CorrelationEngine{logger: logger, window: window, limit: 10}
}

// Evaluate inspects issue ordering between components and derives a score in
// [0,1] for every leader/follower pair with supporting evidence.
func (e *CorrelationEngine) Evaluate(records []models.LogRecord, results []models.AnomalyResult) CorrelationResult {
	result := CorrelationResult{}
	issues := issueTimeline(records, results)
	if len(issues) < 2 {
		return result
	}

	components := make([]string, 0, len(issues))
	for name := range issues {
		components = append(components, name)
	}
	sort.Strings(components)

	for _, leader := range components {
		for _, follower := range components {
			if leader == follower {
				continue
			}
			leaderTimes, followerTimes := issues[leader], issues[follower]
			if !leaderTimes[0].Before(followerTimes[0]) {
				continue
			}
			supporting := 0
			for _, ft := range followerTimes {
				if e.precededWithin(leaderTimes, ft) {
					supporting++
				}
			}
			if supporting == 0 {
				continue
			}
			ratio := float64(supporting) / float64(len(followerTimes))
			lag := followerTimes[0].Sub(leaderTimes[0])
			result.Correlations = append(result.Correlations, models.ComponentCorrelation{
				Leader:     leader,
				Follower:   follower,
				Lag:        lag,
				Score:      round2(clamp(0.4+0.6*ratio, 0, 1)),
				Supporting: supporting,
			})
			result.Notes = append(result.Notes, fmt.Sprintf("%s issues precede %s by %s", leader, follower, lag.Round(time.Millisecond)))
		}
	}

	sort.SliceStable(result.Correlations, func(i, j int) bool {
		a, b := result.Correlations[i], result.Correlations[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Lag < b.Lag
	})
	if len(result.Correlations) > e.limit {
		result.Correlations = result.Correlations[:e.limit]
	}
	for _, note := range result.Notes {
		e.logger.Debug("correlation note", slog.String("note", note))
	}
	return result
}

func (e *CorrelationEngine) precededWithin(leader []time.Time, t time.Time) bool {
	for _, lt := range leader {
		if lt.After(t) {
			return false
		}
		if t.Sub(lt) <= e.window {
			return true
		}
	}
	return false
}

// issueTimeline collects sorted issue timestamps per component, skipping
// benign matches and records without a timestamp.
func issueTimeline(records []models.LogRecord, results []models.AnomalyResult) map[string][]time.Time {
	out := make(map[string][]time.Time)
	for i, rec := range records {
		if i >= len(results) || rec.Timestamp == nil {
			continue
		}
		res := results[i]
		if res.Benign || !IsIssue(res) {
			continue
		}
		out[rec.Component] = append(out[rec.Component], *rec.Timestamp)
	}
	for name := range out {
		times := out[name]
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	}
	return out
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
