package engine

import (
	"log/slog"

	"github.com/logsight/ds-analyzer/internal/models"
)

// ScorerConfig tunes the statistical stage.
type ScorerConfig struct {
	MinBatchSize int
	Threshold    float64
	Trees        int
	SampleSize   int
	Seed         int64
}

// DefaultScorerConfig mirrors the configuration defaults.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{MinBatchSize: 2, Threshold: 0.62, Trees: 100, SampleSize: 256, Seed: 42}
}

// Scorer combines an isolation forest with rule overrides and keyword severity.
type Scorer struct {
	cfg    ScorerConfig
	rules  *RulePack
	logger *slog.Logger
}

// NewScorer constructs a Scorer; a nil rule pack selects the embedded defaults.
func NewScorer(cfg ScorerConfig, rules *RulePack, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = DefaultRulePack(logger)
	}
	if cfg.MinBatchSize < 2 {
		cfg.MinBatchSize = 2
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = DefaultScorerConfig().Threshold
	}
	return &Scorer{cfg: cfg, rules: rules, logger: logger}
}

// Score returns one result per vector in input order. records is optional and,
// when present, must be index-aligned with vectors; it feeds keyword severity
// and benign overrides.
func (s *Scorer) Score(records []models.LogRecord, vectors []models.FeatureVector) []models.AnomalyResult {
	results := make([]models.AnomalyResult, len(vectors))
	if len(vectors) == 0 {
		return results
	}

	statistical := len(vectors) >= s.cfg.MinBatchSize
	var forest *IsolationForest
	if statistical {
		data := make([][]float64, len(vectors))
		for i, vec := range vectors {
			data[i] = vec.Numeric()
		}
		forest = NewIsolationForest(s.cfg.Trees, s.cfg.SampleSize, s.cfg.Seed)
		forest.Fit(data)
	} else {
		s.logger.Debug("batch below minimum size, using rule-only scoring", slog.Int("records", len(vectors)), slog.Int("min_batch_size", s.cfg.MinBatchSize))
	}

	for i, vec := range vectors {
		message := ""
		if i < len(records) {
			message = records[i].Message
		}
		severity := models.MaxSeverity(s.rules.KeywordSeverity(message), rankSeverity(vec.SeverityRank))

		res := models.AnomalyResult{Severity: severity, Statistical: statistical}
		if statistical {
			res.AnomalyScore = forest.Score(vec.Numeric())
			res.IsAnomaly = res.AnomalyScore >= s.cfg.Threshold || severity == models.SeverityCritical
		} else {
			res.AnomalyScore = ruleScore(severity)
			res.IsAnomaly = severity.Rank() >= models.SeverityHigh.Rank()
		}

		if benign, ok := s.rules.Benign(message); ok {
			res.IsAnomaly = false
			res.Benign = true
			res.BenignReason = benign.ID
		}
		results[i] = res
	}
	return results
}

func rankSeverity(rank int) models.Severity {
	switch {
	case rank >= 3:
		return models.SeverityCritical
	case rank == 2:
		return models.SeverityHigh
	case rank == 1:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func ruleScore(severity models.Severity) float64 {
	switch severity {
	case models.SeverityCritical:
		return 1
	case models.SeverityHigh:
		return 0.75
	case models.SeverityMedium:
		return 0.5
	default:
		return 0.25
	}
}
