package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/logsight/ds-analyzer/internal/events"
	"github.com/logsight/ds-analyzer/internal/extractors"
	"github.com/logsight/ds-analyzer/internal/knowledge"
	"github.com/logsight/ds-analyzer/internal/metrics"
	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/patterns"
	"github.com/logsight/ds-analyzer/internal/prompt"
	"github.com/logsight/ds-analyzer/internal/report"
)

const tracerName = "github.com/logsight/ds-analyzer/internal/engine"

// Completer is the external completion service.
type Completer interface {
	Complete(ctx context.Context, prompt, model string) (string, error)
}

// ReportStore persists finished reports.
type ReportStore interface {
	SaveReport(ctx context.Context, runID string, kind models.AnalyzerKind, rep models.AnalysisReport) (string, error)
}

// RunConfig holds the per-run settings that are not owned by a stage.
type RunConfig struct {
	Product           string
	Model             string
	CompletionTimeout time.Duration
	MaxSampleLines    int
	Location          *time.Location
	// PersistTimeout bounds saving and publishing a finished report. It runs
	// detached from the request deadline so timed-out runs are still recorded.
	PersistTimeout time.Duration
}

// DefaultRunConfig mirrors the configuration defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Product:           "Deep Security",
		CompletionTimeout: 60 * time.Second,
		MaxSampleLines:    25,
		Location:          time.UTC,
		PersistTimeout:    5 * time.Second,
	}
}

// DiagnosticRun wires every stage of the log-to-report pipeline. Stages are
// stateless between runs, so one DiagnosticRun serves concurrent analyses.
type DiagnosticRun struct {
	logger       *slog.Logger
	cfg          RunConfig
	normalizer   *extractors.Normalizer
	features     *extractors.FeatureExtractor
	scorer       *Scorer
	rules        *RulePack
	health       *HealthAggregator
	correlations *CorrelationEngine
	bursts       *extractors.BurstDetector
	resources    *extractors.ResourceExtractor
	miner        *patterns.Miner
	retriever    *knowledge.Retriever
	composer     *prompt.Composer
	completer    Completer
	standardizer *report.Standardizer
	sink         events.ProgressSink
	store        ReportStore
	publisher    events.ReportPublisher
	tracer       trace.Tracer
	newRunID     func() string
	now          func() time.Time
}

// Option customises a DiagnosticRun.
type Option func(*DiagnosticRun)

// WithNormalizer replaces the default log normalizer.
func WithNormalizer(n *extractors.Normalizer) Option {
	return func(d *DiagnosticRun) { d.normalizer = n }
}

// WithScorer replaces the default scorer.
func WithScorer(s *Scorer) Option {
	return func(d *DiagnosticRun) { d.scorer = s }
}

// WithRulePack sets the rule pack used for recommendations and, unless a
// scorer is supplied, for benign overrides.
func WithRulePack(r *RulePack) Option {
	return func(d *DiagnosticRun) { d.rules = r }
}

func WithHealthAggregator(h *HealthAggregator) Option {
	return func(d *DiagnosticRun) { d.health = h }
}

func WithCorrelationEngine(c *CorrelationEngine) Option {
	return func(d *DiagnosticRun) { d.correlations = c }
}

func WithMiner(m *patterns.Miner) Option {
	return func(d *DiagnosticRun) { d.miner = m }
}

// WithRetriever sets the knowledge retriever; without one retrieval is reported unavailable.
func WithRetriever(r *knowledge.Retriever) Option {
	return func(d *DiagnosticRun) { d.retriever = r }
}

func WithComposer(c *prompt.Composer) Option {
	return func(d *DiagnosticRun) { d.composer = c }
}

// WithCompleter sets the completion service; without one every report is degraded.
func WithCompleter(c Completer) Option {
	return func(d *DiagnosticRun) { d.completer = c }
}

func WithProgressSink(s events.ProgressSink) Option {
	return func(d *DiagnosticRun) { d.sink = s }
}

func WithReportStore(s ReportStore) Option {
	return func(d *DiagnosticRun) { d.store = s }
}

func WithPublisher(p events.ReportPublisher) Option {
	return func(d *DiagnosticRun) { d.publisher = p }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(fn func() string) Option {
	return func(d *DiagnosticRun) { d.newRunID = fn }
}

// NewDiagnosticRun constructs a pipeline; every stage left unset gets its default.
func NewDiagnosticRun(logger *slog.Logger, cfg RunConfig, opts ...Option) *DiagnosticRun {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRunConfig()
	if cfg.Product == "" {
		cfg.Product = def.Product
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = def.CompletionTimeout
	}
	if cfg.MaxSampleLines <= 0 {
		cfg.MaxSampleLines = def.MaxSampleLines
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = def.PersistTimeout
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}

	d := &DiagnosticRun{logger: logger, cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}

	if d.rules == nil {
		d.rules = DefaultRulePack(logger)
	}
	if d.normalizer == nil {
		d.normalizer = extractors.NewNormalizer(logger, cfg.Location, nil)
	}
	if d.features == nil {
		d.features = extractors.NewFeatureExtractor()
	}
	if d.scorer == nil {
		d.scorer = NewScorer(DefaultScorerConfig(), d.rules, logger)
	}
	if d.health == nil {
		d.health = NewHealthAggregator(DefaultHealthConfig())
	}
	if d.correlations == nil {
		d.correlations = NewCorrelationEngine(logger, 0)
	}
	if d.bursts == nil {
		d.bursts = extractors.NewBurstDetector()
	}
	if d.resources == nil {
		d.resources = extractors.NewResourceExtractor()
	}
	if d.miner == nil {
		d.miner = patterns.NewMiner(logger, nil)
	}
	if d.composer == nil {
		d.composer = prompt.NewComposer(24000)
	}
	if d.standardizer == nil {
		d.standardizer = report.NewStandardizer(logger)
	}
	if d.sink == nil {
		d.sink = events.NoopSink{}
	}
	if d.publisher == nil {
		d.publisher = events.NoopPublisher{}
	}
	if d.newRunID == nil {
		d.newRunID = uuid.NewString
	}
	if d.now == nil {
		d.now = time.Now
	}
	d.tracer = otel.Tracer(tracerName)
	return d
}

// Retriever exposes the configured retriever (nil when retrieval is disabled).
func (d *DiagnosticRun) Retriever() *knowledge.Retriever { return d.retriever }

// Analyze runs every stage and always returns a well-formed report. Failures of
// the completion service degrade the report instead of failing the run.
func (d *DiagnosticRun) Analyze(ctx context.Context, req models.AnalysisRequest) models.AnalysisReport {
	started := d.now()
	kind := req.Kind
	if kind == "" {
		kind = models.KindDSAgent
	}
	runID := d.newRunID()
	logger := d.logger.With(slog.String("run_id", runID), slog.String("kind", string(kind)))

	if req.Options.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Options.Deadline)
		defer cancel()
	}
	ctx, span := d.tracer.Start(ctx, "ds_analyzer.analyze", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("analysis.kind", string(kind)),
		attribute.Int("input.files", len(req.Files)),
	))
	defer span.End()

	st := &runState{runID: runID, kind: kind, req: req}

	d.progress(ctx, st, events.StageParse, 5, fmt.Sprintf("parsing %d file(s)", len(req.Files)))
	d.parse(ctx, st)
	if len(st.records) == 0 {
		logger.Info("no log records in input")
		rep := d.standardizer.Standardize(nil, kind)
		rep.Metadata["run_id"] = runID
		rep.Metadata["empty_input"] = true
		rep.Metadata["files"] = fileNames(req.Files)
		rep.Details = append(rep.Details, "No log lines were found in the supplied input")
		span.SetStatus(codes.Error, "empty input")
		metrics.ObserveAnalysis(string(kind), d.now().Sub(started), metrics.OutcomeError)
		d.progress(ctx, st, events.StageFinished, 100, "no log records found")
		return rep
	}

	d.progress(ctx, st, events.StageFeatures, 15, fmt.Sprintf("extracting features for %d records", len(st.records)))
	st.vectors = d.features.ExtractAll(st.records)

	d.progress(ctx, st, events.StageScore, 30, "scoring anomalies")
	d.score(ctx, st)

	d.progress(ctx, st, events.StageHealth, 45, "aggregating component health")
	d.aggregate(ctx, st)

	d.progress(ctx, st, events.StageRetrieve, 60, "retrieving knowledge")
	d.retrieve(ctx, st)

	d.progress(ctx, st, events.StageCompose, 70, "composing prompt")
	base := d.baseReport(st)
	promptText := d.compose(ctx, st)

	d.progress(ctx, st, events.StageComplete, 80, "requesting expert narrative")
	narrative, completionErr := d.complete(ctx, st, promptText)

	d.progress(ctx, st, events.StageStandardize, 95, "standardizing report")
	rep := d.finish(st, base, narrative, completionErr, logger)
	rep.Metadata["duration_ms"] = d.now().Sub(started).Milliseconds()

	d.persist(ctx, st, &rep, logger)

	outcome := metrics.OutcomeSuccess
	if rep.Degraded() {
		outcome = metrics.OutcomeDegraded
		span.SetAttributes(attribute.Bool("report.degraded", true))
	}
	metrics.ObserveAnalysis(string(kind), d.now().Sub(started), outcome)
	span.SetAttributes(attribute.String("report.severity", string(rep.Severity)))
	logger.Info("analysis finished",
		slog.Int("records", len(st.records)),
		slog.Int("anomalies", st.anomalyCount()),
		slog.String("severity", string(rep.Severity)),
		slog.Bool("degraded", rep.Degraded()),
	)
	d.progress(ctx, st, events.StageFinished, 100, "analysis complete")
	return rep
}

// runState carries one run's intermediate results between stages.
type runState struct {
	runID        string
	kind         models.AnalyzerKind
	req          models.AnalysisRequest
	records      []models.LogRecord
	stats        extractors.ParseStats
	vectors      []models.FeatureVector
	results      []models.AnomalyResult
	patterns     []models.MessagePattern
	health       map[string]models.ComponentHealth
	correlation  CorrelationResult
	bursts       []extractors.ErrorBurst
	spikes       []extractors.ResourceSpike
	readings     []extractors.ResourceReading
	queries      []string
	knowledge    []models.RetrievalResult
	notes        []string
	retrievalOff bool
}

func (st *runState) anomalyCount() int {
	n := 0
	for _, r := range st.results {
		if r.IsAnomaly {
			n++
		}
	}
	return n
}

func (st *runState) note(format string, args ...any) {
	st.notes = append(st.notes, fmt.Sprintf(format, args...))
}

func (d *DiagnosticRun) progress(ctx context.Context, st *runState, stage string, pct int, msg string) {
	d.sink.Progress(ctx, events.Progress{
		RunID:     st.runID,
		Stage:     stage,
		Percent:   pct,
		Message:   msg,
		Timestamp: d.now().UTC(),
	})
}

func (d *DiagnosticRun) parse(ctx context.Context, st *runState) {
	_, span := d.tracer.Start(ctx, "ds_analyzer.parse")
	defer span.End()

	st.stats = extractors.ParseStats{ByFamily: map[string]int{}}
	for _, f := range st.req.Files {
		records, stats := d.normalizer.ParseAll(f.Name, f.Content)
		st.records = append(st.records, records...)
		st.stats.Total += stats.Total
		st.stats.Parsed += stats.Parsed
		st.stats.Unparsed += stats.Unparsed
		st.stats.LevelAnomalies += stats.LevelAnomalies
		for family, n := range stats.ByFamily {
			st.stats.ByFamily[family] += n
		}
	}
	metrics.AddParseAnomalies(st.stats.Unparsed)
	span.SetAttributes(
		attribute.Int("records.total", st.stats.Total),
		attribute.Int("records.unparsed", st.stats.Unparsed),
	)
}

func (d *DiagnosticRun) score(ctx context.Context, st *runState) {
	ctx, span := d.tracer.Start(ctx, "ds_analyzer.score")
	defer span.End()

	categories := map[models.ComponentCategory]int{}
	for _, vec := range st.vectors {
		categories[vec.ComponentCategory]++
	}
	for category, n := range categories {
		metrics.AddRecordsParsed(string(category), n)
	}

	st.results = d.scorer.Score(st.records, st.vectors)
	if len(st.results) > 0 && !st.results[0].Statistical {
		st.note("Batch of %d record(s) is below the statistical minimum; rule-only classification applied", len(st.results))
	}

	minedPatterns, annotated, err := d.miner.Mine(ctx, st.runID, st.records, st.results)
	if err != nil {
		d.logger.Warn("pattern mining failed", slog.String("run_id", st.runID), slog.Any("error", err))
	} else {
		st.patterns = minedPatterns
		st.results = annotated
	}
	span.SetAttributes(attribute.Int("anomalies", st.anomalyCount()))
}

func (d *DiagnosticRun) aggregate(ctx context.Context, st *runState) {
	_, span := d.tracer.Start(ctx, "ds_analyzer.health")
	defer span.End()

	st.health = d.health.Aggregate(st.records, st.results)
	st.correlation = d.correlations.Evaluate(st.records, st.results)
	st.bursts = d.bursts.Detect(st.records)
	st.readings = d.resources.Readings(st.records)
	st.spikes = d.resources.Detect(st.readings, 3)
}

func (d *DiagnosticRun) retrieve(ctx context.Context, st *runState) {
	_, span := d.tracer.Start(ctx, "ds_analyzer.retrieve")
	defer span.End()

	retriever := d.retriever
	if retriever == nil {
		retriever = knowledge.NewRetriever(nil, knowledge.Options{Product: d.cfg.Product})
	}
	st.queries = retriever.GenerateQueries(d.queryContext(st))
	if retriever.Corpus().Len() == 0 {
		st.retrievalOff = true
		st.note("Knowledge corpus unavailable; no documentation was retrieved")
		st.knowledge = []models.RetrievalResult{}
		return
	}
	st.knowledge = retriever.Search(st.queries)
	span.SetAttributes(
		attribute.Int("queries", len(st.queries)),
		attribute.Int("results", len(st.knowledge)),
	)
}

func (d *DiagnosticRun) compose(ctx context.Context, st *runState) string {
	_, span := d.tracer.Start(ctx, "ds_analyzer.compose")
	defer span.End()

	text := d.composer.Compose(d.logContext(st), d.mlResults(st), st.knowledge)
	span.SetAttributes(attribute.Int("prompt.chars", len(text)))
	return text
}

var errCompletionSkipped = errors.New("completion skipped by request")

func (d *DiagnosticRun) complete(ctx context.Context, st *runState, promptText string) (string, error) {
	if st.req.Options.SkipCompletion {
		return "", errCompletionSkipped
	}
	if d.completer == nil {
		return "", errors.New("completion service not configured")
	}

	ctx, span := d.tracer.Start(ctx, "ds_analyzer.complete")
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, d.cfg.CompletionTimeout)
	defer cancel()

	model := st.req.Options.Model
	if model == "" {
		model = d.cfg.Model
	}
	text, err := d.completer.Complete(cctx, promptText, model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return "", err
	}
	return text, nil
}

func (d *DiagnosticRun) persist(ctx context.Context, st *runState, rep *models.AnalysisReport, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PersistTimeout)
	defer cancel()
	if d.store != nil {
		id, err := d.store.SaveReport(ctx, st.runID, st.kind, *rep)
		if err != nil {
			logger.Warn("report persistence failed", slog.Any("error", err))
		} else {
			rep.Metadata["report_id"] = id
		}
	}
	if err := d.publisher.PublishReport(ctx, st.runID, *rep); err != nil {
		logger.Warn("report publish failed", slog.Any("error", err))
	}
}

func fileNames(files []models.InputFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}
