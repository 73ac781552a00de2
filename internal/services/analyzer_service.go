package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/logsight/ds-analyzer/internal/api"
	"github.com/logsight/ds-analyzer/internal/metrics"
	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/repo"
	"github.com/logsight/ds-analyzer/internal/utils"
)

// Analyzer runs one analysis and always returns a well-formed report.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) models.AnalysisReport
}

// ReportHistory reads persisted reports.
type ReportHistory interface {
	GetReport(ctx context.Context, id string) (repo.ReportRecord, error)
	ListReports(ctx context.Context, filter repo.ListFilter) ([]repo.ReportRecord, error)
}

// Limits bounds what a single Analyze call may submit.
type Limits struct {
	MaxFiles int
}

var _ api.AnalyzerServer = (*AnalyzerService)(nil)

// AnalyzerService implements the gRPC Analyzer service.
type AnalyzerService struct {
	logger    *slog.Logger
	analyzer  Analyzer
	history   ReportHistory
	limits    Limits
	latencies *utils.LatencyTracker
}

// NewAnalyzerService constructs the service facade. history may be nil when
// storage is disabled.
func NewAnalyzerService(logger *slog.Logger, analyzer Analyzer, history ReportHistory, limits Limits) *AnalyzerService {
	if logger == nil {
		logger = slog.Default()
	}
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = 32
	}
	return &AnalyzerService{
		logger:    logger,
		analyzer:  analyzer,
		history:   history,
		limits:    limits,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze validates the request and runs the pipeline. Once the request is
// valid the call never fails: completion problems come back as a degraded
// report.
func (s *AnalyzerService) Analyze(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.analyzer == nil {
		return nil, status.Error(codes.FailedPrecondition, "analyzer not configured")
	}

	domainReq, err := api.FromStructAnalysisRequest(req)
	if err != nil {
		metrics.ObserveAnalysis("unknown", 0, metrics.OutcomeError)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if len(domainReq.Files) > s.limits.MaxFiles {
		metrics.ObserveAnalysis(string(domainReq.Kind), 0, metrics.OutcomeError)
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("too many files: %d (max %d)", len(domainReq.Files), s.limits.MaxFiles))
	}

	s.logger.Debug("Analyze called", slog.String("kind", string(domainReq.Kind)), slog.Int("files", len(domainReq.Files)))

	start := time.Now()
	rep := s.analyzer.Analyze(ctx, domainReq)
	duration := time.Since(start)

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}

	out, err := api.ToStructReport(rep)
	if err != nil {
		s.logger.Error("report encoding failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode report")
	}
	return out, nil
}

// GetReport returns one persisted report.
func (s *AnalyzerService) GetReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "report history not configured")
	}
	id, err := api.FromStructGetReport(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rec, err := s.history.GetReport(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, status.Error(codes.NotFound, fmt.Sprintf("report %s not found", id))
	}
	if err != nil {
		s.logger.Error("get report failed", slog.String("id", id), slog.String("op", utils.OpOf(err)), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to load report")
	}

	out, err := api.ToStructReportRecord(rec, true)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode report")
	}
	return out, nil
}

// ListReports returns recent persisted reports, newest first.
func (s *AnalyzerService) ListReports(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.FailedPrecondition, "report history not configured")
	}
	listReq, err := api.FromStructListReports(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	records, err := s.history.ListReports(ctx, listReq.Filter)
	if err != nil {
		s.logger.Error("list reports failed", slog.String("op", utils.OpOf(err)), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list reports")
	}

	out, err := api.ToStructReportList(records, listReq.IncludeReport)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode reports")
	}
	return out, nil
}

// LatencyP95 returns the current p95 analysis latency.
func (s *AnalyzerService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
