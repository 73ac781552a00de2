package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/logsight/ds-analyzer/internal/models"
	"github.com/logsight/ds-analyzer/internal/report"
	"github.com/logsight/ds-analyzer/internal/utils"
)

// ErrUnsupportedDriver is returned by NewStore for unknown storage drivers.
var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// ErrNotFound is returned when a stored report does not exist.
var ErrNotFound = errors.New("report not found")

const defaultListLimit = 20

// ReportRecord is one persisted analysis.
type ReportRecord struct {
	ID        string
	RunID     string
	Kind      models.AnalyzerKind
	Severity  models.Severity
	Summary   string
	Degraded  bool
	CreatedAt time.Time
	Report    models.AnalysisReport
}

// ListFilter narrows ListReports; zero values match everything.
type ListFilter struct {
	Kind  models.AnalyzerKind
	Since time.Time
	Limit int
}

// Store persists finished reports and the message patterns mined for them.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReport(ctx context.Context, runID string, kind models.AnalyzerKind, rep models.AnalysisReport) (string, error)
	GetReport(ctx context.Context, id string) (ReportRecord, error)
	ListReports(ctx context.Context, filter ListFilter) ([]ReportRecord, error)
	StorePatterns(ctx context.Context, runID string, patterns []models.MessagePattern) error
}

// Config selects the storage backend.
type Config struct {
	Enabled bool
	Driver  string
	DSN     string
}

// NewStore opens the configured backend. A disabled config yields a nil store.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// dialect carries the per-driver SQL differences.
type dialect struct {
	name   string
	schema []string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return utils.NewAppError("repo.Init", s.dialect.name+" schema", err)
		}
	}
	return nil
}

// bind rewrites "?" placeholders for the active dialect.
func (s *sqlStore) bind(query string) string {
	if s.dialect.placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) SaveReport(ctx context.Context, runID string, kind models.AnalyzerKind, rep models.AnalysisReport) (string, error) {
	data, err := report.Marshal(rep)
	if err != nil {
		return "", utils.NewAppError("repo.SaveReport", "encode report", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, s.bind(
		`INSERT INTO reports (id, run_id, kind, severity, summary, degraded, created_unix, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id,
		runID,
		string(kind),
		string(rep.Severity),
		rep.Summary,
		rep.Degraded(),
		s.now().UTC().UnixNano(),
		string(data),
	)
	if err != nil {
		return "", utils.NewAppError("repo.SaveReport", "insert report", err)
	}
	return id, nil
}

func (s *sqlStore) GetReport(ctx context.Context, id string) (ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, s.bind(
		`SELECT id, run_id, kind, severity, summary, degraded, created_unix, report_json
		FROM reports WHERE id = ?`), id)
	rec, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ReportRecord{}, ErrNotFound
	}
	if err != nil {
		return ReportRecord{}, utils.NewAppError("repo.GetReport", "query report", err)
	}
	return rec, nil
}

// ListReports returns the newest reports first.
func (s *sqlStore) ListReports(ctx context.Context, filter ListFilter) ([]ReportRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, run_id, kind, severity, summary, degraded, created_unix, report_json FROM reports`
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, `kind = ?`)
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		where = append(where, `created_unix >= ?`)
		args = append(args, filter.Since.UnixNano())
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_unix DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, utils.NewAppError("repo.ListReports", "query reports", err)
	}
	defer rows.Close()

	out := []ReportRecord{}
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, utils.NewAppError("repo.ListReports", "scan report", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError("repo.ListReports", "iterate reports", err)
	}
	return out, nil
}

// StorePatterns replaces the patterns recorded for runID.
func (s *sqlStore) StorePatterns(ctx context.Context, runID string, patterns []models.MessagePattern) error {
	if runID == "" || len(patterns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError("repo.StorePatterns", "begin", err)
	}
	if _, err := tx.ExecContext(ctx, s.bind(`DELETE FROM patterns WHERE run_id = ?`), runID); err != nil {
		_ = tx.Rollback()
		return utils.NewAppError("repo.StorePatterns", "clear patterns", err)
	}
	stmt, err := tx.PrepareContext(ctx, s.bind(
		`INSERT INTO patterns (run_id, cluster_id, template, components_json, count, anomalies, severity, example)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return utils.NewAppError("repo.StorePatterns", "prepare", err)
	}
	defer stmt.Close()
	for _, p := range patterns {
		if _, err := stmt.ExecContext(ctx,
			runID,
			p.ClusterID,
			p.Template,
			encodeJSON(p.Components),
			p.Count,
			p.Anomalies,
			string(p.Severity),
			p.Example,
		); err != nil {
			_ = tx.Rollback()
			return utils.NewAppError("repo.StorePatterns", "insert pattern", err)
		}
	}
	return tx.Commit()
}

// patternCount returns the number of stored patterns for runID.
func (s *sqlStore) patternCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(*) FROM patterns WHERE run_id = ?`), runID).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (ReportRecord, error) {
	var (
		rec      ReportRecord
		kind     string
		severity string
		created  int64
		payload  string
	)
	if err := row.Scan(&rec.ID, &rec.RunID, &kind, &severity, &rec.Summary, &rec.Degraded, &created, &payload); err != nil {
		return ReportRecord{}, err
	}
	rec.Kind = models.AnalyzerKind(kind)
	rec.Severity = models.Severity(severity)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rep, err := report.Unmarshal([]byte(payload), rec.Kind)
	if err != nil {
		return ReportRecord{}, err
	}
	rec.Report = rep
	return rec, nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
