package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logsight/ds-analyzer/internal/models"
)

func newTestStore(t *testing.T) *sqlStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "reports.db")
	store, err := NewSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store.(*sqlStore)
}

func sampleReport(summary string, severity models.Severity) models.AnalysisReport {
	rep := models.NewReport()
	rep.Summary = summary
	rep.Severity = severity
	rep.Details = []string{"dsa.Heartbeat: 3 issues"}
	rep.Recommendations = []string{"Check manager connectivity"}
	rep.Metadata["run_id"] = "run"
	return rep
}

func TestSaveAndGetReport(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rep := sampleReport("Heartbeat failures", models.SeverityHigh)
	rep.Metadata["degraded"] = true

	id, err := store.SaveReport(ctx, "run-1", models.KindDSAgent, rep)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := store.GetReport(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, models.KindDSAgent, got.Kind)
	assert.Equal(t, models.SeverityHigh, got.Severity)
	assert.True(t, got.Degraded)
	assert.Equal(t, "Heartbeat failures", got.Report.Summary)
	assert.Equal(t, []string{"Check manager connectivity"}, got.Report.Recommendations)
}

func TestGetReportNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetReport(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListReportsNewestFirstWithFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 7, 24, 23, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_, err := store.SaveReport(ctx, "run-a", models.KindDSAgent, sampleReport("first", models.SeverityLow))
	require.NoError(t, err)
	_, err = store.SaveReport(ctx, "run-b", models.KindAMSP, sampleReport("second", models.SeverityMedium))
	require.NoError(t, err)
	_, err = store.SaveReport(ctx, "run-c", models.KindDSAgent, sampleReport("third", models.SeverityCritical))
	require.NoError(t, err)

	all, err := store.ListReports(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].RunID)
	assert.Equal(t, "run-a", all[2].RunID)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	agents, err := store.ListReports(ctx, ListFilter{Kind: models.KindDSAgent, Limit: 1})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "third", agents[0].Summary)

	recent, err := store.ListReports(ctx, ListFilter{Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-b", recent[1].RunID)

	recentAgents, err := store.ListReports(ctx, ListFilter{Kind: models.KindDSAgent, Since: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, recentAgents, 1)
	assert.Equal(t, "run-c", recentAgents[0].RunID)
}

func TestStorePatternsReplacesRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	patterns := []models.MessagePattern{
		{ClusterID: "c00000001", Template: "Heartbeat failed <num>", Components: []string{"dsa.Heartbeat"}, Count: 3, Anomalies: 2, Severity: models.SeverityHigh},
		{ClusterID: "c00000002", Template: "Scan timeout <path>", Components: []string{"AMSP"}, Count: 1, Anomalies: 1, Severity: models.SeverityMedium},
	}
	require.NoError(t, store.StorePatterns(ctx, "run-1", patterns))
	require.NoError(t, store.StorePatterns(ctx, "run-1", patterns[:1]))

	n, err := store.patternCount(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.StorePatterns(ctx, "", patterns))
	require.NoError(t, store.StorePatterns(ctx, "run-2", nil))
}

func TestNewStoreDriverSelection(t *testing.T) {
	store, err := NewStore(Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = NewStore(Config{Enabled: true, Driver: "mysql"})
	assert.True(t, errors.Is(err, ErrUnsupportedDriver))

	pg, err := NewStore(Config{Enabled: true, Driver: "postgres", DSN: "postgres://user@localhost:5432/db"})
	require.NoError(t, err)
	require.NoError(t, pg.Close())
}

func TestBindRewritesPlaceholders(t *testing.T) {
	pg := &sqlStore{dialect: postgresDialect}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.bind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := &sqlStore{dialect: sqliteDialect}
	assert.Equal(t, "x = ?", lite.bind("x = ?"))
}
