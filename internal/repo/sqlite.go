package repo

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultSQLiteDSN = "file:ds-analyzer.db?_pragma=busy_timeout(5000)"

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			summary TEXT NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT 0,
			created_unix INTEGER NOT NULL,
			report_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_unix)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(kind)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			template TEXT NOT NULL,
			components_json TEXT NOT NULL,
			count INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			severity TEXT NOT NULL,
			example TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_run ON patterns(run_id)`,
	},
}

// NewSQLite opens a sqlite database through the pure-Go modernc driver.
func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY under concurrent runs.
	db.SetMaxOpenConns(1)
	return &sqlStore{db: db, dialect: sqliteDialect, now: time.Now}, nil
}
