package repo

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultPostgresDSN = "postgres://localhost:5432/ds_analyzer?sslmode=disable"

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS reports (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			summary TEXT NOT NULL,
			degraded BOOLEAN NOT NULL DEFAULT FALSE,
			created_unix BIGINT NOT NULL,
			report_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_unix)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_kind ON reports(kind)`,
		`CREATE TABLE IF NOT EXISTS patterns (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			cluster_id TEXT NOT NULL,
			template TEXT NOT NULL,
			components_json JSONB NOT NULL,
			count INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			severity TEXT NOT NULL,
			example TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_run ON patterns(run_id)`,
	},
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// NewPostgres opens a postgres database through pgx's database/sql driver.
func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &sqlStore{db: db, dialect: postgresDialect, now: time.Now}, nil
}
