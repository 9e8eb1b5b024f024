// internal/store/sqlite/store.go
package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/openhall/hiringhall/internal/store"
)

type SQLiteStore struct {
	store.BaseStore
}

func NewSQLiteStore(dsn, migrationsDir string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{BaseStore: store.BaseStore{
		DB: db,
		Converter: func(query string) string {
			return query
		},
	}}

	if err := s.BaseStore.ApplyMigrations(migrationsDir, translateToSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) ApplyMigrations(dir string) error {
	return s.BaseStore.ApplyMigrations(dir, translateToSQLite)
}

// translateToSQLite converts Postgres SQL to SQLite dialect
func translateToSQLite(sql string) string {
	replacements := map[string]string{
		"BIGSERIAL PRIMARY KEY": "INTEGER PRIMARY KEY AUTOINCREMENT",
		"BIGSERIAL":             "INTEGER",
		"BIGINT":                "INTEGER",
		"UUID":                  "TEXT",
		"TIMESTAMPTZ":           "TIMESTAMP",
		"NUMERIC(12,2)":         "NUMERIC",
		"TRUE":                  "1",
		"FALSE":                 "0",
		"RETURNING":             "",
		"now()":                 "CURRENT_TIMESTAMP",
		"VARCHAR(16)":           "TEXT",
		"VARCHAR(40)":           "TEXT",
		"VARCHAR(80)":           "TEXT",
		`CHECK (member_id ~ '^[A-Z]{1,4}-?\d{3,9}$')`: "",
		"::text": "",
	}
	result := sql
	for from, to := range replacements {
		result = strings.ReplaceAll(result, from, to)
	}
	return result
}

func (s *SQLiteStore) FetchDispatchStats(book string, since, until time.Time, timestampFormat string, includeHumanDttm bool) ([]store.DispatchStatRow, error) {
	query := `
		WITH window_dispatches AS (
			SELECT member_id, book, started_at, ended_at, short_call
			FROM dispatches
			WHERE book = ?
			AND started_at >= ?
			AND started_at < ?
		)
		SELECT
			w.member_id,
			w.book,
			COUNT(*) AS dispatches,
			SUM(CASE WHEN w.short_call THEN 1 ELSE 0 END) AS short_calls,
			CAST(AVG((julianday(w.ended_at) - julianday(w.started_at)) * 86400) AS INTEGER) AS avg_job_seconds,
			CASE WHEN ? THEN
				strftime(?, MIN(w.started_at))
			ELSE NULL
			END AS first_dispatch,
			(
				SELECT d.termination
				FROM dispatches d
				WHERE d.member_id = w.member_id
				AND d.book = w.book
				AND d.ended_at IS NOT NULL
				ORDER BY d.ended_at DESC
				LIMIT 1
			) AS last_term_reason
		FROM window_dispatches w
		GROUP BY w.member_id, w.book
		ORDER BY w.member_id
	`

	var results []store.DispatchStatRow
	err := s.DB.Select(&results, query,
		book,
		since,
		until,
		includeHumanDttm,
		timestampFormat,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch dispatch stats: %w", err)
	}

	return results, nil
}
