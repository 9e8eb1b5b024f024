package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/openhall/hiringhall/internal/store"
)

type PostgresStore struct {
	store.BaseStore
}

func NewPostgresStore(dsn, migrationsDir string) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{BaseStore: store.BaseStore{
		DB: db,
		Converter: func(query string) string {
			out := query
			for i := 1; strings.Contains(out, "?"); i++ {
				out = strings.Replace(out, "?", fmt.Sprintf("$%d", i), 1)
			}
			return out
		},
	}}

	if err := s.ApplyMigrations(migrationsDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return s, nil
}

func (s *PostgresStore) ApplyMigrations(dir string) error {
	return s.BaseStore.ApplyMigrations(dir, nil)
}

func (s *PostgresStore) FetchDispatchStats(book string, since, until time.Time, timestampFormat string, includeHumanDttm bool) ([]store.DispatchStatRow, error) {
	query := `
        WITH window_dispatches AS (
            SELECT
                member_id,
                book,
                started_at,
                ended_at,
                short_call
            FROM dispatches
            WHERE book = $1
            AND started_at >= $2
            AND started_at < $3
        )
        SELECT
            w.member_id,
            w.book,
            COUNT(*) AS dispatches,
            COUNT(*) FILTER (WHERE w.short_call) AS short_calls,
            CAST(AVG(EXTRACT(EPOCH FROM (w.ended_at - w.started_at))) AS BIGINT) AS avg_job_seconds,
            CASE WHEN $4 THEN
                to_char(MIN(w.started_at), $5)
            ELSE NULL
            END AS first_dispatch,
            (
                SELECT d.termination::text
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
