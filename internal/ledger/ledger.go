// Package ledger records one row per stage invocation in Postgres. The rows
// exist for operators only: nothing in the pipeline reads them back, so the
// ledger can lag or be disabled without affecting correctness.
package ledger

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/jmoiron/sqlx"

	"github.com/archivemaps/georef-pipeline/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS stage_runs (
	id          BIGSERIAL PRIMARY KEY,
	run_id      TEXT        NOT NULL,
	stage       TEXT        NOT NULL,
	object_key  TEXT        NOT NULL,
	outcome     TEXT        NOT NULL,
	error_kind  TEXT        NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL
);
CREATE INDEX IF NOT EXISTS stage_runs_run_id_idx ON stage_runs (run_id);
`

type Ledger struct {
	db *sqlx.DB
}

// Open connects to Postgres and ensures the stage_runs table exists.
func Open(url string) (*Ledger, error) {
	db, err := sqlx.Connect("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("connect ledger db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record appends one invocation row.
func (l *Ledger) Record(ctx context.Context, run pipeline.RunRecord) error {
	const query = `
		INSERT INTO stage_runs (run_id, stage, object_key, outcome, error_kind, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := l.db.ExecContext(ctx, query,
		run.RunID, run.Stage, run.Key, run.Outcome, run.ErrorKind,
		run.StartedAt, run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert stage run: %w", err)
	}
	return nil
}

// Run is one persisted invocation row.
type Run struct {
	RunID      string    `db:"run_id" json:"run_id"`
	Stage      string    `db:"stage" json:"stage"`
	Key        string    `db:"object_key" json:"object_key"`
	Outcome    string    `db:"outcome" json:"outcome"`
	ErrorKind  string    `db:"error_kind" json:"error_kind,omitempty"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
}

// RecentRuns returns the latest rows for a key, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, key string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT run_id, stage, object_key, outcome, error_kind, started_at, duration_ms
		FROM stage_runs
		WHERE object_key = $1
		ORDER BY started_at DESC
		LIMIT $2`
	var runs []Run
	if err := l.db.SelectContext(ctx, &runs, query, key, limit); err != nil {
		return nil, fmt.Errorf("select stage runs: %w", err)
	}
	return runs, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

var _ pipeline.Recorder = (*Ledger)(nil)
