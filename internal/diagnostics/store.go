package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS stage_outcomes (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	run_id     TEXT NOT NULL,
	context_id TEXT NOT NULL,
	stage      TEXT NOT NULL,
	skipped    INTEGER NOT NULL,
	reason     TEXT,
	success    INTEGER NOT NULL,
	elapsed_us INTEGER NOT NULL,
	error      TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stage_outcomes_session ON stage_outcomes(session_id, stage);
`

// Writer persists a batch of records.
type Writer interface {
	Insert(ctx context.Context, records []Record) error
}

// Store is a SQLite-backed Writer.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics db: %w", err)
	}
	// one writer; batches are already serialized by the batcher
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create diagnostics schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Insert writes records in one transaction.
func (s *Store) Insert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO stage_outcomes (id, session_id, run_id, context_id, stage, skipped, reason, success, elapsed_us, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		at := r.At
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.SessionID, r.RunID, r.ContextID, r.Stage,
			r.Skipped, nullIfEmpty(r.Reason), r.Success,
			r.Elapsed.Microseconds(), nullIfEmpty(r.Error),
			at.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Summary aggregates a session's persisted records per stage.
func (s *Store) Summary(ctx context.Context, sessionID string) ([]StageSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*), SUM(skipped), SUM(CASE WHEN skipped = 0 AND success = 0 THEN 1 ELSE 0 END),
		        COALESCE(AVG(CASE WHEN skipped = 0 THEN elapsed_us END), 0)
		 FROM stage_outcomes WHERE session_id = ? GROUP BY stage ORDER BY stage`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	defer rows.Close()

	var out []StageSummary
	for rows.Next() {
		var ss StageSummary
		var meanMicros float64
		if err := rows.Scan(&ss.Stage, &ss.Runs, &ss.Skipped, &ss.Failed, &meanMicros); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		ss.MeanElapsed = time.Duration(meanMicros) * time.Microsecond
		out = append(out, ss)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
