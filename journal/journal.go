// Package journal persists rebuild pass history in a local sqlite
// database, queryable through the control API.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gantry"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed pass journal.
type Store struct {
	db *sql.DB
}

// Open creates or opens the journal at path, creating parent
// directories and the schema as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal db busy timeout: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS passes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	"trigger" TEXT NOT NULL,
	outcome TEXT NOT NULL,
	routes INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	detail TEXT NOT NULL DEFAULT ''
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize pass journal schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the journal.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordPass appends one pass report.
func (s *Store) RecordPass(ctx context.Context, report gantry.PassReport) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO passes (started_at, "trigger", outcome, routes, skipped, duration_ms, detail)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.Trigger,
		report.Outcome.String(),
		report.Routes,
		report.Skipped,
		report.Duration.Milliseconds(),
		report.Detail,
	)
	if err != nil {
		return fmt.Errorf("record pass: %w", err)
	}
	return nil
}

// ListPasses returns the most recent passes, newest first.
func (s *Store) ListPasses(ctx context.Context, limit int) ([]gantry.PassReport, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT started_at, "trigger", outcome, routes, skipped, duration_ms, detail
FROM passes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	out := make([]gantry.PassReport, 0, limit)
	for rows.Next() {
		var (
			startedAt  string
			trigger    string
			outcome    string
			routes     int
			skipped    int
			durationMS int64
			detail     string
		)
		if err := rows.Scan(&startedAt, &trigger, &outcome, &routes, &skipped, &durationMS, &detail); err != nil {
			return nil, fmt.Errorf("scan pass row: %w", err)
		}
		started, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse pass timestamp %q: %w", startedAt, err)
		}
		out = append(out, gantry.PassReport{
			StartedAt: started,
			Duration:  time.Duration(durationMS) * time.Millisecond,
			Trigger:   trigger,
			Routes:    routes,
			Skipped:   skipped,
			Outcome:   parseOutcome(outcome),
			Detail:    detail,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pass rows: %w", err)
	}
	return out, nil
}

// Prune deletes all but the newest keep passes.
func (s *Store) Prune(ctx context.Context, keep int) error {
	_, err := s.db.ExecContext(ctx, `
DELETE FROM passes WHERE id NOT IN (SELECT id FROM passes ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("prune pass journal: %w", err)
	}
	return nil
}

func parseOutcome(s string) gantry.PassOutcome {
	for _, o := range []gantry.PassOutcome{
		gantry.PassPromoted, gantry.PassUnchanged, gantry.PassDiscarded, gantry.PassFailed,
	} {
		if o.String() == s {
			return o
		}
	}
	return 0
}
