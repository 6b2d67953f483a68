// Package history maintains a SQLite log of session outcomes (start
// time, completion time, phase, output path, error) for operational
// auditing, one row per session ID; recording the same ID again
// overwrites that row. It is deliberately NOT part of the detector or
// session state machines — those remain purely in-memory, as required —
// this package only ever records finished sessions after the fact.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_history (
	id           TEXT PRIMARY KEY,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL,
	phase        TEXT NOT NULL,
	output_path  TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT ''
);
`

// Store is a SQLite-backed session history log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSession inserts or replaces the outcome row for a finalized
// session. It satisfies recorder.HistoryRecorder.
func (s *Store) RecordSession(id string, startedAt, completedAt time.Time, phase, outputPath, errMsg string) error {
	_, err := s.db.Exec(
		`INSERT INTO session_history (id, started_at, completed_at, phase, output_path, error)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			completed_at=excluded.completed_at,
			phase=excluded.phase,
			output_path=excluded.output_path,
			error=excluded.error`,
		id, startedAt.UTC(), completedAt.UTC(), phase, outputPath, errMsg,
	)
	if err != nil {
		return fmt.Errorf("history: record session %s: %w", id, err)
	}
	return nil
}

// Entry is a row read back from the history log.
type Entry struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Phase       string
	OutputPath  string
	Error       string
}

// Recent returns up to limit of the most recently completed sessions,
// newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, completed_at, phase, output_path, error
		 FROM session_history ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.StartedAt, &e.CompletedAt, &e.Phase, &e.OutputPath, &e.Error); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
