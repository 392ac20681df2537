// Package audit provides an append-only SQLite ledger of the chunks an
// orchestrator invocation creates, mirroring the teacher's events table but
// scoped to run/chunk lifecycle instead of rate-limit events.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/loadmesh/loadmesh/pkg/script"
)

// Log manages the SQLite connection and schema for the chunk ledger.
type Log struct {
	db *sql.DB
}

// Open initializes the SQLite database at dbPath, enabling WAL mode the way
// the teacher's store.NewStore does.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("audit: ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("audit: enable WAL mode: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		return nil, fmt.Errorf("audit: schema migration: %w", err)
	}
	return l, nil
}

func (l *Log) Close() error { return l.db.Close() }

func (l *Log) migrate() error {
	const query = `
	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		genesis INTEGER NOT NULL,
		start_ms INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		script_json JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_run_id ON chunks(run_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_recorded_at ON chunks(recorded_at);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		genesis INTEGER NOT NULL,
		submitted_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		status TEXT NOT NULL DEFAULT 'running',
		message TEXT
	);
	`
	_, err := l.db.Exec(query)
	return err
}

// RecordChunk persists one chunk record; it satisfies
// orchestrator.AuditLog. Marshal and write failures are silently
// discarded, not returned or logged, since audit persistence failures must
// never interrupt the
// control flow per spec.md §7 (only structural/arithmetic/dispatch/engine
// errors are fatal).
func (l *Log) RecordChunk(ctx context.Context, runID, chunkID string, genesis int64, start int64, s *script.Script) {
	body, err := json.Marshal(s)
	if err != nil {
		return
	}
	_, _ = l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chunks (chunk_id, run_id, genesis, start_ms, script_json) VALUES (?, ?, ?, ?, ?)`,
		chunkID, runID, genesis, start, string(body))
}

// StartRun inserts the top-level run record.
func (l *Log) StartRun(ctx context.Context, runID string, genesis int64) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, genesis, status) VALUES (?, ?, 'running')`,
		runID, genesis)
	return err
}

// FinishRun marks a run complete or failed with a message.
func (l *Log) FinishRun(ctx context.Context, runID, status, message string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, message = ?, completed_at = ? WHERE run_id = ?`,
		status, message, time.Now().UTC(), runID)
	return err
}

// RunStatus is the row shape GET /v1/runs/{id} serves.
type RunStatus struct {
	RunID       string    `json:"runID"`
	Genesis     int64     `json:"genesis"`
	SubmittedAt time.Time `json:"submittedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	ChunkCount  int       `json:"chunkCount"`
}

// GetRun looks up a run's current status along with how many chunks have
// been recorded for it.
func (l *Log) GetRun(ctx context.Context, runID string) (RunStatus, error) {
	var rs RunStatus
	var completedAt sql.NullTime
	var message sql.NullString
	row := l.db.QueryRowContext(ctx,
		`SELECT run_id, genesis, submitted_at, completed_at, status, message FROM runs WHERE run_id = ?`, runID)
	if err := row.Scan(&rs.RunID, &rs.Genesis, &rs.SubmittedAt, &completedAt, &rs.Status, &message); err != nil {
		return RunStatus{}, fmt.Errorf("audit: get run %s: %w", runID, err)
	}
	if completedAt.Valid {
		rs.CompletedAt = &completedAt.Time
	}
	rs.Message = message.String

	row = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE run_id = ?`, runID)
	if err := row.Scan(&rs.ChunkCount); err != nil {
		return RunStatus{}, fmt.Errorf("audit: count chunks for %s: %w", runID, err)
	}
	return rs, nil
}
