// Package history persists a summary of every deploy run in SQLite so
// operators can inspect past deliveries with `githubdeploy runs`.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultLimit bounds Recent when the caller passes a non-positive limit.
const DefaultLimit = 20

// timeLayout is fixed width so timestamps stored as text sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record writes e and its commands in a single transaction.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	if e.Outcome == "" {
		return fmt.Errorf("run outcome is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO deploy_run(
  id, delivery_id, event, outcome, stage, reason, last_error, started_at, finished_at
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, nullable(e.DeliveryID), nullable(e.Event), string(e.Outcome), e.Stage,
		nullable(e.Reason), nullable(e.LastError),
		e.StartedAt.UTC().Format(timeLayout), e.FinishedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert deploy_run: %w", err)
	}

	for i, c := range e.Commands {
		_, err := tx.ExecContext(ctx, `
INSERT INTO deploy_command(run_id, seq, phase, command, exit_code, duration_ms)
VALUES(?, ?, ?, ?, ?, ?);
`, e.ID, i, c.Phase, c.Command, c.ExitCode, c.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert deploy_command %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record tx: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first, with their commands.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, delivery_id, event, outcome, stage, reason, last_error, started_at, finished_at
FROM deploy_run
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deploy_run: %w", err)
	}

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			deliveryID  sql.NullString
			event       sql.NullString
			outcome     string
			reason      sql.NullString
			lastError   sql.NullString
			startedAtS  string
			finishedAtS string
		)
		if err := rows.Scan(&e.ID, &deliveryID, &event, &outcome, &e.Stage, &reason, &lastError, &startedAtS, &finishedAtS); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan deploy_run: %w", err)
		}
		e.DeliveryID = deliveryID.String
		e.Event = event.String
		e.Outcome = Outcome(outcome)
		e.Reason = reason.String
		e.LastError = lastError.String
		if t, err := time.Parse(timeLayout, startedAtS); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(timeLayout, finishedAtS); err == nil {
			e.FinishedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate deploy_run: %w", err)
	}
	_ = rows.Close()

	// Commands are loaded after the run cursor closes; the pool holds one connection.
	for i := range entries {
		cmds, err := s.commands(ctx, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Commands = cmds
	}
	return entries, nil
}

func (s *Store) commands(ctx context.Context, runID string) ([]CommandEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT phase, command, exit_code, duration_ms
FROM deploy_command
WHERE run_id = ?
ORDER BY seq ASC;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query deploy_command: %w", err)
	}
	defer rows.Close()

	var cmds []CommandEntry
	for rows.Next() {
		var (
			c  CommandEntry
			ms int64
		)
		if err := rows.Scan(&c.Phase, &c.Command, &c.ExitCode, &ms); err != nil {
			return nil, fmt.Errorf("scan deploy_command: %w", err)
		}
		c.Duration = time.Duration(ms) * time.Millisecond
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deploy_command: %w", err)
	}
	return cmds, nil
}

// Prune deletes all but the newest keep runs. Commands cascade.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be >= 0")
	}
	res, err := s.db.ExecContext(ctx, `
DELETE FROM deploy_run
WHERE id NOT IN (
  SELECT id FROM deploy_run ORDER BY started_at DESC, rowid DESC LIMIT ?
);
`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune deploy_run: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
