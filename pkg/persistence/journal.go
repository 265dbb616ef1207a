package persistence

import (
	"context"
	"fmt"

	"crewsim/pkg/scheduler"
)

// Record implements scheduler.Sink.
//
//nolint:gocritic // Entry passed by value to match the Sink interface
func (s *Store) Record(ctx context.Context, e scheduler.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO journal (id, session_id, step, worker_id, worker_name, action, target,
			thought, dialogue, outcome, cached, fallback, sim_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.ID, e.SessionID, e.Step, e.WorkerID, e.WorkerName, e.Action, e.Target,
		e.Thought, e.Dialogue, e.Outcome, e.Cached, e.Fallback, e.SimTime, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record journal entry %s: %w", e.ID, err)
	}
	return nil
}

// Journal returns a session's most recent entries, oldest first. limit <= 0 returns all.
func (s *Store) Journal(ctx context.Context, sessionID string, limit int) ([]scheduler.Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, step, worker_id, worker_name, action, target,
			thought, dialogue, outcome, cached, fallback, sim_time, created_at
		FROM (
			SELECT *, rowid AS rid FROM journal WHERE session_id = ?
			ORDER BY step DESC, rid DESC LIMIT ?
		)
		ORDER BY step ASC, rid ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []scheduler.Entry
	for rows.Next() {
		var e scheduler.Entry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Step, &e.WorkerID, &e.WorkerName, &e.Action, &e.Target,
			&e.Thought, &e.Dialogue, &e.Outcome, &e.Cached, &e.Fallback, &e.SimTime, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	return entries, nil
}

// ActionCounts tallies a worker's journaled actions across every session.
func (s *Store) ActionCounts(ctx context.Context, workerID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT action, COUNT(*) FROM journal WHERE worker_id = ? GROUP BY action", workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err() //nolint:wrapcheck // Iteration error returned as-is
}
