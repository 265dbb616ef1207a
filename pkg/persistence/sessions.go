package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session status constants.
const (
	SessionStatusActive  = "active"
	SessionStatusStopped = "stopped" // Graceful shutdown
	SessionStatusCrashed = "crashed" // Still active when a later run started
)

// Session is one simulation run.
type Session struct {
	SessionID string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    string     `json:"status"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Steps     int64      `json:"steps"`
}

// CreateSession records the start of a run. Sessions left active by an earlier
// process are marked crashed first.
func (s *Store) CreateSession(ctx context.Context, sessionID, provider, model string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ? WHERE status = ?
	`, SessionStatusCrashed, formatTime(time.Now()), SessionStatusActive)
	if err != nil {
		return fmt.Errorf("failed to close stale sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Warn("Marked %d stale session(s) as crashed", n)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at, status, provider, model)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, formatTime(time.Now()), SessionStatusActive, provider, model)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// EndSession marks a run stopped after steps ticks.
func (s *Store) EndSession(ctx context.Context, sessionID string, steps int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ?, steps = ? WHERE session_id = ?
	`, SessionStatusStopped, formatTime(time.Now()), steps, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	var startedAt string
	var endedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, started_at, ended_at, status, provider, model, steps
		FROM sessions WHERE session_id = ?
	`, sessionID).Scan(&sess.SessionID, &startedAt, &endedAt, &sess.Status, &sess.Provider, &sess.Model, &sess.Steps)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.StartedAt = parseTime(startedAt)
	if endedAt.Valid {
		t := parseTime(endedAt.String)
		sess.EndedAt = &t
	}
	return &sess, nil
}
