package persistence

import (
	"context"
	"fmt"

	"crewsim/pkg/world"
)

// memoryWindow bounds how many of a worker's memories are kept and ranked.
const memoryWindow = 200

// Add implements world.MemoryStore. The worker's oldest memories beyond the window are pruned.
//
//nolint:gocritic // Memory passed by value to match the MemoryStore interface
func (s *Store) Add(ctx context.Context, m world.Memory) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (id, worker_id, kind, content, importance, step, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.WorkerID, m.Kind, m.Content, m.Importance, m.Step, formatTime(m.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM memories WHERE worker_id = ? AND seq NOT IN (
			SELECT seq FROM memories WHERE worker_id = ? ORDER BY seq DESC LIMIT ?
		)
	`, m.WorkerID, m.WorkerID, memoryWindow); err != nil {
		return fmt.Errorf("failed to prune memories: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memory: %w", err)
	}
	return nil
}

// Retrieve implements world.MemoryStore using the same ranking as the in-memory store.
func (s *Store) Retrieve(ctx context.Context, workerID, query string, limit int) ([]world.Memory, error) {
	list, err := s.queryMemories(ctx, `
		SELECT id, worker_id, kind, content, importance, step, created_at
		FROM memories WHERE worker_id = ? ORDER BY seq ASC
	`, workerID)
	if err != nil {
		return nil, err
	}
	return world.Rank(list, query, limit), nil
}

// Recent implements world.MemoryStore.
func (s *Store) Recent(ctx context.Context, workerID string, limit int) ([]world.Memory, error) {
	if limit <= 0 {
		limit = memoryWindow
	}
	return s.queryMemories(ctx, `
		SELECT id, worker_id, kind, content, importance, step, created_at
		FROM memories WHERE worker_id = ? ORDER BY seq DESC LIMIT ?
	`, workerID, limit)
}

func (s *Store) queryMemories(ctx context.Context, query string, args ...any) ([]world.Memory, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []world.Memory
	for rows.Next() {
		var m world.Memory
		var createdAt string
		if err := rows.Scan(&m.ID, &m.WorkerID, &m.Kind, &m.Content, &m.Importance, &m.Step, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memories: %w", err)
	}
	return list, nil
}
