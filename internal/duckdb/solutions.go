package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tinytelemetry/triage/internal/model"
)

// SaveSolution stores sol. The full solution is kept as a JSON payload next
// to the columns the read API filters on.
func (s *Store) SaveSolution(ctx context.Context, sol *model.Solution) error {
	payload, err := json.Marshal(sol)
	if err != nil {
		return fmt.Errorf("duckdb: marshal solution: %w", err)
	}
	created := sol.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.exec(ctx, "save solution", `INSERT INTO solutions
		(id, source_file, line_id, event_id, level, severity, summary, solver, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sol.ID, sol.SourceID, sol.SequenceID, sol.TemplateID, sol.Level,
		sol.Severity, sol.Summary, sol.Solver, created, string(payload))
	return err
}

// SolutionFilter narrows RecentSolutions.
type SolutionFilter struct {
	SourceID string
	Limit    int
}

// RecentSolutions returns the newest solutions first.
func (s *Store) RecentSolutions(ctx context.Context, f SolutionFilter) ([]model.Solution, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	query := `SELECT payload FROM solutions`
	args := []any{}
	if f.SourceID != "" {
		query += ` WHERE source_file = ?`
		args = append(args, f.SourceID)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("duckdb: recent solutions: %w", err)
	}
	defer rows.Close()

	out := []model.Solution{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("duckdb: scan solution: %w", err)
		}
		var sol model.Solution
		if err := json.Unmarshal([]byte(payload), &sol); err != nil {
			return nil, fmt.Errorf("duckdb: decode solution: %w", err)
		}
		out = append(out, sol)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: recent solutions: %w", err)
	}
	return out, nil
}

// DeleteSolutionsBefore removes solutions created before cutoff.
func (s *Store) DeleteSolutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.exec(ctx, "delete solutions", "DELETE FROM solutions WHERE created_at < ?", cutoff)
}

// ClearSolutions removes every stored solution.
func (s *Store) ClearSolutions(ctx context.Context) error {
	_, err := s.exec(ctx, "clear solutions", "DELETE FROM solutions")
	return err
}

var _ model.ResultSink = (*Store)(nil)
