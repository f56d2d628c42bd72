package duckdb

import (
	"context"
	"fmt"

	"github.com/tinytelemetry/triage/internal/model"
)

// SaveProgress upserts the resume position of each source.
func (s *Store) SaveProgress(ctx context.Context, progress []model.SourceProgress) error {
	if len(progress) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdb: save progress: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range progress {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO source_progress
			(source_file, line_no, byte_offset, updated_at) VALUES (?, ?, ?, current_timestamp)`,
			p.SourceID, p.LineNo, p.Offset); err != nil {
			return fmt.Errorf("duckdb: save progress %s: %w", p.SourceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdb: save progress: commit: %w", err)
	}
	return nil
}

// LoadProgress returns the saved resume position of every source.
func (s *Store) LoadProgress(ctx context.Context) (map[string]model.SourceProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT source_file, line_no, byte_offset FROM source_progress`)
	if err != nil {
		return nil, fmt.Errorf("duckdb: load progress: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.SourceProgress)
	for rows.Next() {
		var p model.SourceProgress
		if err := rows.Scan(&p.SourceID, &p.LineNo, &p.Offset); err != nil {
			return nil, fmt.Errorf("duckdb: scan progress: %w", err)
		}
		out[p.SourceID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: load progress: %w", err)
	}
	return out, nil
}

// ClearProgress forgets every resume position.
func (s *Store) ClearProgress(ctx context.Context) error {
	_, err := s.exec(ctx, "clear progress", "DELETE FROM source_progress")
	return err
}

var _ model.ProgressStore = (*Store)(nil)
