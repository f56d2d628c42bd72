package duckdb

import (
	"context"
	"fmt"

	"github.com/tinytelemetry/triage/internal/model"
)

// SaveTemplates inserts templates not yet in the snapshot. Existing rows are
// never overwritten, so the first sample wins.
func (s *Store) SaveTemplates(ctx context.Context, templates []model.Template) error {
	if len(templates) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("duckdb: save templates: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO templates
		(template_text, template_id, description, sample_original_message, sample_level, sample_component)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (template_text) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("duckdb: save templates: prepare: %w", err)
	}
	defer stmt.Close()

	for _, t := range templates {
		if _, err := stmt.ExecContext(ctx, t.Pattern, t.TemplateID, t.Description, t.SampleText, t.SampleLevel, t.SampleComponent); err != nil {
			return fmt.Errorf("duckdb: save template %s: %w", t.TemplateID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("duckdb: save templates: commit: %w", err)
	}
	return nil
}

// LoadTemplates returns the whole snapshot ordered by template id.
func (s *Store) LoadTemplates(ctx context.Context) ([]model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT template_id, template_text, description,
		sample_original_message, sample_level, sample_component
		FROM templates ORDER BY template_id, template_text`)
	if err != nil {
		return nil, fmt.Errorf("duckdb: load templates: %w", err)
	}
	defer rows.Close()

	var out []model.Template
	for rows.Next() {
		var t model.Template
		if err := rows.Scan(&t.TemplateID, &t.Pattern, &t.Description, &t.SampleText, &t.SampleLevel, &t.SampleComponent); err != nil {
			return nil, fmt.Errorf("duckdb: scan template: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duckdb: load templates: %w", err)
	}
	return out, nil
}

// ClearTemplates empties the snapshot.
func (s *Store) ClearTemplates(ctx context.Context) error {
	_, err := s.exec(ctx, "clear templates", "DELETE FROM templates")
	return err
}

var _ model.TemplateStore = (*Store)(nil)
