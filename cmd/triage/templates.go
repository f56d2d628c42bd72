package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/triage/internal/duckdb"
	"github.com/tinytelemetry/triage/internal/model"
)

func loadTemplateSnapshot(ctx context.Context, cfg appConfig) ([]model.Template, error) {
	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	defer store.Close()
	return store.LoadTemplates(ctx)
}

func printTemplates(w io.Writer, templates []model.Template, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(templates)
	}

	id := lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	for _, t := range templates {
		fmt.Fprintf(w, "%s  %s\n", id.Render(t.TemplateID), t.Pattern)
		fmt.Fprintf(w, "    %s\n", dim.Render(fmt.Sprintf("%s %s: %s", t.SampleLevel, t.SampleComponent, firstLine(t.SampleText))))
	}
	fmt.Fprintf(w, "%d templates\n", len(templates))
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
