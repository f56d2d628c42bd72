package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tinytelemetry/triage/internal/index"
	"github.com/tinytelemetry/triage/internal/model"
)

// retrieveWindow answers a context query offline from the parsed and index
// stores, without running the pipeline.
func retrieveWindow(ctx context.Context, cfg appConfig, source string, seq int64, window int) ([]model.LogEntry, error) {
	if source == "" {
		return nil, errors.New("--source is required")
	}
	if seq <= 0 {
		return nil, fmt.Errorf("invalid --seq: %d", seq)
	}

	fi, err := os.Stat(cfg.ParsedPath)
	if err != nil {
		return nil, fmt.Errorf("parsed store: %w", err)
	}
	idx, stats, err := index.Replay(cfg.IndexPath, fi.Size())
	if err != nil {
		return nil, err
	}
	if stats.Invalid > 0 || stats.Dangling > 0 {
		fmt.Fprintf(os.Stderr, "warning: index store has %d invalid and %d dangling records\n", stats.Invalid, stats.Dangling)
	}

	retriever, err := index.NewRetriever(idx, cfg.ParsedPath, nil, cfg.OverReadMargin)
	if err != nil {
		return nil, err
	}
	defer retriever.Close()
	return retriever.Window(ctx, source, seq, window)
}

func printWindow(w io.Writer, entries []model.LogEntry, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for i := range entries {
			if err := enc.Encode(&entries[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no context found")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "[%s:%d %s] %s\n", e.SourceID, e.SequenceID, e.TemplateID, e.FullText)
	}
	return nil
}
