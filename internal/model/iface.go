package model

import "context"

// ContextReader returns up to window entries of sourceID that precede sequenceID.
// An empty result is not an error.
type ContextReader interface {
	Window(ctx context.Context, sourceID string, sequenceID int64, window int) ([]LogEntry, error)
}

// Solver turns a problem into an incident response plan. Implementations live
// outside the core pipeline; retries are the solver's own business.
type Solver interface {
	Name() string
	Solve(ctx context.Context, p Problem) (*Solution, error)
}

// ResultSink durably records a solution. Save must not return before the
// solution is persisted.
type ResultSink interface {
	SaveSolution(ctx context.Context, s *Solution) error
}

// TemplateStore persists the template registry snapshot.
type TemplateStore interface {
	SaveTemplates(ctx context.Context, templates []Template) error
	LoadTemplates(ctx context.Context) ([]Template, error)
	ClearTemplates(ctx context.Context) error
}

// SourceProgress is the resume position inside one raw source: the next line to
// read starts at Offset and has number LineNo+1.
type SourceProgress struct {
	SourceID string `json:"source_file"`
	LineNo   int64  `json:"line_no"`
	Offset   int64  `json:"byte_offset"`
}

// ProgressStore persists raw-source resume positions.
type ProgressStore interface {
	SaveProgress(ctx context.Context, progress []SourceProgress) error
	LoadProgress(ctx context.Context) (map[string]SourceProgress, error)
	ClearProgress(ctx context.Context) error
}
