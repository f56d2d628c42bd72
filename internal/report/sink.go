package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tinytelemetry/triage/internal/model"
)

// FileSink appends one report block per solution to a text file.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFileSink opens path for appending, or truncates it when truncate is set.
func OpenFileSink(path string, truncate bool) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("report: mkdir: %w", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	return &FileSink{file: f}, nil
}

// SaveSolution writes the report block for sol and syncs it to disk.
func (s *FileSink) SaveSolution(_ context.Context, sol *model.Solution) error {
	block := []byte(Record(sol))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("report: sink closed")
	}
	if _, err := s.file.Write(block); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("report: sync: %w", err)
	}
	return nil
}

// Close closes the report file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var _ model.ResultSink = (*FileSink)(nil)
