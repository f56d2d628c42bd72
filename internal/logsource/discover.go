package logsource

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tinytelemetry/triage/internal/model"
)

// Descriptor names one raw source file.
type Descriptor struct {
	ID   string // slash-separated path relative to the source directory
	Path string
}

// Discover finds raw source files under dir matching any of patterns
// (doublestar syntax, relative to dir). Results are sorted by ID.
func Discover(dir string, patterns []string) ([]Descriptor, error) {
	if len(patterns) == 0 {
		patterns = model.DefaultSourcePatterns
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("logsource: resolve %s: %w", dir, err)
	}

	seen := make(map[string]struct{})
	var out []Descriptor
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(
			filepath.Join(root, filepath.FromSlash(pattern)),
			doublestar.WithFilesOnly(),
			doublestar.WithFailOnIOErrors(),
		)
		if err != nil {
			return nil, fmt.Errorf("logsource: glob %q: %w", pattern, err)
		}
		for _, path := range matches {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil, fmt.Errorf("logsource: relative path of %s: %w", path, err)
			}
			id := filepath.ToSlash(rel)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, Descriptor{ID: id, Path: path})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
