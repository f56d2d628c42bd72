package index

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/tinytelemetry/triage/internal/journal"
	"github.com/tinytelemetry/triage/internal/model"
)

// Retriever reads context windows from the parsed store by seeking to the
// indexed offset of the window's lower bound. It never scans from the start
// of the store and is safe for concurrent use.
type Retriever struct {
	idx    *Index
	file   *os.File
	size   func() int64
	margin int
}

// NewRetriever opens the parsed store at path for reading. size reports the
// byte length of complete records; nil means the current file size. margin is
// the number of extra records read past the window before giving up.
func NewRetriever(idx *Index, path string, size func() int64, margin int) (*Retriever, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("index: open parsed store for retrieval: %w", err)
	}
	if margin < 0 {
		margin = model.DefaultOverReadMargin
	}
	return &Retriever{idx: idx, file: f, size: size, margin: margin}, nil
}

// Window returns up to window entries of sourceID with sequence ids in
// [max(1, sequenceID-window), sequenceID), ascending. The result is empty when
// the lower bound has no index record.
func (r *Retriever) Window(ctx context.Context, sourceID string, sequenceID int64, window int) ([]model.LogEntry, error) {
	if window <= 0 {
		return []model.LogEntry{}, nil
	}
	lower := sequenceID - int64(window)
	if lower < 1 {
		lower = 1
	}
	offset, ok := r.idx.Lookup(sourceID, lower)
	if !ok {
		return []model.LogEntry{}, nil
	}

	limit, err := r.limit()
	if err != nil {
		return nil, err
	}
	if offset >= limit {
		return []model.LogEntry{}, nil
	}

	br := bufio.NewReader(io.NewSectionReader(r.file, offset, limit-offset))
	maxRecords := window + r.margin
	out := make([]model.LogEntry, 0, window)
	for read := 0; read < maxRecords; read++ {
		if read%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line, err := journal.ReadRecord(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, journal.ErrTornRecord) {
				break
			}
			return nil, fmt.Errorf("index: read window: %w", err)
		}
		var e model.LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			// Counts toward the read budget but does not hide later records.
			continue
		}
		if e.SourceID != sourceID {
			continue
		}
		if e.SequenceID >= sequenceID {
			break
		}
		if e.SequenceID >= lower {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	if len(out) > window {
		out = out[len(out)-window:]
	}
	return out, nil
}

func (r *Retriever) limit() (int64, error) {
	if r.size != nil {
		return r.size(), nil
	}
	info, err := r.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("index: stat parsed store: %w", err)
	}
	return info.Size(), nil
}

// Close releases the read handle.
func (r *Retriever) Close() error {
	return r.file.Close()
}

var _ model.ContextReader = (*Retriever)(nil)
