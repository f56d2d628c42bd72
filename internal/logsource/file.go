package logsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tinytelemetry/triage/internal/model"
)

const (
	// DefaultFileBuffer is the default channel buffer size for file lines.
	DefaultFileBuffer = 1024

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	// Longer lines are cut to this size.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)

// FileConfig holds tunable parameters for a file source.
type FileConfig struct {
	BufferSize  int
	MaxLineSize int
	// Start resumes reading at a known line boundary.
	Start model.SourceProgress
	// ReadUnterminated emits a final line that has no newline yet. By
	// default it is held back so a writer mid-line is re-read whole later.
	ReadUnterminated bool
	Logger           *zap.Logger
}

// FileSource reads lines from a static or append-only file, tagging each with
// its 1-based line number and byte offset. Empty lines are emitted because
// they count towards line numbering.
type FileSource struct {
	desc         Descriptor
	ch           chan model.IngestEnvelope
	cancel       context.CancelFunc
	logger       *zap.Logger
	maxLineSize  int
	unterminated bool

	mu  sync.Mutex
	err error
}

// OpenFileSource opens desc and starts reading it in a background goroutine.
func OpenFileSource(ctx context.Context, desc Descriptor, conf FileConfig) (*FileSource, error) {
	f, err := os.Open(desc.Path)
	if err != nil {
		return nil, fmt.Errorf("logsource: open %s: %w", desc.ID, err)
	}
	if conf.Start.Offset > 0 {
		if _, err := f.Seek(conf.Start.Offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("logsource: seek %s: %w", desc.ID, err)
		}
	}
	return newFileSource(ctx, desc, f, conf), nil
}

func newFileSource(ctx context.Context, desc Descriptor, r io.ReadCloser, conf FileConfig) *FileSource {
	bufferSize := DefaultFileBuffer
	if conf.BufferSize > 0 {
		bufferSize = conf.BufferSize
	}
	maxLineSize := DefaultMaxLineSize
	if conf.MaxLineSize > 0 {
		maxLineSize = conf.MaxLineSize
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &FileSource{
		desc:         desc,
		ch:           make(chan model.IngestEnvelope, bufferSize),
		cancel:       cancel,
		logger:       logger.Named("logsource").With(zap.String("source", desc.ID)),
		maxLineSize:  maxLineSize,
		unterminated: conf.ReadUnterminated,
	}
	go s.read(ctx, r, conf.Start)
	return s
}

func (s *FileSource) read(ctx context.Context, r io.ReadCloser, start model.SourceProgress) {
	defer close(s.ch)
	defer r.Close()

	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := start.LineNo
	offset := start.Offset
	truncated := 0
	for {
		raw, err := br.ReadString('\n')
		if errors.Is(err, io.EOF) && len(raw) > 0 && !s.unterminated {
			s.logger.Debug("holding back unterminated final line",
				zap.Int64("offset", offset), zap.Int("bytes", len(raw)))
			break
		}
		if len(raw) > 0 {
			lineNo++
			env := model.IngestEnvelope{
				Source: s.desc.ID,
				LineNo: lineNo,
				Offset: offset,
				Line:   trimEOL(raw),
			}
			offset += int64(len(raw))
			env.End = offset
			if len(env.Line) > s.maxLineSize {
				env.Line = env.Line[:s.maxLineSize]
				truncated++
			}
			select {
			case s.ch <- env:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.setErr(fmt.Errorf("logsource: read %s: %w", s.desc.ID, err))
			}
			break
		}
	}
	if truncated > 0 {
		s.logger.Warn("lines exceeded max size and were cut",
			zap.Int("lines", truncated), zap.Int("max_bytes", s.maxLineSize))
	}
}

func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

func (s *FileSource) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Err returns the read error that ended the source, if any.
func (s *FileSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *FileSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *FileSource) Stop()                              { s.cancel() }
func (s *FileSource) Name() string                       { return s.desc.ID }

var _ LogSource = (*FileSource)(nil)
