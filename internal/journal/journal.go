package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// ErrTornRecord reports a trailing line without its newline terminator, left
// behind by an interrupted write.
var ErrTornRecord = errors.New("journal: torn record")

// Options tune a journal.
type Options struct {
	// Truncate discards existing content on open.
	Truncate bool
	// Sync fsyncs after every append.
	Sync bool
}

// Journal is an append-only JSON-lines file. Each record is written with a
// single Write call so a reader never observes a record that was not fully
// handed to the kernel, except for a torn tail after a crash.
type Journal struct {
	mu   sync.Mutex
	path string
	file *os.File
	size atomic.Int64
	sync bool
}

// Open creates or opens a journal at path. Existing content is kept unless
// opts.Truncate is set; a partially written trailing line is cut off.
func Open(path string, opts Options) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("journal: mkdir: %w", err)
	}

	flags := os.O_CREATE | os.O_RDWR
	if opts.Truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}

	size, err := repairTail(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: seek: %w", err)
	}

	j := &Journal{path: path, file: f, sync: opts.Sync}
	j.size.Store(size)
	return j, nil
}

// Path returns the file backing the journal.
func (j *Journal) Path() string { return j.path }

// Size returns the byte length of all complete records written so far. It is
// the offset the next Append will return.
func (j *Journal) Size() int64 { return j.size.Load() }

// Append writes v as one JSON line and returns the byte offset at which the
// line starts.
func (j *Journal) Append(v any) (int64, error) {
	line, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("journal: marshal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return 0, errors.New("journal: closed")
	}

	offset := j.size.Load()
	if _, err := j.file.Write(line); err != nil {
		// Drop whatever part of the record made it to disk so the next
		// append starts on a line boundary.
		if terr := j.file.Truncate(offset); terr == nil {
			_, _ = j.file.Seek(offset, io.SeekStart)
		}
		return 0, fmt.Errorf("journal: write record: %w", err)
	}
	if j.sync {
		if err := j.file.Sync(); err != nil {
			return 0, fmt.Errorf("journal: sync record: %w", err)
		}
	}
	j.size.Store(offset + int64(len(line)))
	return offset, nil
}

// Sync flushes the file to stable storage.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync: %w", err)
	}
	return nil
}

// Close closes the underlying journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// repairTail truncates f after its last newline and returns the new size.
func repairTail(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("journal: stat: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}

	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("journal: read tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return size, nil
			}
			return keep, truncate(f, keep)
		}
		end = start
	}
	return 0, truncate(f, 0)
}

func truncate(f *os.File, size int64) error {
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("journal: truncate torn tail: %w", err)
	}
	return nil
}

// ReadRecord reads one complete line from br, including its newline. It
// returns io.EOF at a clean end of input and ErrTornRecord when the input ends
// mid-line.
func ReadRecord(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if err == nil {
		return line, nil
	}
	if errors.Is(err, io.EOF) {
		if len(line) == 0 {
			return nil, io.EOF
		}
		return nil, ErrTornRecord
	}
	return nil, fmt.Errorf("journal: read: %w", err)
}

// Scan calls fn with the offset and bytes of every complete line in path,
// starting at byte offset from. A torn trailing line ends the scan quietly.
// A missing file scans as empty.
func Scan(path string, from int64, fn func(offset int64, line []byte) error) error {
	if fn == nil {
		return errors.New("journal: scan callback is nil")
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("journal: open for scan: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return fmt.Errorf("journal: seek for scan: %w", err)
	}
	br := bufio.NewReaderSize(f, 256*1024)
	offset := from
	for {
		line, err := ReadRecord(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrTornRecord) {
				return nil
			}
			return err
		}
		if ferr := fn(offset, line); ferr != nil {
			return ferr
		}
		offset += int64(len(line))
	}
}

// ScanJSON decodes each complete line of path into a fresh T and calls fn.
// Lines that fail to decode are passed to skip, when set, and otherwise ignored.
func ScanJSON[T any](path string, from int64, fn func(offset int64, rec *T) error, skip func(offset int64, err error)) error {
	return Scan(path, from, func(offset int64, line []byte) error {
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			if skip != nil {
				skip(offset, err)
			}
			return nil
		}
		return fn(offset, &rec)
	})
}
