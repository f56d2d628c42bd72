package index

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tinytelemetry/triage/internal/journal"
	"github.com/tinytelemetry/triage/internal/model"
)

// Options configure an Indexer.
type Options struct {
	ParsedPath string
	IndexPath  string
	// Rebuild truncates both stores; otherwise existing content is recovered.
	Rebuild bool
	// Sync fsyncs each record.
	Sync   bool
	Logger *zap.Logger
}

// RecoveryStats summarizes what Open found in existing stores.
type RecoveryStats struct {
	Indexed    int // index records replayed
	Dangling   int // index records dropped for pointing past the parsed store
	Invalid    int // undecodable index or parsed records skipped
	Reindexed  int // parsed records that had no index record
	ParsedSize int64
}

// Indexer appends entries to the parsed store and their offsets to the index
// store, keeping the in-memory Index in step. Append is not safe for
// concurrent use; the Index it exposes is.
type Indexer struct {
	parsed *journal.Journal
	index  *journal.Journal
	idx    *Index
	stats  RecoveryStats
	logger *zap.Logger
}

// Open opens both stores. In resume mode it repairs torn tails, replays the
// index store, and indexes parsed records that were written without their
// index record.
func Open(opts Options) (*Indexer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("index")

	parsed, err := journal.Open(opts.ParsedPath, journal.Options{Truncate: opts.Rebuild, Sync: opts.Sync})
	if err != nil {
		return nil, fmt.Errorf("index: open parsed store: %w", err)
	}
	ix := &Indexer{parsed: parsed, idx: New(), logger: logger}

	if opts.Rebuild {
		ix.index, err = journal.Open(opts.IndexPath, journal.Options{Truncate: true, Sync: opts.Sync})
		if err != nil {
			_ = parsed.Close()
			return nil, fmt.Errorf("index: open index store: %w", err)
		}
		logger.Info("stores truncated for rebuild")
		return ix, nil
	}

	if err := ix.recover(opts); err != nil {
		_ = ix.Close()
		return nil, err
	}
	logger.Info("stores recovered",
		zap.Int("indexed", ix.stats.Indexed),
		zap.Int("dangling", ix.stats.Dangling),
		zap.Int("invalid", ix.stats.Invalid),
		zap.Int("reindexed", ix.stats.Reindexed),
		zap.Int64("parsed_bytes", ix.stats.ParsedSize),
	)
	return ix, nil
}

func (ix *Indexer) recover(opts Options) error {
	size := ix.parsed.Size()
	ix.stats.ParsedSize = size

	idx, rs, err := Replay(opts.IndexPath, size)
	if err != nil {
		return err
	}
	ix.idx = idx
	ix.stats.Indexed = rs.Records
	ix.stats.Dangling = rs.Dangling
	ix.stats.Invalid = rs.Invalid

	// Dangling or invalid records would shadow new appends on the next
	// replay, so the index store is rewritten from the surviving entries.
	rewrite := rs.Dangling > 0 || rs.Invalid > 0
	ix.index, err = journal.Open(opts.IndexPath, journal.Options{Truncate: rewrite, Sync: opts.Sync})
	if err != nil {
		return fmt.Errorf("index: open index store: %w", err)
	}
	if rewrite {
		for _, e := range idx.Entries() {
			if _, err := ix.index.Append(e); err != nil {
				return fmt.Errorf("index: rewrite index store: %w", err)
			}
		}
	}

	from := rs.MaxOffset
	if from < 0 {
		from = 0
	}
	err = journal.ScanJSON(ix.parsed.Path(), from, func(offset int64, e *model.LogEntry) error {
		if err := e.Validate(); err != nil {
			ix.stats.Invalid++
			return nil
		}
		if ix.idx.Has(e.Key()) {
			return nil
		}
		if err := ix.appendIndex(e, offset); err != nil {
			return err
		}
		ix.stats.Reindexed++
		return nil
	}, func(offset int64, err error) {
		ix.stats.Invalid++
		ix.logger.Warn("skipping undecodable parsed record", zap.Int64("offset", offset), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("index: reindex parsed store: %w", err)
	}
	return nil
}

// ErrDuplicateEntry reports an append whose identity is already indexed.
var ErrDuplicateEntry = errors.New("index: duplicate entry")

// Append writes e to the parsed store, then its offset to the index store,
// and only then publishes the offset in the in-memory index.
func (ix *Indexer) Append(e *model.LogEntry) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, fmt.Errorf("index: append: %w", err)
	}
	if ix.idx.Has(e.Key()) {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEntry, e.Key())
	}
	offset, err := ix.parsed.Append(e)
	if err != nil {
		return 0, fmt.Errorf("index: append parsed: %w", err)
	}
	if err := ix.appendIndex(e, offset); err != nil {
		return 0, err
	}
	return offset, nil
}

func (ix *Indexer) appendIndex(e *model.LogEntry, offset int64) error {
	rec := model.OffsetIndexEntry{SourceID: e.SourceID, SequenceID: e.SequenceID, ByteOffset: offset}
	if _, err := ix.index.Append(rec); err != nil {
		return fmt.Errorf("index: append index: %w", err)
	}
	ix.idx.Put(rec)
	return nil
}

// Index returns the live in-memory index.
func (ix *Indexer) Index() *Index { return ix.idx }

// ParsedPath returns the parsed store location.
func (ix *Indexer) ParsedPath() string { return ix.parsed.Path() }

// ParsedSize returns the number of bytes of complete parsed records.
func (ix *Indexer) ParsedSize() int64 { return ix.parsed.Size() }

// Recovered returns what Open found on disk.
func (ix *Indexer) Recovered() RecoveryStats { return ix.stats }

// Sync flushes both stores.
func (ix *Indexer) Sync() error {
	if err := ix.parsed.Sync(); err != nil {
		return err
	}
	if ix.index != nil {
		return ix.index.Sync()
	}
	return nil
}

// Close closes both stores.
func (ix *Indexer) Close() error {
	var errs []error
	if ix.parsed != nil {
		errs = append(errs, ix.parsed.Close())
	}
	if ix.index != nil {
		errs = append(errs, ix.index.Close())
	}
	return errors.Join(errs...)
}
