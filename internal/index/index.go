// Package index maintains the byte-offset index over the parsed entry store
// and serves historical context windows from it.
package index

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tinytelemetry/triage/internal/journal"
	"github.com/tinytelemetry/triage/internal/model"
)

// Index maps entry identities to parsed-store offsets. One writer, many readers.
type Index struct {
	mu      sync.RWMutex
	offsets map[model.EntryKey]int64
	last    map[string]int64
}

// New returns an empty index.
func New() *Index {
	return &Index{
		offsets: make(map[model.EntryKey]int64),
		last:    make(map[string]int64),
	}
}

// Put records the offset of one entry.
func (x *Index) Put(e model.OffsetIndexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.offsets[e.Key()] = e.ByteOffset
	if e.SequenceID > x.last[e.SourceID] {
		x.last[e.SourceID] = e.SequenceID
	}
}

// Lookup returns the offset of (sourceID, sequenceID).
func (x *Index) Lookup(sourceID string, sequenceID int64) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	off, ok := x.offsets[model.EntryKey{SourceID: sourceID, SequenceID: sequenceID}]
	return off, ok
}

// Has reports whether key is indexed.
func (x *Index) Has(key model.EntryKey) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.offsets[key]
	return ok
}

// LastSequence returns the highest indexed sequence id of sourceID, or 0.
func (x *Index) LastSequence(sourceID string) int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.last[sourceID]
}

// LastSequences returns a copy of the per-source highest sequence ids.
func (x *Index) LastSequences() map[string]int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[string]int64, len(x.last))
	for k, v := range x.last {
		out[k] = v
	}
	return out
}

// Len returns the number of indexed entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.offsets)
}

// Entries returns every index record ordered by offset.
func (x *Index) Entries() []model.OffsetIndexEntry {
	x.mu.RLock()
	out := make([]model.OffsetIndexEntry, 0, len(x.offsets))
	for k, off := range x.offsets {
		out = append(out, model.OffsetIndexEntry{SourceID: k.SourceID, SequenceID: k.SequenceID, ByteOffset: off})
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ByteOffset < out[j].ByteOffset })
	return out
}

// ReplayStats describes one pass over an index store.
type ReplayStats struct {
	Records   int   // valid records applied
	Invalid   int   // undecodable or failing validation
	Dangling  int   // pointing at or beyond the parsed store size
	MaxOffset int64 // highest applied offset, -1 when none
}

// Replay rebuilds an index from the index store at path. Records whose offset
// is at or beyond limit are dropped; a negative limit keeps them all.
func Replay(path string, limit int64) (*Index, ReplayStats, error) {
	x := New()
	stats := ReplayStats{MaxOffset: -1}
	err := journal.ScanJSON(path, 0, func(_ int64, rec *model.OffsetIndexEntry) error {
		if err := rec.Validate(); err != nil {
			stats.Invalid++
			return nil
		}
		if limit >= 0 && rec.ByteOffset >= limit {
			stats.Dangling++
			return nil
		}
		x.Put(*rec)
		stats.Records++
		if rec.ByteOffset > stats.MaxOffset {
			stats.MaxOffset = rec.ByteOffset
		}
		return nil
	}, func(int64, error) { stats.Invalid++ })
	if err != nil {
		return nil, stats, fmt.Errorf("index: replay %s: %w", path, err)
	}
	return x, stats, nil
}
