// Package pipeline drives raw sources through assembly, normalization and
// indexing, and hands interesting entries to the problem queue.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tinytelemetry/triage/internal/events"
	"github.com/tinytelemetry/triage/internal/index"
	"github.com/tinytelemetry/triage/internal/ingest"
	"github.com/tinytelemetry/triage/internal/journal"
	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/logsource"
	"github.com/tinytelemetry/triage/internal/model"
	"github.com/tinytelemetry/triage/internal/workqueue"
)

// ErrStoreWrite wraps failures to persist entries. They stop the orchestrator.
var ErrStoreWrite = errors.New("pipeline: store write failed")

// Store is the persistent state the orchestrator snapshots into. Solutions
// are only cleared, on rebuild.
type Store interface {
	model.TemplateStore
	model.ProgressStore
	ClearSolutions(ctx context.Context) error
}

// Config holds tunable parameters for an orchestrator.
type Config struct {
	SourceDir            string
	SourcePatterns       []string
	InterestingLevels    []string
	TemplateSaveInterval int
	// Rebuild discards templates, progress and solutions before reading.
	// The indexer is expected to have been opened with Rebuild as well.
	Rebuild     bool
	MaxLineSize int
	// ReadUnterminated treats a final line without a newline as complete.
	// Leave it off for sources that are still being written.
	ReadUnterminated bool
	Logger           *zap.Logger
	Observer         events.Observer
}

// Stats counts what the orchestrator has done so far.
type Stats struct {
	Sources  int64 `json:"sources"`
	Lines    int64 `json:"lines"`
	Entries  int64 `json:"entries"`
	Skipped  int64 `json:"skipped"`
	Enqueued int64 `json:"enqueued"`
	Orphans  int64 `json:"orphans"`
}

// Orchestrator is the single producer of the pipeline. Run must be called
// at most once.
type Orchestrator struct {
	conf      Config
	processor *ingest.Processor
	registry  *ingest.Registry
	indexer   *index.Indexer
	queue     *workqueue.Queue
	store     Store
	stop      *model.StopFlag
	levels    logparse.LevelSet
	logger    *zap.Logger
	obs       events.Observer

	progress      map[string]model.SourceProgress
	unsaved       []model.Template
	sinceSnapshot int

	sources  atomic.Int64
	lines    atomic.Int64
	entries  atomic.Int64
	skipped  atomic.Int64
	enqueued atomic.Int64
	orphans  atomic.Int64
}

// New creates an orchestrator. store may be nil, in which case nothing but
// the parsed and index stores survives a restart.
func New(conf Config, processor *ingest.Processor, registry *ingest.Registry, indexer *index.Indexer,
	queue *workqueue.Queue, store Store, stop *model.StopFlag) *Orchestrator {
	if len(conf.SourcePatterns) == 0 {
		conf.SourcePatterns = model.DefaultSourcePatterns
	}
	if len(conf.InterestingLevels) == 0 {
		conf.InterestingLevels = model.DefaultInterestingLevels
	}
	if conf.TemplateSaveInterval <= 0 {
		conf.TemplateSaveInterval = model.DefaultTemplateSaveInterval
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := conf.Observer
	if obs == nil {
		obs = events.Nop{}
	}
	if stop == nil {
		stop = &model.StopFlag{}
	}

	o := &Orchestrator{
		conf:      conf,
		processor: processor,
		registry:  registry,
		indexer:   indexer,
		queue:     queue,
		store:     store,
		stop:      stop,
		levels:    logparse.NewLevelSet(conf.InterestingLevels),
		logger:    logger.Named("pipeline"),
		obs:       obs,
		progress:  make(map[string]model.SourceProgress),
	}

	processor.Assembler().OnOrphan = func(env model.IngestEnvelope) {
		o.orphans.Add(1)
		o.publish(events.Event{Kind: events.OrphanLine, Source: env.Source, Sequence: env.LineNo,
			Message: "continuation line without a header discarded"})
	}
	processor.OnTemplate = func(t model.Template) {
		o.publish(events.Event{Kind: events.TemplateCreated, Message: "template created: " + t.TemplateID})
	}
	return o
}

// Stats returns a snapshot of the counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Sources:  o.sources.Load(),
		Lines:    o.lines.Load(),
		Entries:  o.entries.Load(),
		Skipped:  o.skipped.Load(),
		Enqueued: o.enqueued.Load(),
		Orphans:  o.orphans.Load(),
	}
}

// Run processes every discovered source once. It returns when all sources
// are exhausted, the stop flag is raised, or a store write fails. The queue
// is closed on return.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.queue.Close()

	if err := o.prepare(ctx); err != nil {
		return err
	}

	sources, err := logsource.Discover(o.conf.SourceDir, o.conf.SourcePatterns)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	o.logger.Info("sources discovered", zap.Int("count", len(sources)), zap.String("dir", o.conf.SourceDir))

	for _, desc := range sources {
		if o.stop.Stopped() {
			break
		}
		if err := o.runSource(ctx, desc); err != nil {
			return err
		}
	}

	if err := o.snapshot(ctx); err != nil {
		return fmt.Errorf("%w: final snapshot: %w", ErrStoreWrite, err)
	}
	if err := o.indexer.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	st := o.Stats()
	o.logger.Info("ingestion finished",
		zap.Bool("stopped", o.stop.Stopped()),
		zap.Int64("sources", st.Sources),
		zap.Int64("entries", st.Entries),
		zap.Int64("skipped", st.Skipped),
		zap.Int64("enqueued", st.Enqueued),
		zap.Int("templates", o.registry.Len()),
	)
	return nil
}

// prepare clears state for a rebuild, or restores templates and source
// progress for a resume.
func (o *Orchestrator) prepare(ctx context.Context) error {
	if o.conf.Rebuild {
		if o.store == nil {
			return nil
		}
		if err := o.store.ClearTemplates(ctx); err != nil {
			return fmt.Errorf("pipeline: rebuild: %w", err)
		}
		if err := o.store.ClearProgress(ctx); err != nil {
			return fmt.Errorf("pipeline: rebuild: %w", err)
		}
		if err := o.store.ClearSolutions(ctx); err != nil {
			return fmt.Errorf("pipeline: rebuild: %w", err)
		}
		o.logger.Info("persistent state cleared for rebuild")
		return nil
	}

	var snapshot []model.Template
	if o.store != nil {
		var err error
		if snapshot, err = o.store.LoadTemplates(ctx); err != nil {
			return fmt.Errorf("pipeline: load templates: %w", err)
		}
		if o.progress, err = o.store.LoadProgress(ctx); err != nil {
			return fmt.Errorf("pipeline: load progress: %w", err)
		}
	}

	if len(snapshot) > 0 {
		o.registry.Load(snapshot)
		o.logger.Info("template snapshot loaded", zap.Int("templates", len(snapshot)))
		return nil
	}
	return o.replayTemplates(ctx)
}

// replayTemplates rebuilds the registry from the parsed store when no
// snapshot exists, then persists the result as the new snapshot.
func (o *Orchestrator) replayTemplates(ctx context.Context) error {
	invalid := 0
	err := journal.ScanJSON(o.indexer.ParsedPath(), 0,
		func(_ int64, e *model.LogEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o.registry.Replay(*e)
			return nil
		},
		func(int64, error) { invalid++ })
	if err != nil {
		return fmt.Errorf("pipeline: replay templates: %w", err)
	}
	if o.registry.Len() == 0 {
		return nil
	}
	o.logger.Info("templates rebuilt from parsed store",
		zap.Int("templates", o.registry.Len()), zap.Int("invalid", invalid))
	o.unsaved = append(o.unsaved, o.registry.List()...)
	return nil
}

func (o *Orchestrator) runSource(ctx context.Context, desc logsource.Descriptor) error {
	start := o.startFor(desc)
	last := o.indexer.Index().LastSequence(desc.ID)
	logger := o.logger.With(zap.String("source", desc.ID))

	src, err := logsource.OpenFileSource(ctx, desc, logsource.FileConfig{
		MaxLineSize:      o.conf.MaxLineSize,
		Start:            start,
		ReadUnterminated: o.conf.ReadUnterminated,
		Logger:           o.logger,
	})
	if err != nil {
		o.publish(events.Event{Kind: events.SourceFailed, Source: desc.ID, Err: err})
		return nil
	}
	defer src.Stop()

	o.processor.Reset()
	o.sources.Add(1)
	o.publish(events.Event{Kind: events.SourceStarted, Source: desc.ID})
	logger.Debug("source started", zap.Int64("line", start.LineNo), zap.Int64("offset", start.Offset),
		zap.Int64("last_sequence", last))

	cp, end := start, start
	before := o.entries.Load()
	lines := src.Lines()
	for {
		if o.stop.Stopped() {
			// The open entry is left unflushed; the checkpoint points at its
			// header so it is reassembled on resume.
			o.progress[desc.ID] = cp
			logger.Info("stop requested", zap.Int64("checkpoint_line", cp.LineNo))
			return nil
		}

		var env model.IngestEnvelope
		var ok bool
		select {
		case env, ok = <-lines:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			break
		}
		o.lines.Add(1)

		if entry := o.processor.ProcessEnvelope(env); entry != nil {
			if err := o.handle(ctx, entry, last); err != nil {
				return err
			}
		}

		end = model.SourceProgress{SourceID: desc.ID, LineNo: env.LineNo, Offset: env.End}
		if p, open := o.processor.Assembler().Open(); open {
			cp = model.SourceProgress{SourceID: desc.ID, LineNo: p.SequenceID - 1, Offset: p.Offset}
		} else {
			cp = end
		}

		if o.sinceSnapshot >= o.conf.TemplateSaveInterval {
			o.progress[desc.ID] = cp
			if err := o.snapshot(ctx); err != nil {
				o.publish(events.Event{Kind: events.SnapshotFailed, Source: desc.ID, Err: err})
			}
		}
	}

	if err := src.Err(); err != nil {
		o.progress[desc.ID] = cp
		o.publish(events.Event{Kind: events.SourceFailed, Source: desc.ID, Err: err})
		return nil
	}

	if entry := o.processor.Flush(); entry != nil {
		if err := o.handle(ctx, entry, last); err != nil {
			return err
		}
	}
	cp = end
	o.progress[desc.ID] = cp

	n := o.entries.Load() - before
	o.publish(events.Event{Kind: events.SourceFinished, Source: desc.ID, Count: int(n)})
	logger.Info("source finished", zap.Int64("entries", n), zap.Int64("lines", cp.LineNo))
	return nil
}

// startFor returns the resume position for desc. A checkpoint past the end
// of the file means the file was replaced, so reading restarts at the top.
func (o *Orchestrator) startFor(desc logsource.Descriptor) model.SourceProgress {
	start := model.SourceProgress{SourceID: desc.ID}
	cp, ok := o.progress[desc.ID]
	if !ok || cp.Offset <= 0 {
		return start
	}
	fi, err := os.Stat(desc.Path)
	if err != nil || fi.Size() < cp.Offset {
		o.logger.Warn("source checkpoint beyond end of file, rereading",
			zap.String("source", desc.ID), zap.Int64("offset", cp.Offset))
		return start
	}
	return cp
}

// handle stores one flushed entry and enqueues it when its level is
// interesting. Entries already indexed by an earlier run are skipped so
// sequence ids never collide.
func (o *Orchestrator) handle(ctx context.Context, entry *model.LogEntry, last int64) error {
	if entry.SequenceID <= last {
		o.skipped.Add(1)
		return nil
	}
	if _, err := o.indexer.Append(entry); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreWrite, entry.Key(), err)
	}
	o.entries.Add(1)
	o.sinceSnapshot++

	if !o.levels.Contains(entry.Level) {
		return nil
	}
	task := model.NewProblemTask(entry)
	if err := o.queue.Put(ctx, task); err != nil {
		return fmt.Errorf("pipeline: enqueue %s: %w", entry.Key(), err)
	}
	o.enqueued.Add(1)
	o.publish(events.Event{Kind: events.TaskEnqueued, Source: entry.SourceID, Sequence: entry.SequenceID,
		Message: "task enqueued: " + entry.TemplateID})
	return nil
}

// snapshot persists templates created since the previous snapshot and the
// current source checkpoints. Templates that fail to save are retried on the
// next snapshot.
func (o *Orchestrator) snapshot(ctx context.Context) error {
	o.sinceSnapshot = 0
	o.unsaved = append(o.unsaved, o.registry.TakePending()...)
	if o.store == nil {
		o.unsaved = nil
		return nil
	}

	if err := o.store.SaveTemplates(ctx, o.unsaved); err != nil {
		return err
	}
	saved := len(o.unsaved)
	o.unsaved = nil

	progress := make([]model.SourceProgress, 0, len(o.progress))
	for _, p := range o.progress {
		progress = append(progress, p)
	}
	sort.Slice(progress, func(i, j int) bool { return progress[i].SourceID < progress[j].SourceID })
	if err := o.store.SaveProgress(ctx, progress); err != nil {
		return err
	}

	o.publish(events.Event{Kind: events.SnapshotSaved, Count: saved,
		Message: fmt.Sprintf("%d templates total", o.registry.Len())})
	return nil
}

func (o *Orchestrator) publish(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o.obs.Publish(e)
}
