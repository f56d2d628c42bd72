package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tinytelemetry/triage/internal/events"
	"github.com/tinytelemetry/triage/internal/index"
	"github.com/tinytelemetry/triage/internal/ingest"
	"github.com/tinytelemetry/triage/internal/logparse"
	"github.com/tinytelemetry/triage/internal/model"
	"github.com/tinytelemetry/triage/internal/solver"
	"github.com/tinytelemetry/triage/internal/workqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu        sync.Mutex
	templates map[string]model.Template
	progress  map[string]model.SourceProgress
	cleared   int
	failSave  error
}

func newMemStore() *memStore {
	return &memStore{
		templates: make(map[string]model.Template),
		progress:  make(map[string]model.SourceProgress),
	}
}

func (s *memStore) SaveTemplates(_ context.Context, templates []model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	for _, t := range templates {
		if _, ok := s.templates[t.Pattern]; !ok {
			s.templates[t.Pattern] = t
		}
	}
	return nil
}

func (s *memStore) LoadTemplates(context.Context) ([]model.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func (s *memStore) ClearTemplates(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates = make(map[string]model.Template)
	return nil
}

func (s *memStore) SaveProgress(_ context.Context, progress []model.SourceProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range progress {
		s.progress[p.SourceID] = p
	}
	return nil
}

func (s *memStore) LoadProgress(context.Context) (map[string]model.SourceProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.SourceProgress, len(s.progress))
	for k, v := range s.progress {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) ClearProgress(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = make(map[string]model.SourceProgress)
	return nil
}

func (s *memStore) ClearSolutions(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	hook   func(events.Event)
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *recorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	srcDir  string
	dataDir string
	store   *memStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	h := &harness{
		srcDir:  filepath.Join(root, "logs"),
		dataDir: filepath.Join(root, "data"),
		store:   newMemStore(),
	}
	require.NoError(t, os.MkdirAll(h.srcDir, 0o755))
	require.NoError(t, os.MkdirAll(h.dataDir, 0o755))
	return h
}

func (h *harness) write(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.srcDir, name), []byte(body), 0o644))
}

func (h *harness) appendTo(t *testing.T, name, body string) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(h.srcDir, name), os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

type runResult struct {
	orch    *Orchestrator
	tasks   []model.ProblemTask
	entries []model.OffsetIndexEntry
	err     error
}

func (h *harness) run(t *testing.T, rebuild bool, obs events.Observer, stop *model.StopFlag) runResult {
	t.Helper()
	ix, err := index.Open(index.Options{
		ParsedPath: filepath.Join(h.dataDir, "parsed.jsonl"),
		IndexPath:  filepath.Join(h.dataDir, "index.jsonl"),
		Rebuild:    rebuild,
	})
	require.NoError(t, err)
	defer ix.Close()

	reg := ingest.NewRegistry(model.DefaultTemplateIDPrefix)
	proc := ingest.NewProcessor(logparse.MustHeaderParser(""), ingest.NewNormalizer(nil), reg)
	q := workqueue.New(64)

	o := New(Config{SourceDir: h.srcDir, Rebuild: rebuild, Observer: obs}, proc, reg, ix, q, h.store, stop)
	res := runResult{orch: o}
	res.err = o.Run(context.Background())
	require.True(t, q.Closed(), "queue must be closed when Run returns")

	for {
		task, err := q.Get(context.Background(), 10*time.Millisecond)
		if err != nil {
			require.ErrorIs(t, err, workqueue.ErrClosed)
			break
		}
		q.Ack()
		res.tasks = append(res.tasks, task)
	}
	res.entries = ix.Index().Entries()
	return res
}

func seqs(tasks []model.ProblemTask) []int64 {
	out := make([]int64, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.SequenceID)
	}
	return out
}

const appLog = "2024-01-01 00:00:00,000 INFO dfs.DataNode: Receiving block blk_1 src: /10.0.0.1:50010 dest: /10.0.0.2:50010\n" +
	"2024-01-01 00:00:01,000 ERROR dfs.DataNode: Exception writing block blk_1\n" +
	"java.io.IOException: Connection reset\n" +
	"\tat org.apache.Foo.bar(Foo.java:42)\n" +
	"2024-01-01 00:00:02,000 WARN dfs.FSNamesystem: Slow block report\n" +
	"2024-01-01 00:00:03,000 INFO dfs.DataNode: Receiving block blk_2 src: /10.0.0.3:50010 dest: /10.0.0.4:50010\n"

func TestRunIndexesAndEnqueuesInterestingEntries(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)
	h.write(t, "b.log", "orphan continuation\n2024-01-01 00:00:00,000 FATAL dfs.NameNode: shutting down\n")
	h.write(t, "ignored.csv", "2024-01-01 00:00:00,000 ERROR x: not a source\n")
	rec := &recorder{}

	res := h.run(t, false, rec, nil)
	require.NoError(t, res.err)

	require.Len(t, res.entries, 5)
	require.Equal(t, []int64{2, 5, 2}, seqs(res.tasks))
	require.Equal(t, "app.log", res.tasks[0].SourceID)
	require.Contains(t, res.tasks[0].FullText, "Foo.java:42")
	require.Equal(t, "b.log", res.tasks[2].SourceID)

	st := res.orch.Stats()
	require.Equal(t, int64(2), st.Sources)
	require.Equal(t, int64(5), st.Entries)
	require.Equal(t, int64(3), st.Enqueued)
	require.Equal(t, int64(1), st.Orphans)
	require.Equal(t, 1, rec.count(events.OrphanLine))
	require.Equal(t, 2, rec.count(events.SourceFinished))

	// Both "Receiving block" lines share a template.
	templates, err := h.store.LoadTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 4)

	progress, err := h.store.LoadProgress(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(len(appLog)), progress["app.log"].Offset)
	require.Equal(t, int64(6), progress["app.log"].LineNo)
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	first := h.run(t, false, nil, nil)
	require.NoError(t, first.err)
	require.Len(t, first.entries, 4)

	h.appendTo(t, "app.log", "2024-01-01 00:00:04,000 ERROR dfs.DataNode: disk full\n")
	second := h.run(t, false, nil, nil)
	require.NoError(t, second.err)

	require.Len(t, second.entries, 5)
	require.Equal(t, []int64{7}, seqs(second.tasks))
	require.Zero(t, second.orch.Stats().Skipped)
	require.Equal(t, int64(1), second.orch.Stats().Lines)
}

func TestResumeCompletesLineBeingWritten(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", "2024-01-01 00:00:00,000 INFO dfs.DataNode: one\n2024-01-01 00:00:01,000 ERR")
	rec := &recorder{}

	first := h.run(t, false, rec, nil)
	require.NoError(t, first.err)
	require.Empty(t, first.tasks)
	require.Len(t, first.entries, 1)
	require.Equal(t, model.SourceProgress{SourceID: "app.log", LineNo: 1, Offset: 47}, h.store.progress["app.log"])

	h.appendTo(t, "app.log", "OR dfs.DataNode: two failed\n2024-01-01 00:00:02,000 INFO dfs.DataNode: three\n")
	second := h.run(t, false, rec, nil)
	require.NoError(t, second.err)

	require.Equal(t, []int64{2}, seqs(second.tasks))
	require.Len(t, second.entries, 3)
	require.Zero(t, rec.count(events.OrphanLine))
}

func TestResumeWithoutProgressSkipsIndexedEntries(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	first := h.run(t, false, nil, nil)
	require.NoError(t, first.err)

	require.NoError(t, h.store.ClearProgress(context.Background()))
	require.NoError(t, h.store.ClearTemplates(context.Background()))

	second := h.run(t, false, nil, nil)
	require.NoError(t, second.err)
	require.Equal(t, first.entries, second.entries)
	require.Empty(t, second.tasks)
	require.Equal(t, int64(4), second.orch.Stats().Skipped)

	// Templates were rebuilt from the parsed store.
	templates, err := h.store.LoadTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 3)
}

func TestStopLeavesOpenEntryForResume(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	stop := &model.StopFlag{}
	rec := &recorder{}
	rec.hook = func(e events.Event) {
		if e.Kind == events.TaskEnqueued {
			stop.Signal()
		}
	}

	first := h.run(t, false, rec, stop)
	require.NoError(t, first.err)
	// The ERROR entry completes when the WARN header arrives; nothing after
	// that is flushed.
	require.Equal(t, []int64{2}, seqs(first.tasks))
	require.Len(t, first.entries, 2)

	progress, err := h.store.LoadProgress(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(4), progress["app.log"].LineNo)

	second := h.run(t, false, nil, nil)
	require.NoError(t, second.err)
	require.Equal(t, []int64{5}, seqs(second.tasks))
	require.Len(t, second.entries, 4)
	require.Zero(t, second.orch.Stats().Skipped)
}

func TestStopBeforeRunEnqueuesNothing(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	stop := &model.StopFlag{}
	stop.Signal()
	res := h.run(t, false, nil, stop)
	require.NoError(t, res.err)
	require.Empty(t, res.tasks)
	require.Empty(t, res.entries)
}

func TestRebuildClearsState(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	require.NoError(t, h.run(t, false, nil, nil).err)
	res := h.run(t, true, nil, nil)
	require.NoError(t, res.err)

	require.Equal(t, 1, h.store.cleared)
	require.Len(t, res.entries, 4)
	require.Equal(t, []int64{2, 5}, seqs(res.tasks))
}

func TestStoreWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	ix, err := index.Open(index.Options{
		ParsedPath: filepath.Join(h.dataDir, "parsed.jsonl"),
		IndexPath:  filepath.Join(h.dataDir, "index.jsonl"),
	})
	require.NoError(t, err)
	require.NoError(t, ix.Close())

	reg := ingest.NewRegistry("")
	proc := ingest.NewProcessor(logparse.MustHeaderParser(""), ingest.NewNormalizer(nil), reg)
	q := workqueue.New(4)
	err = New(Config{SourceDir: h.srcDir}, proc, reg, ix, q, nil, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrStoreWrite)
	require.True(t, q.Closed())
}

func TestFinalSnapshotFailureIsReported(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)
	h.store.failSave = errors.New("db locked")

	res := h.run(t, false, nil, nil)
	require.ErrorIs(t, res.err, ErrStoreWrite)
	require.Len(t, res.entries, 4)
}

func TestPipelineWithWorkers(t *testing.T) {
	h := newHarness(t)
	h.write(t, "app.log", appLog)

	ix, err := index.Open(index.Options{
		ParsedPath: filepath.Join(h.dataDir, "parsed.jsonl"),
		IndexPath:  filepath.Join(h.dataDir, "index.jsonl"),
	})
	require.NoError(t, err)
	defer ix.Close()

	retriever, err := index.NewRetriever(ix.Index(), ix.ParsedPath(), ix.ParsedSize, -1)
	require.NoError(t, err)
	defer retriever.Close()

	reg := ingest.NewRegistry(model.DefaultTemplateIDPrefix)
	proc := ingest.NewProcessor(logparse.MustHeaderParser(""), ingest.NewNormalizer(nil), reg)
	q := workqueue.New(1)
	sink := &solutionSink{}
	pool := workqueue.NewPool(q, retriever, solver.NewLocal(), []model.ResultSink{sink}, workqueue.PoolConfig{
		Workers:        2,
		Window:         model.DefaultContextWindow,
		DequeueTimeout: 10 * time.Millisecond,
	})

	ctx := context.Background()
	pool.Start(ctx)
	err = New(Config{SourceDir: h.srcDir}, proc, reg, ix, q, h.store, nil).Run(ctx)
	require.NoError(t, err)
	require.NoError(t, pool.Wait())

	require.Equal(t, q.Stats().Put, q.Stats().Acked)
	require.Len(t, sink.sols, 2)
	for _, sol := range sink.sols {
		if sol.SequenceID == 5 {
			require.Equal(t, model.SequenceRetrieved, sol.Feedback.SequenceRetrievalStatus)
			require.Equal(t, 2, sol.Feedback.SequenceRetrievedCount)
		}
	}
}

type solutionSink struct {
	mu   sync.Mutex
	sols []*model.Solution
}

func (s *solutionSink) SaveSolution(_ context.Context, sol *model.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sols = append(s.sols, sol)
	return nil
}
