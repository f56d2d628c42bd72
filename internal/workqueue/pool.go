package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/triage/internal/events"
	"github.com/tinytelemetry/triage/internal/model"
)

// PoolConfig holds tunable parameters for a worker pool.
type PoolConfig struct {
	Workers        int
	Window         int
	DequeueTimeout time.Duration
	Logger         *zap.Logger
	Observer       events.Observer
}

// Pool runs workers that turn queued tasks into solutions.
type Pool struct {
	queue  *Queue
	reader model.ContextReader
	solver model.Solver
	sinks  []model.ResultSink
	conf   PoolConfig
	logger *zap.Logger
	obs    events.Observer

	solved []atomic.Int64
	failed atomic.Int64

	mu sync.Mutex
	g  *errgroup.Group
}

// NewPool creates a pool. Workers start on Start.
func NewPool(q *Queue, reader model.ContextReader, solver model.Solver, sinks []model.ResultSink, conf PoolConfig) *Pool {
	if conf.Workers <= 0 {
		conf.Workers = model.DefaultWorkers
	}
	if conf.Window < 0 {
		conf.Window = 0
	}
	if conf.DequeueTimeout <= 0 {
		conf.DequeueTimeout = model.DefaultDequeueTimeout
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := conf.Observer
	if obs == nil {
		obs = events.Nop{}
	}
	return &Pool{
		queue:  q,
		reader: reader,
		solver: solver,
		sinks:  sinks,
		conf:   conf,
		logger: logger.Named("workers"),
		obs:    obs,
		solved: make([]atomic.Int64, conf.Workers),
	}
}

// Start launches the workers. They exit when the queue is closed and drained,
// or when ctx ends.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.g != nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.conf.Workers; i++ {
		id := i + 1
		g.Go(func() error { return p.work(gctx, id) })
	}
	p.g = g
	p.logger.Info("workers started", zap.Int("workers", p.conf.Workers), zap.String("solver", p.solver.Name()))
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() error {
	p.mu.Lock()
	g := p.g
	p.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Run starts the workers and waits for them.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(ctx)
	return p.Wait()
}

// Solved returns the number of solutions each worker produced.
func (p *Pool) Solved() []int64 {
	out := make([]int64, len(p.solved))
	for i := range p.solved {
		out[i] = p.solved[i].Load()
	}
	return out
}

// Failed returns the number of tasks that ended without a saved solution.
func (p *Pool) Failed() int64 { return p.failed.Load() }

func (p *Pool) work(ctx context.Context, id int) error {
	defer func() {
		n := int(p.solved[id-1].Load())
		p.logger.Info("worker stopped", zap.Int("worker", id), zap.Int("solutions", n))
		p.obs.Publish(events.Event{Kind: events.WorkerStopped, Worker: id, Count: n, Message: "worker stopped"})
	}()

	for {
		task, err := p.queue.Get(ctx, p.conf.DequeueTimeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, ErrClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("workqueue: worker %d: %w", id, err)
		}

		if p.handle(ctx, id, task) {
			p.solved[id-1].Add(1)
		} else {
			p.failed.Add(1)
		}
		p.queue.Ack()
	}
}

// handle runs one task to completion and reports whether a solution was saved.
func (p *Pool) handle(ctx context.Context, id int, task model.ProblemTask) bool {
	logger := p.logger.With(zap.Int("worker", id), zap.String("source", task.SourceID), zap.Int64("seq", task.SequenceID))

	window, err := p.reader.Window(ctx, task.SourceID, task.SequenceID, p.conf.Window)
	if err != nil {
		p.publish(events.RetrievalFailed, id, task, "context retrieval failed", err)
		window = nil
	}

	sol, err := p.solver.Solve(ctx, model.Problem{Task: task, Context: window})
	if err == nil && sol == nil {
		err = errors.New("solver returned no solution")
	}
	if err == nil {
		err = sol.Validate()
	}
	if err != nil {
		logger.Warn("solver failed", zap.Error(err))
		p.publish(events.SolverFailed, id, task, "solver failed", err)
		return false
	}

	complete(sol, task, window, p.solver.Name())

	saved := true
	for _, sink := range p.sinks {
		if err := sink.SaveSolution(ctx, sol); err != nil {
			saved = false
			logger.Warn("result sink failed", zap.Error(err))
			p.publish(events.SinkFailed, id, task, "result sink failed", err)
		}
	}
	if saved {
		p.publish(events.SolutionSaved, id, task, "solution saved", nil)
	}
	return saved
}

func (p *Pool) publish(kind events.Kind, worker int, task model.ProblemTask, msg string, err error) {
	p.obs.Publish(events.Event{
		Kind:     kind,
		Source:   task.SourceID,
		Sequence: task.SequenceID,
		Worker:   worker,
		Message:  msg,
		Err:      err,
	})
}

// complete fills the bookkeeping fields a solver is not trusted with.
func complete(sol *model.Solution, task model.ProblemTask, window []model.LogEntry, solver string) {
	if sol.ID == "" {
		sol.ID = uuid.NewString()
	}
	sol.SourceID = task.SourceID
	sol.SequenceID = task.SequenceID
	sol.TemplateID = task.TemplateID
	sol.TemplateText = task.TemplateText
	sol.EntryText = task.FullText
	sol.Level = task.Level
	if sol.Solver == "" {
		sol.Solver = solver
	}
	if sol.CreatedAt.IsZero() {
		sol.CreatedAt = time.Now().UTC()
	}
	sol.Feedback.SequenceRetrievedCount = len(window)
	if len(window) > 0 {
		sol.Feedback.SequenceRetrievalStatus = model.SequenceRetrieved
	} else {
		sol.Feedback.SequenceRetrievalStatus = model.SequenceEmpty
	}
}
