// Package events carries non-fatal pipeline notifications to whoever is
// watching, without ever blocking the producer.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Kind classifies an event.
type Kind string

const (
	OrphanLine      Kind = "orphan_line"
	TemplateCreated Kind = "template_created"
	SourceStarted   Kind = "source_started"
	SourceFinished  Kind = "source_finished"
	SourceFailed    Kind = "source_failed"
	RecordSkipped   Kind = "record_skipped"
	TaskEnqueued    Kind = "task_enqueued"
	RetrievalFailed Kind = "retrieval_failed"
	SolverFailed    Kind = "solver_failed"
	SinkFailed      Kind = "sink_failed"
	SolutionSaved   Kind = "solution_saved"
	WorkerStopped   Kind = "worker_stopped"
	SnapshotSaved   Kind = "snapshot_saved"
	SnapshotFailed  Kind = "snapshot_failed"
)

// Event is one notification.
type Event struct {
	Kind     Kind
	Time     time.Time
	Source   string
	Sequence int64
	Worker   int
	Count    int
	Message  string
	Err      error
}

// Observer receives events. Publish must not block.
type Observer interface {
	Publish(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// Bus is a bounded, drop-on-full event channel.
type Bus struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// NewBus creates a bus holding up to buffer undelivered events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Bus{ch: make(chan Event, buffer)}
}

// Publish enqueues e, or counts it as dropped when the buffer is full or the
// bus is closed.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- e:
	default:
		b.dropped.Add(1)
	}
}

// Events returns the delivery channel. It is closed by Close.
func (b *Bus) Events() <-chan Event { return b.ch }

// Dropped returns the number of events lost to a full or closed bus.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close stops delivery. Later Publish calls are counted as dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Log writes every event from the bus to logger until the bus is closed.
func Log(b *Bus, logger *zap.Logger) {
	for e := range b.Events() {
		fields := []zap.Field{zap.String("kind", string(e.Kind))}
		if e.Source != "" {
			fields = append(fields, zap.String("source", e.Source))
		}
		if e.Sequence != 0 {
			fields = append(fields, zap.Int64("seq", e.Sequence))
		}
		if e.Kind == WorkerStopped {
			fields = append(fields, zap.Int("worker", e.Worker), zap.Int("solutions", e.Count))
		} else if e.Count != 0 {
			fields = append(fields, zap.Int("count", e.Count))
		}
		msg := e.Message
		if msg == "" {
			msg = string(e.Kind)
		}
		if e.Err != nil {
			logger.Warn(msg, append(fields, zap.Error(e.Err))...)
			continue
		}
		logger.Info(msg, fields...)
	}
	if n := b.Dropped(); n > 0 {
		logger.Warn("events dropped", zap.Int64("dropped", n))
	}
}
