/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package synchronizer buffers items per window and hands them to a single background worker
// once the owning window is committed. Committed items reach the Committer in window commit
// order and, within a window, in enqueue order. Nothing reaches it before its window commits.
//
// All methods except Stats are called from one goroutine, the one driving the stage (see
// engine.Engine). Worker failures are latched and returned from the next HandleIdleTime call.
package synchronizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"go.uber.org/atomic"
)

var (
	ErrNotRunning     = errors.New(`windowsync.synchronizer: stage is not running`)
	ErrAlreadyRunning = errors.New(`windowsync.synchronizer: stage already set up`)
	ErrWorkerAlive    = errors.New(`windowsync.synchronizer: previous worker has not stopped yet`)
)

// executionMark records that window is fully executed once through batches are processed.
type executionMark struct {
	through int64
	window  int64
}

type Synchronizer[IN, QT any] struct {
	name      string
	deriver   Deriver[IN, QT]
	committer Committer[QT]
	opts      *stageOptions
	logger    log.Logger

	windows *windows[QT]
	// mu guards swapping queue and latch on Setup, Stats reads them from other goroutines
	mu      *sync.RWMutex
	queue   *readyQueue[QT]
	latch   *failureLatch
	worker  *worker[QT]
	cancel  context.CancelFunc
	running *atomic.Bool

	// marks and pushed are owned by the scheduler goroutine
	marks  []executionMark
	pushed int64

	stats struct {
		currentWindow *atomic.Int64
		lastCommitted *atomic.Int64
		lastExecuted  *atomic.Int64
		pending       *atomic.Int64
		enqueued      *atomic.Int64
		committed     *atomic.Int64
	}
	metrics struct {
		pendingWindows metrics.Gauge
		readyBatches   metrics.Gauge
		enqueuedItems  metrics.Counter
		committedItems metrics.Counter
		commitLatency  metrics.Observer
		failures       metrics.Counter
	}
}

func New[IN, QT any](name string, deriver Deriver[IN, QT], committer Committer[QT], opts ...Option) (*Synchronizer[IN, QT], error) {
	if name == `` {
		return nil, errors.New(`windowsync.synchronizer: name cannot be empty`)
	}

	if deriver == nil {
		return nil, errors.New(fmt.Sprintf(`windowsync.synchronizer: [%s] deriver cannot be nil`, name))
	}

	if committer == nil {
		return nil, errors.New(fmt.Sprintf(`windowsync.synchronizer: [%s] committer cannot be nil`, name))
	}

	o := new(stageOptions)
	o.apply(opts...)

	s := &Synchronizer[IN, QT]{
		name:      name,
		deriver:   deriver,
		committer: committer,
		opts:      o,
		logger:    o.logger.NewLog(log.Prefixed(fmt.Sprintf(`synchronizer-%s`, name))),
		windows:   new(windows[QT]),
		mu:        new(sync.RWMutex),
		queue:     newReadyQueue[QT](),
		latch:     newFailureLatch(),
		running:   atomic.NewBool(false),
	}

	s.stats.currentWindow = atomic.NewInt64(-1)
	s.stats.lastCommitted = atomic.NewInt64(-1)
	s.stats.lastExecuted = atomic.NewInt64(-1)
	s.stats.pending = atomic.NewInt64(0)
	s.stats.enqueued = atomic.NewInt64(0)
	s.stats.committed = atomic.NewInt64(0)

	constLabels := map[string]string{`stage`: name}
	reporter := o.metricsReporter
	s.metrics.pendingWindows = reporter.Gauge(metrics.MetricConf{Path: `windowsync_pending_windows`, ConstLabels: constLabels})
	s.metrics.readyBatches = reporter.Gauge(metrics.MetricConf{Path: `windowsync_ready_batches`, ConstLabels: constLabels})
	s.metrics.enqueuedItems = reporter.Counter(metrics.MetricConf{Path: `windowsync_enqueued_items`, ConstLabels: constLabels})
	s.metrics.committedItems = reporter.Counter(metrics.MetricConf{Path: `windowsync_committed_items`, ConstLabels: constLabels})
	s.metrics.commitLatency = reporter.Observer(metrics.MetricConf{Path: `windowsync_item_commit_latency_microseconds`, ConstLabels: constLabels})
	s.metrics.failures = reporter.Counter(metrics.MetricConf{Path: `windowsync_failures`, ConstLabels: constLabels})

	return s, nil
}

func (s *Synchronizer[IN, QT]) Name() string {
	return s.name
}

// Setup resets the window bookkeeping and starts the worker. Commits made by the worker run
// under ctx. Cancelling it stops the worker without latching a failure, the host still calls
// Teardown. Setup fails with ErrWorkerAlive while a worker left behind by a timed out Teardown
// is still committing.
func (s *Synchronizer[IN, QT]) Setup(ctx context.Context) error {
	if s.running.Load() {
		return ErrAlreadyRunning
	}

	if s.worker != nil {
		select {
		case <-s.worker.done:
		default:
			return ErrWorkerAlive
		}
	}

	s.windows = new(windows[QT])
	s.mu.Lock()
	s.queue = newReadyQueue[QT]()
	s.latch = newFailureLatch()
	s.mu.Unlock()
	s.stats.currentWindow.Store(-1)
	s.stats.lastCommitted.Store(-1)
	s.stats.lastExecuted.Store(-1)
	s.stats.pending.Store(0)
	s.marks = nil
	s.pushed = 0

	w := &worker[QT]{
		queue:     s.queue,
		committer: s.committer,
		latch:     s.latch,
		spinTime:  s.opts.spinTime,
		logger:    s.logger.NewLog(log.Prefixed(`worker`)),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
		committed: s.stats.committed,
		processed: atomic.NewInt64(0),
	}
	w.metrics.committedItems = s.metrics.committedItems
	w.metrics.commitLatency = s.metrics.commitLatency
	w.metrics.failures = s.metrics.failures
	w.metrics.readyBatches = s.metrics.readyBatches

	workerCtx, cancel := context.WithCancel(ctx)
	s.worker = w
	s.cancel = cancel
	s.running.Store(true)

	go w.start(workerCtx)

	s.logger.Info(fmt.Sprintf(`stage set up with spin time %s`, s.opts.spinTime))

	return nil
}

// BeginWindow opens window id. Ids must be strictly increasing.
func (s *Synchronizer[IN, QT]) BeginWindow(id int64) error {
	if !s.running.Load() {
		return ErrNotRunning
	}

	if err := s.windows.open(id); err != nil {
		s.logger.Error(fmt.Sprintf(`cannot open window [%d] after [%d]`, id, s.stats.currentWindow.Load()))
		return err
	}

	s.stats.currentWindow.Store(id)
	s.stats.pending.Store(int64(s.windows.pending()))
	s.metrics.pendingWindows.Count(float64(s.windows.pending()), nil)

	return nil
}

func (s *Synchronizer[IN, QT]) EndWindow(id int64) error {
	if current := s.stats.currentWindow.Load(); current != id {
		return errors.New(fmt.Sprintf(`windowsync.synchronizer: ending window [%d] while [%d] is open`, id, current))
	}

	return nil
}

// Process derives the queue items of in and enqueues them into the open window.
func (s *Synchronizer[IN, QT]) Process(ctx context.Context, in IN) error {
	items, err := s.deriver.Derive(ctx, in)
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot derive items in window [%d]`, s.stats.currentWindow.Load()))
	}

	for _, item := range items {
		if err := s.Enqueue(item); err != nil {
			return err
		}
	}

	return nil
}

// Enqueue adds item to the open window. It will be committed once that window is.
func (s *Synchronizer[IN, QT]) Enqueue(item QT) error {
	if err := s.windows.append(item); err != nil {
		s.logger.Error(fmt.Sprintf(`enqueue rejected, current window [%d] due to %s`, s.stats.currentWindow.Load(), err))
		return err
	}

	s.stats.enqueued.Inc()
	s.metrics.enqueuedItems.Count(1, nil)

	return nil
}

func (s *Synchronizer[IN, QT]) Checkpointed(id int64) {
	s.logger.Trace(fmt.Sprintf(`window [%d] checkpointed`, id))
}

// Committed moves every pending window up to and including id to the ready queue, oldest first.
// Commits are cumulative, an id at or below an already committed one is a no-op.
func (s *Synchronizer[IN, QT]) Committed(id int64) {
	s.logger.Debug(fmt.Sprintf(`current committed window %d`, id))

	retired, emitted := s.windows.drain(id, func(window int64, items []QT) {
		s.queue.push(batch[QT]{window: window, items: items})
		s.pushed++
	})
	if retired < 1 {
		return
	}

	s.marks = append(s.marks, executionMark{through: s.pushed, window: id})

	if id > s.stats.lastCommitted.Load() {
		s.stats.lastCommitted.Store(id)
	}
	s.stats.pending.Store(int64(s.windows.pending()))
	s.metrics.pendingWindows.Count(float64(s.windows.pending()), nil)
	s.metrics.readyBatches.Count(float64(s.queue.len()), nil)

	s.logger.Trace(fmt.Sprintf(`%d windows retired, %d batches ready`, retired, emitted))
}

// Executed returns the highest committed window whose items have all been committed by the worker,
// -1 when there is none yet. A host resuming from the input position of that window replays every
// item a shutdown might have dropped.
func (s *Synchronizer[IN, QT]) Executed() int64 {
	if s.worker == nil {
		return s.stats.lastExecuted.Load()
	}

	processed := s.worker.processed.Load()
	for len(s.marks) > 0 && s.marks[0].through <= processed {
		s.stats.lastExecuted.Store(s.marks[0].window)
		s.marks = s.marks[1:]
	}

	if len(s.marks) == 0 {
		s.marks = nil
	}

	return s.stats.lastExecuted.Load()
}

// HandleIdleTime returns the worker's failure cause once one is latched, otherwise it sleeps for
// the configured spin time.
func (s *Synchronizer[IN, QT]) HandleIdleTime() error {
	if cause := s.latch.Cause(); cause != nil {
		s.logger.Error(fmt.Sprintf(`worker failed: %s`, cause))
		return cause
	}

	time.Sleep(s.opts.spinTime)

	return nil
}

// Teardown stops the worker and drops the ready batches it has not started. Recovery of those
// relies on the host replaying uncommitted input.
func (s *Synchronizer[IN, QT]) Teardown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.logger.Info(`stage stopping...`)
	defer s.logger.Info(`stage stopped`)

	close(s.worker.stopping)
	s.cancel()

	select {
	case <-s.worker.done:
	case <-time.After(s.opts.shutdownTimeout):
		s.logger.Warn(fmt.Sprintf(`worker did not stop within %s, it keeps committing its current batch and Setup is refused until it returns`, s.opts.shutdownTimeout))
	}

	if batches, items := s.queue.clear(); batches > 0 {
		s.logger.Warn(fmt.Sprintf(`%d ready batches (%d items) dropped on shutdown`, batches, items))
	}
	s.metrics.readyBatches.Count(0, nil)
}

// Err returns the latched worker failure without sleeping.
func (s *Synchronizer[IN, QT]) Err() error {
	return s.latch.Cause()
}

type Stats struct {
	Name           string `json:"name"`
	Running        bool   `json:"running"`
	CurrentWindow  int64  `json:"current_window"`
	LastCommitted  int64  `json:"last_committed_window"`
	LastExecuted   int64  `json:"last_executed_window"`
	PendingWindows int64  `json:"pending_windows"`
	ReadyBatches   int    `json:"ready_batches"`
	EnqueuedItems  int64  `json:"enqueued_items"`
	CommittedItems int64  `json:"committed_items"`
	Failed         bool   `json:"failed"`
	Cause          string `json:"cause,omitempty"`
}

// Stats is safe to call from any goroutine.
func (s *Synchronizer[IN, QT]) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Name:           s.name,
		Running:        s.running.Load(),
		CurrentWindow:  s.stats.currentWindow.Load(),
		LastCommitted:  s.stats.lastCommitted.Load(),
		LastExecuted:   s.stats.lastExecuted.Load(),
		PendingWindows: s.stats.pending.Load(),
		ReadyBatches:   s.queue.len(),
		EnqueuedItems:  s.stats.enqueued.Load(),
		CommittedItems: s.stats.committed.Load(),
	}

	if cause := s.latch.Cause(); cause != nil {
		st.Failed = true
		st.Cause = cause.Error()
	}

	return st
}
