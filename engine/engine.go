/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package engine drives a windowed operator from a single kafka partition. It cuts the input into
// numbered windows, checkpoints every few windows and only then notifies the operator that those
// windows are committed. Records of windows that were not fully executed are replayed after a
// restart.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/traceable-context"
	"github.com/tryfix/windowsync/consumer"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/synchronizer"
	"go.uber.org/atomic"
)

var (
	ErrAlreadyRunning  = errors.New(`windowsync.engine: engine already running`)
	ErrConsumerStopped = errors.New(`windowsync.engine: consumer stopped`)
)

// Operator is the host contract of a windowed stage, *synchronizer.Synchronizer satisfies it.
// Every method is called from the goroutine running Engine.Run.
type Operator interface {
	Setup(ctx context.Context) error
	BeginWindow(id int64) error
	Process(ctx context.Context, record *data.Record) error
	EndWindow(id int64) error
	Checkpointed(id int64)
	Committed(id int64)
	HandleIdleTime() error
	Teardown()
}

type executionTracker interface {
	Executed() int64
}

type failureReporter interface {
	Err() error
}

type statsProvider interface {
	Stats() synchronizer.Stats
}

type Engine struct {
	config          *Config
	operator        Operator
	consumerBuilder consumer.PartitionConsumerBuilder
	logger          log.Logger
	running         *atomic.Bool

	// owned by the goroutine running Run
	window                 int64
	windowRecords          int
	windowsSinceCheckpoint int
	lastOffset             int64
	committed              int64
	closed                 []windowEnd

	mu         *sync.RWMutex
	checkpoint Checkpoint

	stats struct {
		window     *atomic.Int64
		lastOffset *atomic.Int64
		records    *atomic.Int64
	}
	metrics struct {
		windowRecords     metrics.Observer
		checkpointLatency metrics.Observer
	}
}

func New(config *Config, builder consumer.PartitionConsumerBuilder, operator Operator) (*Engine, error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid engine config`)
	}

	if builder == nil {
		return nil, errors.New(`windowsync.engine: consumer builder cannot be nil`)
	}

	if operator == nil {
		return nil, errors.New(`windowsync.engine: operator cannot be nil`)
	}

	e := &Engine{
		config:          config,
		operator:        operator,
		consumerBuilder: builder,
		logger:          config.Logger.NewLog(log.Prefixed(fmt.Sprintf(`engine-%s`, config.Name))),
		running:         atomic.NewBool(false),
		mu:              new(sync.RWMutex),
		checkpoint:      Checkpoint{Offset: -1},
		committed:       -1,
		lastOffset:      -1,
	}

	e.stats.window = atomic.NewInt64(0)
	e.stats.lastOffset = atomic.NewInt64(-1)
	e.stats.records = atomic.NewInt64(0)

	constLabels := map[string]string{`stage`: config.Name}
	e.metrics.windowRecords = config.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `windowsync_engine_window_records`,
		ConstLabels: constLabels,
	})
	e.metrics.checkpointLatency = config.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `windowsync_engine_checkpoint_latency_microseconds`,
		ConstLabels: constLabels,
	})

	return e, nil
}

func (e *Engine) Name() string {
	return e.config.Name
}

// Run consumes the partition until ctx is cancelled (returning nil) or the stage fails. A failure
// latched by the operator is returned as is.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info(fmt.Sprintf("starting with config\n%s", e.config))

	cp, err := e.loadCheckpoint()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.checkpoint = cp
	e.mu.Unlock()

	e.window = cp.Window
	e.lastOffset = cp.Offset
	e.committed = -1
	e.closed = nil
	e.windowsSinceCheckpoint = 0
	e.stats.lastOffset.Store(cp.Offset)

	offset := consumer.Earliest
	if cp.Offset >= 0 {
		offset = consumer.Offset(cp.Offset + 1)
	}

	if err := e.operator.Setup(ctx); err != nil {
		return errors.WithPrevious(err, `operator setup failed`)
	}

	pc, err := e.consumerBuilder(e.config.Consumer)
	if err != nil {
		e.operator.Teardown()
		return errors.WithPrevious(err, `cannot build partition consumer`)
	}

	events, err := pc.Consume(e.config.Topic, e.config.Partition, offset)
	if err != nil {
		e.operator.Teardown()
		if cErr := pc.Close(); cErr != nil {
			e.logger.Error(fmt.Sprintf(`cannot close consumer due to %s`, cErr))
		}
		return errors.WithPrevious(err, fmt.Sprintf(`cannot consume %s[%d] from %s`, e.config.Topic, e.config.Partition, offset))
	}

	e.logger.Info(fmt.Sprintf(`consuming %s[%d] from %s, windows start after [%d]`, e.config.Topic, e.config.Partition, offset, cp.Window))

	runErr := e.loop(ctx, events, pc.Errors())
	if runErr != nil {
		e.logger.Error(fmt.Sprintf(`stopping due to %s`, runErr))
	}

	e.operator.Teardown()

	if err := pc.Close(); err != nil {
		e.logger.Error(fmt.Sprintf(`cannot close consumer due to %s`, err))
	}

	// the operator is stopped, its execution mark is final
	if err := e.storeCheckpoint(Checkpoint{Window: e.window, Offset: e.resumeOffset(), Time: time.Now()}); err != nil {
		e.logger.Error(fmt.Sprintf(`final checkpoint failed due to %s`, err))
	}

	e.logger.Info(`stopped`)

	return runErr
}

func (e *Engine) loop(ctx context.Context, events <-chan consumer.Event, errs <-chan *consumer.Error) error {
	if err := e.beginWindow(); err != nil {
		return err
	}

	ticker := time.NewTicker(e.config.WindowInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return ErrConsumerStopped
			}

			if err := e.handle(ctx, ev); err != nil {
				return err
			}

		case cErr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return errors.WithPrevious(cErr, fmt.Sprintf(`consumer failed in window [%d]`, e.window))

		case <-ticker.C:
			if err := e.endWindow(); err != nil {
				return err
			}

		default:
			if err := e.operator.HandleIdleTime(); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev consumer.Event) error {
	switch event := ev.(type) {
	case *data.Record:
		event.Window = e.window
		rCtx := traceable_context.WithUUID(event.UUID)
		if err := e.operator.Process(rCtx, event); err != nil {
			return errors.WithPrevious(err, fmt.Sprintf(`cannot process record %s in window [%d]`, event, e.window))
		}

		e.lastOffset = event.Offset
		e.windowRecords++
		e.stats.lastOffset.Store(event.Offset)
		e.stats.records.Inc()

		if e.windowRecords >= e.config.WindowSize {
			return e.endWindow()
		}

	case *consumer.PartitionEnd:
		e.logger.Trace(fmt.Sprintf(`partition end reached at offset [%d]`, e.lastOffset))

	default:
		e.logger.Warn(fmt.Sprintf(`unknown event %s ignored`, ev))
	}

	return nil
}

func (e *Engine) beginWindow() error {
	e.window++
	if err := e.operator.BeginWindow(e.window); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot begin window [%d]`, e.window))
	}

	e.windowRecords = 0
	e.stats.window.Store(e.window)

	return nil
}

func (e *Engine) endWindow() error {
	if err := e.operator.EndWindow(e.window); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot end window [%d]`, e.window))
	}

	// a busy partition may never leave room for an idle callback
	if reporter, ok := e.operator.(failureReporter); ok {
		if err := reporter.Err(); err != nil {
			return err
		}
	}

	e.metrics.windowRecords.Observe(float64(e.windowRecords), nil)
	e.closed = append(e.closed, windowEnd{window: e.window, offset: e.lastOffset})
	e.windowsSinceCheckpoint++

	if e.windowsSinceCheckpoint >= e.config.CheckpointWindowCount {
		if err := e.checkpointWindow(); err != nil {
			return err
		}
	}

	return e.beginWindow()
}

// checkpointWindow persists the current window and then tells the operator it is committed.
func (e *Engine) checkpointWindow() error {
	w := e.window
	if err := e.storeCheckpoint(Checkpoint{Window: w, Offset: e.resumeOffset(), Time: time.Now()}); err != nil {
		return err
	}

	e.operator.Checkpointed(w)
	e.operator.Committed(w)
	e.committed = w
	e.windowsSinceCheckpoint = 0

	return nil
}

type Stats struct {
	Name          string              `json:"name"`
	Topic         string              `json:"topic"`
	Partition     int32               `json:"partition"`
	Running       bool                `json:"running"`
	CurrentWindow int64               `json:"current_window"`
	LastOffset    int64               `json:"last_offset"`
	Records       int64               `json:"records"`
	Checkpoint    Checkpoint          `json:"checkpoint"`
	Stage         *synchronizer.Stats `json:"stage,omitempty"`
}

// Stats is safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	cp := e.checkpoint
	e.mu.RUnlock()

	st := Stats{
		Name:          e.config.Name,
		Topic:         e.config.Topic,
		Partition:     e.config.Partition,
		Running:       e.running.Load(),
		CurrentWindow: e.stats.window.Load(),
		LastOffset:    e.stats.lastOffset.Load(),
		Records:       e.stats.records.Load(),
		Checkpoint:    cp,
	}

	if provider, ok := e.operator.(statsProvider); ok {
		stage := provider.Stats()
		st.Stage = &stage
	}

	return st
}
