package synchronizer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/traceable-context"
	"go.uber.org/atomic"
)

var batchMetaKey = `ws_batch_meta`

// BatchMeta is attached to the context every Commit call receives.
type BatchMeta struct {
	Window   int64
	Size     int
	Position int
}

// MetaFromContext returns the batch the committed item belongs to.
func MetaFromContext(ctx context.Context) (*BatchMeta, bool) {
	meta, ok := ctx.Value(&batchMetaKey).(*BatchMeta)
	return meta, ok
}

type worker[QT any] struct {
	queue     *readyQueue[QT]
	committer Committer[QT]
	latch     *failureLatch
	spinTime  time.Duration
	logger    log.Logger
	stopping  chan struct{}
	done      chan struct{}
	committed *atomic.Int64
	// processed counts batches committed to the last item
	processed *atomic.Int64
	metrics   struct {
		committedItems metrics.Counter
		commitLatency  metrics.Observer
		failures       metrics.Counter
		readyBatches   metrics.Gauge
	}
}

func (w *worker[QT]) isStopping() bool {
	select {
	case <-w.stopping:
		return true
	default:
		return false
	}
}

func (w *worker[QT]) start(ctx context.Context) {
	defer close(w.done)

	w.logger.Info(`worker started`)
	defer w.logger.Info(`worker stopped`)

	for {
		if w.isStopping() || ctx.Err() != nil {
			return
		}

		b, ok := w.queue.pop()
		if !ok {
			select {
			case <-w.stopping:
				return
			case <-ctx.Done():
				return
			case <-w.queue.wait():
			case <-time.After(w.spinTime):
			}
			continue
		}

		w.metrics.readyBatches.Count(float64(w.queue.len()), nil)

		interrupted, err := w.process(ctx, b)
		if interrupted {
			w.logger.Info(fmt.Sprintf(`window [%d] abandoned on shutdown`, b.window))
			return
		}

		if err != nil {
			w.latch.set(err)
			w.metrics.failures.Count(1, nil)
			w.logger.Error(fmt.Sprintf(`committing window [%d] failed, worker stopping due to %s`, b.window, err))
			return
		}

		w.processed.Inc()
	}
}

// process commits a batch item by item. interrupted reports that the stage started shutting down,
// or ctx was cancelled, before the batch finished, in which case err is not a failure.
func (w *worker[QT]) process(ctx context.Context, b batch[QT]) (interrupted bool, err error) {
	meta := &BatchMeta{Window: b.window, Size: len(b.items)}
	bCtx, cancel := context.WithCancel(
		traceable_context.WithValue(traceable_context.WithUUID(uuid.New()), &batchMetaKey, meta))
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	for i, item := range b.items {
		if w.isStopping() || ctx.Err() != nil {
			return true, nil
		}

		meta.Position = i
		begin := time.Now()
		if err := w.commit(bCtx, item); err != nil {
			if (w.isStopping() || ctx.Err() != nil) && bCtx.Err() != nil {
				return true, nil
			}
			return false, err
		}

		w.committed.Inc()
		w.metrics.committedItems.Count(1, nil)
		w.metrics.commitLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), nil)
	}

	w.logger.TraceContext(bCtx, fmt.Sprintf(`window [%d] committed with %d items`, b.window, len(b.items)))

	return false, nil
}

func (w *worker[QT]) commit(ctx context.Context, item QT) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf(`committer panicked: %v`, r))
		}
	}()

	return w.committer.Commit(ctx, item)
}
