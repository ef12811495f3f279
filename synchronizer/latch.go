package synchronizer

import (
	"go.uber.org/atomic"
)

// failureLatch keeps the first unrecoverable worker error. It is written by the worker only and
// read without blocking by the scheduler goroutine. Once set it is never cleared.
type failureLatch struct {
	claimed *atomic.Bool
	failed  *atomic.Bool
	cause   *atomic.Error
}

func newFailureLatch() *failureLatch {
	return &failureLatch{
		claimed: atomic.NewBool(false),
		failed:  atomic.NewBool(false),
		cause:   atomic.NewError(nil),
	}
}

// set stores err unless a cause is already latched. It reports whether err was stored.
func (l *failureLatch) set(err error) bool {
	if err == nil {
		return false
	}

	if !l.claimed.CompareAndSwap(false, true) {
		return false
	}

	// cause goes first, a reader observing failed always sees it
	l.cause.Store(err)
	l.failed.Store(true)

	return true
}

func (l *failureLatch) Failed() bool {
	return l.failed.Load()
}

func (l *failureLatch) Cause() error {
	if !l.failed.Load() {
		return nil
	}
	return l.cause.Load()
}
