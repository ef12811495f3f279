package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tryfix/errors"
)

// Checkpoint is the engine state persisted every CheckpointWindowCount windows.
type Checkpoint struct {
	// Window is the last window id handed out, numbering resumes after it
	Window int64 `json:"window"`
	// Offset is the last input offset whose items are fully committed, -1 when none is
	Offset int64     `json:"offset"`
	Time   time.Time `json:"time"`
}

func (e *Engine) checkpointKey() []byte {
	return []byte(fmt.Sprintf(`checkpoint.%s.%s.%d`, e.config.Name, e.config.Topic, e.config.Partition))
}

func (e *Engine) loadCheckpoint() (Checkpoint, error) {
	cp := Checkpoint{Window: 0, Offset: -1}

	byt, err := e.config.Checkpoints.Get(e.checkpointKey())
	if err != nil {
		return cp, errors.WithPrevious(err, `cannot read checkpoint`)
	}

	if byt == nil {
		return cp, nil
	}

	if err := json.Unmarshal(byt, &cp); err != nil {
		return cp, errors.WithPrevious(err, fmt.Sprintf(`invalid checkpoint %s`, string(byt)))
	}

	return cp, nil
}

func (e *Engine) storeCheckpoint(cp Checkpoint) error {
	defer func(begin time.Time) {
		e.metrics.checkpointLatency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), nil)
	}(time.Now())

	byt, err := json.Marshal(cp)
	if err != nil {
		return errors.WithPrevious(err, `cannot encode checkpoint`)
	}

	if err := e.config.Checkpoints.Set(e.checkpointKey(), byt, 0); err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot store checkpoint for window [%d]`, cp.Window))
	}

	e.mu.Lock()
	e.checkpoint = cp
	e.mu.Unlock()

	e.logger.Debug(fmt.Sprintf(`checkpoint stored at window [%d] offset [%d]`, cp.Window, cp.Offset))

	return nil
}

type windowEnd struct {
	window int64
	offset int64
}

// resumeOffset advances the resume position over every closed window the operator has fully
// executed. Operators without an execution mark are treated as executing on commit.
func (e *Engine) resumeOffset() int64 {
	executed := e.committed
	if tracker, ok := e.operator.(executionTracker); ok {
		executed = tracker.Executed()
	}

	e.mu.RLock()
	offset := e.checkpoint.Offset
	e.mu.RUnlock()

	for len(e.closed) > 0 && e.closed[0].window <= executed {
		offset = e.closed[0].offset
		e.closed = e.closed[1:]
	}

	if len(e.closed) == 0 {
		e.closed = nil
	}

	return offset
}
