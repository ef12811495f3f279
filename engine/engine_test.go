package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/backend"
	"github.com/tryfix/windowsync/backend/memory"
	"github.com/tryfix/windowsync/consumer"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/synchronizer"
)

type recorder struct {
	mu      sync.Mutex
	offsets []int64
	windows []int64
	fail    map[int64]error
}

func (r *recorder) Commit(_ context.Context, record *data.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.fail[record.Offset]; ok {
		return err
	}
	r.offsets = append(r.offsets, record.Offset)
	r.windows = append(r.windows, record.Window)
	return nil
}

func (r *recorder) committed() ([]int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.offsets...), append([]int64(nil), r.windows...)
}

func setupTopic(t *testing.T, records int) *admin.Topics {
	t.Helper()
	topics := admin.NewMockTopics()
	if err := admin.NewMockAdmin(topics).CreateTopics(map[string]*admin.Topic{
		`events`: {Name: `events`, NumPartitions: 1, ReplicationFactor: 1},
	}); err != nil {
		t.Fatal(err)
	}

	tp, _ := topics.Topic(`events`)
	pt, _ := tp.Partition(0)
	for i := 0; i < records; i++ {
		if err := pt.Append(&data.Record{
			Topic: `events`,
			Key:   []byte(fmt.Sprint(i)),
			Value: []byte(`v`),
		}); err != nil {
			t.Fatal(err)
		}
	}

	return topics
}

func newCheckpoints(t *testing.T) backend.Backend {
	t.Helper()
	b := memory.NewMemoryBackend(log.NewNoopLogger(), metrics.NoopReporter())
	t.Cleanup(func() { b.Close() })
	return b
}

func newTestEngine(t *testing.T, topics *admin.Topics, checkpoints backend.Backend, c synchronizer.Committer[*data.Record], configure func(*Config)) *Engine {
	t.Helper()
	stage, err := synchronizer.New[*data.Record, *data.Record](`test`, synchronizer.Identity[*data.Record](), c,
		synchronizer.WithSpinTime(time.Millisecond),
		synchronizer.WithShutdownTimeout(time.Second))
	if err != nil {
		t.Fatal(err)
	}

	conf := NewConfig()
	conf.Name = `test`
	conf.Topic = `events`
	conf.WindowSize = 2
	conf.WindowInterval = time.Hour
	conf.CheckpointWindowCount = 1
	conf.Checkpoints = checkpoints
	if configure != nil {
		configure(conf)
	}

	e, err := New(conf, consumer.MockPartitionConsumerBuilder(topics), stage)
	if err != nil {
		t.Fatal(err)
	}

	return e
}

func start(e *Engine) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- e.Run(ctx)
	}()
	return cancel, errs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(`condition not met in time`)
}

func waitErr(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal(`engine did not stop`)
	}
	return nil
}

func readCheckpoint(t *testing.T, e *Engine) Checkpoint {
	t.Helper()
	cp, err := e.loadCheckpoint()
	if err != nil {
		t.Fatal(err)
	}
	return cp
}

func TestEngine_Run_CommitsInOrder(t *testing.T) {
	topics := setupTopic(t, 10)
	r := new(recorder)
	e := newTestEngine(t, topics, newCheckpoints(t), r, nil)

	cancel, errs := start(e)
	waitFor(t, func() bool {
		offsets, _ := r.committed()
		return len(offsets) == 10
	})
	cancel()

	if err := waitErr(t, errs); err != nil {
		t.Fatal(err)
	}

	offsets, windows := r.committed()
	if !reflect.DeepEqual(offsets, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Errorf(`unexpected commit order %v`, offsets)
	}

	if !reflect.DeepEqual(windows, []int64{1, 1, 2, 2, 3, 3, 4, 4, 5, 5}) {
		t.Errorf(`unexpected windows %v`, windows)
	}

	cp := readCheckpoint(t, e)
	if cp.Window != 6 || cp.Offset != 9 {
		t.Errorf(`expected final checkpoint at window 6 offset 9 have %+v`, cp)
	}
}

func TestEngine_Run_NothingBeforeCheckpoint(t *testing.T) {
	topics := setupTopic(t, 4)
	r := new(recorder)
	e := newTestEngine(t, topics, newCheckpoints(t), r, func(c *Config) {
		c.CheckpointWindowCount = 3
	})

	cancel, errs := start(e)
	waitFor(t, func() bool { return e.Stats().Records == 4 })
	time.Sleep(50 * time.Millisecond)

	if offsets, _ := r.committed(); len(offsets) != 0 {
		t.Errorf(`expected nothing committed before the checkpoint have %v`, offsets)
	}

	cancel()
	if err := waitErr(t, errs); err != nil {
		t.Fatal(err)
	}

	// nothing executed, a restart replays from the beginning
	if cp := readCheckpoint(t, e); cp.Offset != -1 || cp.Window != 3 {
		t.Errorf(`expected checkpoint at window 3 offset -1 have %+v`, cp)
	}
}

func TestEngine_Run_Resume(t *testing.T) {
	topics := setupTopic(t, 6)
	checkpoints := newCheckpoints(t)
	r := new(recorder)
	e := newTestEngine(t, topics, checkpoints, r, nil)

	byt, _ := json.Marshal(Checkpoint{Window: 5, Offset: 3})
	if err := checkpoints.Set(e.checkpointKey(), byt, 0); err != nil {
		t.Fatal(err)
	}

	cancel, errs := start(e)
	waitFor(t, func() bool {
		offsets, _ := r.committed()
		return len(offsets) == 2
	})
	cancel()

	if err := waitErr(t, errs); err != nil {
		t.Fatal(err)
	}

	offsets, windows := r.committed()
	if !reflect.DeepEqual(offsets, []int64{4, 5}) || !reflect.DeepEqual(windows, []int64{6, 6}) {
		t.Errorf(`expected offsets [4 5] in window 6 have %v in %v`, offsets, windows)
	}
}

func TestEngine_Run_WindowInterval(t *testing.T) {
	topics := setupTopic(t, 3)
	r := new(recorder)
	e := newTestEngine(t, topics, newCheckpoints(t), r, func(c *Config) {
		c.WindowSize = 100
		c.WindowInterval = 20 * time.Millisecond
	})

	cancel, errs := start(e)
	defer cancel()

	waitFor(t, func() bool {
		offsets, _ := r.committed()
		return len(offsets) == 3
	})

	cancel()
	if err := waitErr(t, errs); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_Run_FailureStopsEngine(t *testing.T) {
	topics := setupTopic(t, 4)
	cause := fmt.Errorf(`sink unavailable`)
	r := &recorder{fail: map[int64]error{1: cause}}
	e := newTestEngine(t, topics, newCheckpoints(t), r, nil)

	_, errs := start(e)
	err := waitErr(t, errs)
	if err != cause {
		t.Fatalf(`expected the committer error have %v`, err)
	}

	offsets, _ := r.committed()
	if !reflect.DeepEqual(offsets, []int64{0}) {
		t.Errorf(`expected only offset 0 committed have %v`, offsets)
	}

	// window 1 never finished, the next run must replay it
	if cp := readCheckpoint(t, e); cp.Offset != -1 {
		t.Errorf(`expected resume offset -1 have %d`, cp.Offset)
	}

	if e.Stats().Running {
		t.Error(`engine should not be running`)
	}
}

func TestEngine_Run_AlreadyRunning(t *testing.T) {
	topics := setupTopic(t, 0)
	e := newTestEngine(t, topics, newCheckpoints(t), new(recorder), nil)

	cancel, errs := start(e)
	waitFor(t, func() bool { return e.Stats().Running })

	if err := e.Run(context.Background()); err != ErrAlreadyRunning {
		t.Errorf(`expected ErrAlreadyRunning have %v`, err)
	}

	cancel()
	if err := waitErr(t, errs); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_Run_UnknownTopic(t *testing.T) {
	topics := setupTopic(t, 0)
	e := newTestEngine(t, topics, newCheckpoints(t), new(recorder), func(c *Config) {
		c.Topic = `unknown`
	})

	if err := e.Run(context.Background()); err == nil {
		t.Error(`expected error for an unknown topic`)
	}
}

func TestConfig_Validate(t *testing.T) {
	c := NewConfig()
	if err := c.validate(); err == nil {
		t.Error(`expected error for missing name`)
	}

	c.Name = `test`
	if err := c.validate(); err == nil {
		t.Error(`expected error for missing topic`)
	}

	c.Topic = `events`
	c.WindowSize = 0
	if err := c.validate(); err == nil {
		t.Error(`expected error for zero window size`)
	}

	c.WindowSize = 10
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	defer c.Checkpoints.Close()

	if c.Checkpoints == nil || c.Checkpoints.Name() != `test_checkpoints` {
		t.Error(`expected a default memory checkpoint backend`)
	}
}
