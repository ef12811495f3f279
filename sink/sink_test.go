package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/backend/memory"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/producer"
)

type fakeRedis struct {
	mu   sync.Mutex
	sets map[string]interface{}
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		sets: make(map[string]interface{}),
		ttls: make(map[string]time.Duration),
	}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult(``, f.err)
	}
	f.sets[key] = value
	f.ttls[key] = expiration
	return redis.NewStatusResult(`OK`, nil)
}

func TestRedis_Commit(t *testing.T) {
	client := newFakeRedis()
	r, err := NewRedis(client, WithTTL(time.Minute), WithRedisLogger(log.NewNoopLogger()))
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Commit(context.Background(), &data.Record{Key: []byte(`k1`), Value: []byte(`v1`)}); err != nil {
		t.Fatal(err)
	}

	if v, ok := client.sets[`k1`].([]byte); !ok || string(v) != `v1` || client.ttls[`k1`] != time.Minute {
		t.Errorf(`unexpected write %v with ttl %s`, client.sets[`k1`], client.ttls[`k1`])
	}
}

func TestRedis_CommitError(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New(`connection refused`)
	r, err := NewRedis(client)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Commit(context.Background(), &data.Record{Key: []byte(`k1`)}); err == nil {
		t.Error(`expected the client error`)
	}

	if err := r.Commit(context.Background(), &data.Record{}); err == nil {
		t.Error(`expected error for a record without key`)
	}
}

func TestRedis_SequenceKeyValue(t *testing.T) {
	client := newFakeRedis()
	r, err := NewRedis(client, WithRedisKeyValue(SequenceKeyValue(`Key`, []byte(`500`))))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := r.Commit(context.Background(), &data.Record{}); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		if v, ok := client.sets[fmt.Sprintf(`Key%d`, i)].([]byte); !ok || string(v) != `500` {
			t.Errorf(`Key%d not written`, i)
		}
	}
}

func TestBackend_Commit(t *testing.T) {
	store := memory.NewMemoryBackend(log.NewNoopLogger(), metrics.NoopReporter())
	defer store.Close()

	b, err := NewBackend(store, nil, 0, log.NewNoopLogger())
	if err != nil {
		t.Fatal(err)
	}

	if err := b.Commit(context.Background(), &data.Record{Key: []byte(`k`), Value: []byte(`v`)}); err != nil {
		t.Fatal(err)
	}

	v, err := store.Get([]byte(`k`))
	if err != nil || string(v) != `v` {
		t.Errorf(`expected v have %s (%v)`, v, err)
	}

	if _, err := NewBackend(nil, nil, 0, log.NewNoopLogger()); err == nil {
		t.Error(`expected error for a nil store`)
	}
}

func TestKafka_Commit(t *testing.T) {
	topics := admin.NewMockTopics()
	if err := admin.NewMockAdmin(topics).CreateTopics(map[string]*admin.Topic{
		`out`: {Name: `out`, NumPartitions: 2, ReplicationFactor: 1},
	}); err != nil {
		t.Fatal(err)
	}

	k, err := NewKafka(`out`, producer.NewMockProducer(topics), log.NewNoopLogger())
	if err != nil {
		t.Fatal(err)
	}

	in := &data.Record{Topic: `in`, Key: []byte(`k`), Value: []byte(`v`), Window: 7}
	if err := k.Commit(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	tp, _ := topics.Topic(`out`)
	records := tp.FetchAll()
	if len(records) != 1 {
		t.Fatalf(`expected 1 record have %d`, len(records))
	}

	w, ok := records[0].Header(WindowHeader)
	if !ok || string(w) != `7` {
		t.Errorf(`expected window header 7 have %s`, w)
	}

	if in.Topic != `in` {
		t.Error(`the committed record must not be modified`)
	}

	if _, err := NewKafka(``, producer.NewMockProducer(topics), log.NewNoopLogger()); err == nil {
		t.Error(`expected error for an empty topic`)
	}
}
