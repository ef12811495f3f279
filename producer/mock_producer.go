package producer

import (
	"context"
	"hash"
	"hash/fnv"
	"sync"

	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/data"
)

// MockProducer appends a stamped copy of each record to admin.Topics, partitioned by key hash.
type MockProducer struct {
	WindowHeader string
	mu           *sync.Mutex
	hasher       hash.Hash32
	topics       *admin.Topics
}

func NewMockProducer(topics *admin.Topics) *MockProducer {
	return &MockProducer{
		WindowHeader: DefaultWindowHeader,
		mu:           new(sync.Mutex),
		hasher:       fnv.New32a(),
		topics:       topics,
	}
}

func (msp *MockProducer) Produce(ctx context.Context, record *data.Record) (partition int32, offset int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	msp.mu.Lock()
	defer msp.mu.Unlock()

	topic, err := msp.topics.Topic(record.Topic)
	if err != nil {
		return 0, 0, err
	}

	msp.hasher.Reset()
	if _, err := msp.hasher.Write(record.Key); err != nil {
		return 0, 0, err
	}

	p := int32(int64(msp.hasher.Sum32()) % int64(len(topic.Partitions())))
	pt, err := topic.Partition(int(p))
	if err != nil {
		return 0, 0, err
	}

	stored := *record
	stored.Partition = p
	stored.Headers = windowHeaders(record, msp.WindowHeader)
	if err := pt.Append(&stored); err != nil {
		return 0, 0, err
	}

	return p, stored.Offset, nil
}

func (msp *MockProducer) Close() error {
	return nil
}
