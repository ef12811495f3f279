package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/offsets"
)

// MockPartitionConsumer reads partitions of admin.Topics. A PartitionEnd is emitted each time it
// catches up with the partition.
type MockPartitionConsumer struct {
	id             string
	topics         *admin.Topics
	offsets        offsets.Manager
	fetchInterval  time.Duration
	fetchBatchSize int
	closeOnce      *sync.Once
	closing        chan struct{}
	closed         chan struct{}
	started        bool
	outOfRange     Offset
	events         chan Event
	errors         chan *Error
}

func NewMockPartitionConsumer(topics *admin.Topics, offsets offsets.Manager) *MockPartitionConsumer {
	return &MockPartitionConsumer{
		id:             `mock-partition-consumer`,
		topics:         topics,
		fetchInterval:  100 * time.Microsecond,
		fetchBatchSize: 1000,
		closeOnce:      new(sync.Once),
		closed:         make(chan struct{}),
		closing:        make(chan struct{}),
		offsets:        offsets,
		outOfRange:     Earliest,
		events:         make(chan Event, 100),
		errors:         make(chan *Error, 1),
	}
}

// MockPartitionConsumerBuilder ignores the config and reads topics instead of a cluster.
func MockPartitionConsumerBuilder(topics *admin.Topics) PartitionConsumerBuilder {
	return func(config *Config) (PartitionConsumer, error) {
		c := NewMockPartitionConsumer(topics, &offsets.MockManager{Topics: topics})
		if config != nil {
			if config.Id != `` {
				c.id = config.Id
			}
			if config.OutOfRange == Latest {
				c.outOfRange = Latest
			}
		}
		return c, nil
	}
}

func (m *MockPartitionConsumer) Consume(topic string, partition int32, offset Offset) (<-chan Event, error) {
	tp, err := m.topics.Topic(topic)
	if err != nil {
		return nil, err
	}

	pt, err := tp.Partition(int(partition))
	if err != nil {
		return nil, err
	}

	if offset != Earliest && offset != Latest {
		valid, err := m.offsets.OffsetValid(topic, partition, int64(offset))
		if err != nil {
			return nil, err
		}
		if !valid {
			offset = m.outOfRange
		}
	}

	current := int64(offset)
	switch offset {
	case Earliest:
		current, err = m.offsets.GetOffsetOldest(topic, partition)
	case Latest:
		current, err = m.offsets.GetOffsetLatest(topic, partition)
	}
	if err != nil {
		return nil, err
	}

	m.started = true
	go m.consume(pt, current)

	return m.events, nil
}

func (m *MockPartitionConsumer) consume(pt *admin.MockPartition, current int64) {
	defer close(m.closed)

	caughtUp := false
	for {
		select {
		case <-m.closing:
			return
		default:
		}

		records, err := pt.Fetch(current, m.fetchBatchSize)
		if err != nil {
			select {
			case m.errors <- &Error{fmt.Errorf(`fetch from %d failed: %w`, current, err)}:
			default:
			}
			return
		}

		if len(records) < 1 {
			if !caughtUp {
				caughtUp = true
				if !m.emit(&PartitionEnd{}) {
					return
				}
			}
			time.Sleep(m.fetchInterval)
			continue
		}

		caughtUp = false
		for _, msg := range records {
			if !m.emit(&data.Record{
				Key:       msg.Key,
				Value:     msg.Value,
				Offset:    msg.Offset,
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Timestamp: msg.Timestamp,
				UUID:      uuid.New(),
				Headers:   msg.Headers,
			}) {
				return
			}
		}

		current = records[len(records)-1].Offset + 1
	}
}

func (m *MockPartitionConsumer) emit(e Event) bool {
	select {
	case m.events <- e:
		return true
	case <-m.closing:
		return false
	}
}

func (m *MockPartitionConsumer) Errors() <-chan *Error {
	return m.errors
}

func (m *MockPartitionConsumer) Close() error {
	m.closeOnce.Do(func() {
		close(m.closing)
		if m.started {
			<-m.closed
		}
		close(m.events)
	})
	return nil
}

func (m *MockPartitionConsumer) Id() string {
	return m.id
}
