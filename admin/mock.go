package admin

import (
	"errors"
	"sync"

	"github.com/Shopify/sarama"
	"github.com/tryfix/windowsync/data"
)

// MockPartition is an in memory partition log. Offsets start at zero and follow the append order.
type MockPartition struct {
	records []*data.Record
	mu      *sync.Mutex
}

func (p *MockPartition) Append(r *data.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r.Offset = int64(len(p.records))
	p.records = append(p.records, r)

	return nil
}

// Latest returns the offset of the last record, -1 when the partition is empty.
func (p *MockPartition) Latest() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.records)) - 1
}

func (p *MockPartition) FetchAll() []*data.Record {
	p.mu.Lock()
	defer p.mu.Unlock()

	records := make([]*data.Record, len(p.records))
	copy(records, p.records)
	return records
}

// Fetch returns at most limit records starting from offset start. sarama.OffsetOldest and
// sarama.OffsetNewest are accepted.
func (p *MockPartition) Fetch(start int64, limit int) ([]*data.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch start {
	case sarama.OffsetNewest:
		start = int64(len(p.records))
	case sarama.OffsetOldest:
		start = 0
	}

	if start < 0 {
		return nil, sarama.ErrOffsetOutOfRange
	}

	if start >= int64(len(p.records)) {
		return nil, nil
	}

	end := int(start) + limit
	if end > len(p.records) {
		end = len(p.records)
	}

	records := make([]*data.Record, end-int(start))
	copy(records, p.records[start:end])

	return records, nil
}

type MockTopic struct {
	Name       string
	Meta       *Topic
	partitions []*MockPartition
}

func (tp *MockTopic) Partition(id int) (*MockPartition, error) {
	if id < 0 || id >= len(tp.partitions) {
		return nil, sarama.ErrUnknownTopicOrPartition
	}
	return tp.partitions[id], nil
}

func (tp *MockTopic) Partitions() []*MockPartition {
	return tp.partitions
}

func (tp *MockTopic) FetchAll() []*data.Record {
	var records []*data.Record
	for _, pt := range tp.partitions {
		records = append(records, pt.FetchAll()...)
	}
	return records
}

type Topics struct {
	mu     *sync.Mutex
	topics map[string]*MockTopic
}

func NewMockTopics() *Topics {
	return &Topics{
		topics: make(map[string]*MockTopic),
		mu:     new(sync.Mutex),
	}
}

func (td *Topics) AddTopic(topic *MockTopic) error {
	td.mu.Lock()
	defer td.mu.Unlock()

	if _, ok := td.topics[topic.Name]; ok {
		return errors.New(`topic already exists`)
	}

	topic.partitions = make([]*MockPartition, topic.Meta.NumPartitions)
	topic.Meta.Partitions = nil
	for i := int32(0); i < topic.Meta.NumPartitions; i++ {
		topic.Meta.Partitions = append(topic.Meta.Partitions, Partition{Id: i})
		topic.partitions[i] = &MockPartition{mu: new(sync.Mutex)}
	}

	td.topics[topic.Name] = topic

	return nil
}

func (td *Topics) Topic(name string) (*MockTopic, error) {
	td.mu.Lock()
	defer td.mu.Unlock()

	t, ok := td.topics[name]
	if !ok {
		return nil, sarama.ErrUnknownTopicOrPartition
	}

	return t, nil
}

type MockKafkaAdmin struct {
	Topics *Topics
}

func NewMockAdmin(topics *Topics) *MockKafkaAdmin {
	return &MockKafkaAdmin{Topics: topics}
}

func (m *MockKafkaAdmin) FetchInfo(topics []string) (map[string]*Topic, error) {
	tps := make(map[string]*Topic)
	for _, topic := range topics {
		info, err := m.Topics.Topic(topic)
		if err != nil {
			return nil, err
		}
		tps[topic] = info.Meta
	}

	return tps, nil
}

func (m *MockKafkaAdmin) CreateTopics(topics map[string]*Topic) error {
	for name, info := range topics {
		if err := m.Topics.AddTopic(&MockTopic{Name: name, Meta: info}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockKafkaAdmin) Close() {}
