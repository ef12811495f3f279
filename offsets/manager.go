package offsets

import (
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

type Manager interface {
	OffsetValid(topic string, partition int32, offset int64) (isValid bool, err error)
	GetOffsetLatest(topic string, partition int32) (offset int64, err error)
	GetOffsetOldest(topic string, partition int32) (offset int64, err error)
	Close() error
}

type Config struct {
	Config           *sarama.Config
	BootstrapServers []string
	Logger           log.Logger
}

type manager struct {
	client sarama.Client
	logger log.Logger
}

func NewManager(config *Config) (Manager, error) {
	client, err := sarama.NewClient(config.BootstrapServers, config.Config)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot initiate offset manager`)
	}

	return &manager{
		client: client,
		logger: config.Logger.NewLog(log.Prefixed(`offset-manager`)),
	}, nil
}

func (m *manager) OffsetValid(topic string, partition int32, offset int64) (isValid bool, err error) {
	oldest, err := m.GetOffsetOldest(topic, partition)
	if err != nil {
		return false, err
	}

	latest, err := m.GetOffsetLatest(topic, partition)
	if err != nil {
		return false, err
	}

	return offsetValid(offset, oldest, latest), nil
}

// GetOffsetLatest returns the offset the next produced record will get (the high watermark).
func (m *manager) GetOffsetLatest(topic string, partition int32) (offset int64, err error) {
	partitionEnd, err := m.client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return offset, errors.WithPrevious(err, fmt.Sprintf(`cannot get latest offset for %s-%d`, topic, partition))
	}

	return partitionEnd, nil
}

func (m *manager) GetOffsetOldest(topic string, partition int32) (offset int64, err error) {
	partitionStart, err := m.client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return offset, errors.WithPrevious(err, fmt.Sprintf(`cannot get oldest offset for %s-%d`, topic, partition))
	}

	return partitionStart, nil
}

func (m *manager) Close() error {
	return m.client.Close()
}

// offsetValid reports whether offset can be consumed from, consuming at the high watermark waits
// for the next record.
func offsetValid(offset, bkStart, bkEnd int64) bool {
	return offset >= bkStart && offset <= bkEnd
}
