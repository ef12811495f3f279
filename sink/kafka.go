package sink

import (
	"context"
	"fmt"

	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/producer"
)

// Kafka produces every committed record to Topic.
type Kafka struct {
	Topic    string
	producer producer.Producer
	logger   log.Logger
}

func NewKafka(topic string, p producer.Producer, logger log.Logger) (*Kafka, error) {
	if topic == `` {
		return nil, errors.New(`windowsync.sink.Kafka: topic cannot be empty`)
	}

	if p == nil {
		return nil, errors.New(`windowsync.sink.Kafka: producer cannot be nil`)
	}

	return &Kafka{
		Topic:    topic,
		producer: p,
		logger:   logger.NewLog(log.Prefixed(`kafka-sink`)),
	}, nil
}

// Commit produces a copy of record to Topic. The producer stamps it with the record's window.
func (k *Kafka) Commit(ctx context.Context, record *data.Record) error {
	p, o, err := k.producer.Produce(ctx, &data.Record{
		Key:       record.Key,
		Value:     record.Value,
		Topic:     k.Topic,
		Timestamp: record.Timestamp,
		Headers:   record.Headers,
		Window:    record.Window,
	})
	if err != nil {
		return errors.WithPrevious(err, fmt.Sprintf(`cannot produce %s to %s`, record, k.Topic))
	}

	k.logger.TraceContext(ctx, fmt.Sprintf(`%s committed to %s[%d] at %d`, record, k.Topic, p, o))

	return nil
}

func (k *Kafka) String() string {
	return fmt.Sprintf(`kafka:%s`, k.Topic)
}
