package consumer

import (
	"fmt"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/offsets"
)

type partitionConsumer struct {
	id                string
	offsets           offsets.Manager
	consumerEvents    chan Event
	consumerErrors    chan *Error
	consumer          sarama.Consumer
	partitionConsumer sarama.PartitionConsumer
	outOfRange        Offset
	logger            log.Logger
	metrics           struct {
		consumerBuffer    metrics.Gauge
		consumerBufferMax metrics.Gauge
		endToEndLatency   metrics.Observer
	}
	closeOnce *sync.Once
	closing   chan struct{}
	closed    chan struct{}
}

func NewPartitionConsumer(c *Config) (PartitionConsumer, error) {
	if err := c.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid consumer config`)
	}

	offsetManager, err := offsets.NewManager(&offsets.Config{
		Config:           c.Config,
		BootstrapServers: c.BootstrapServers,
		Logger:           c.Logger,
	})
	if err != nil {
		return nil, err
	}

	consumer, err := sarama.NewConsumer(c.BootstrapServers, c.Config)
	if err != nil {
		_ = offsetManager.Close()
		return nil, errors.WithPrevious(err, `new consumer failed `)
	}

	pc := &partitionConsumer{
		id:             c.Id,
		offsets:        offsetManager,
		consumer:       consumer,
		consumerEvents: make(chan Event, c.ChannelBufferSize),
		consumerErrors: make(chan *Error, 1),
		outOfRange:     c.OutOfRange,
		closeOnce:      new(sync.Once),
		closed:         make(chan struct{}),
		closing:        make(chan struct{}),
		logger:         c.Logger.NewLog(log.Prefixed(`partition-consumer`)),
	}

	labels := []string{`topic`, `partition`}
	pc.metrics.consumerBuffer = c.MetricsReporter.Gauge(metrics.MetricConf{
		Path:   `windowsync_partition_consumer_buffer`,
		Labels: append(labels, `type`),
	})
	pc.metrics.consumerBufferMax = c.MetricsReporter.Gauge(metrics.MetricConf{
		Path:   `windowsync_partition_consumer_buffer_max`,
		Labels: append(labels, `type`),
	})
	pc.metrics.endToEndLatency = c.MetricsReporter.Observer(metrics.MetricConf{
		Path:   `windowsync_partition_consumer_end_to_end_latency_microseconds`,
		Labels: labels,
	})

	return pc, nil
}

// Consume starts reading topic-partition from offset. A concrete offset outside the retained
// range falls back to the configured OutOfRange position.
func (c *partitionConsumer) Consume(topic string, partition int32, offset Offset) (<-chan Event, error) {
	partitionEnd, err := c.offsets.GetOffsetLatest(topic, partition)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot get latest offset for %s[%d]`, topic, partition))
	}

	start := int64(offset)
	switch {
	case offset == Earliest:
		start = sarama.OffsetOldest
	case offset == Latest:
		start = sarama.OffsetNewest
	default:
		valid, err := c.offsets.OffsetValid(topic, partition, start)
		if err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot validate offset %d for %s[%d]`, start, topic, partition))
		}

		if !valid {
			c.logger.Warn(fmt.Sprintf(`offset %d is out of range for %s[%d], consuming from %s`, start, topic, partition, c.outOfRange))
			start = sarama.OffsetOldest
			if c.outOfRange == Latest {
				start = sarama.OffsetNewest
			}
		}
	}

	partitionStart, err := c.offsets.GetOffsetOldest(topic, partition)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot get oldest offset for %s[%d]`, topic, partition))
	}

	// nothing to read yet
	if start == sarama.OffsetNewest || partitionStart == partitionEnd || start == partitionEnd {
		c.consumerEvents <- &PartitionEnd{tps: []TopicPartition{{Topic: topic, Partition: partition}}}
	}

	pConsumer, err := c.consumer.ConsumePartition(topic, partition, start)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot initiate partition consumer for %s_%d`, topic, partition))
	}

	c.partitionConsumer = pConsumer
	c.logger.Info(fmt.Sprintf(`consuming %s[%d] from %s`, topic, partition, Offset(start)))

	go c.runBufferMetrics(pConsumer, topic, partition)

	go c.consumeErrors(pConsumer)

	go c.consumeRecords(pConsumer)

	return c.consumerEvents, nil
}

func (c *partitionConsumer) Errors() <-chan *Error {
	return c.consumerErrors
}

func (c *partitionConsumer) Id() string {
	return c.id
}

func (c *partitionConsumer) consumeErrors(consumer sarama.PartitionConsumer) {
	for err := range consumer.Errors() {
		c.logger.Error(err)
		select {
		case c.consumerErrors <- &Error{err}:
		default:
			// nobody is listening, the error is already logged
		}
	}
	close(c.consumerErrors)
}

func (c *partitionConsumer) runBufferMetrics(consumer sarama.PartitionConsumer, topic string, partition int32) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	labels := func(typ string) map[string]string {
		return map[string]string{
			`topic`:     topic,
			`partition`: fmt.Sprint(partition),
			`type`:      typ,
		}
	}

	for {
		select {
		case <-ticker.C:
			c.metrics.consumerBuffer.Count(float64(len(consumer.Messages())), labels(`sarama`))
			c.metrics.consumerBufferMax.Count(float64(cap(consumer.Messages())), labels(`sarama`))
			c.metrics.consumerBuffer.Count(float64(len(c.consumerEvents)), labels(`windowsync`))
			c.metrics.consumerBufferMax.Count(float64(cap(c.consumerEvents)), labels(`windowsync`))
		case <-c.closing:
			return
		}
	}
}

func (c *partitionConsumer) consumeRecords(consumer sarama.PartitionConsumer) {
	defer close(c.closed)

	for {
		select {
		case msg, ok := <-consumer.Messages():
			if !ok {
				return
			}

			latency := time.Since(msg.Timestamp).Nanoseconds() / 1e6

			c.metrics.endToEndLatency.Observe(float64(latency*1e3), map[string]string{
				`topic`:     msg.Topic,
				`partition`: fmt.Sprint(msg.Partition),
			})

			c.logger.Trace(fmt.Sprintf(`message [%d] received after %d miliseconds for %s[%d]`,
				msg.Offset, latency, msg.Topic, msg.Partition))

			if !c.emit(&data.Record{
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

			if msg.Offset == consumer.HighWaterMarkOffset()-1 {
				if !c.emit(&PartitionEnd{tps: []TopicPartition{{Topic: msg.Topic, Partition: msg.Partition}}}) {
					return
				}
			}

		case <-c.closing:
			return
		}
	}
}

func (c *partitionConsumer) emit(e Event) bool {
	select {
	case c.consumerEvents <- e:
		return true
	case <-c.closing:
		return false
	}
}

func (c *partitionConsumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.close()
	})

	return err
}

func (c *partitionConsumer) close() error {
	c.logger.Info(fmt.Sprintf("[%s] closing... ", c.id))

	close(c.closing)

	if c.partitionConsumer != nil {
		<-c.closed
		if err := c.partitionConsumer.Close(); err != nil {
			if errs, ok := err.(sarama.ConsumerErrors); ok {
				for _, er := range errs {
					c.logger.Warn(fmt.Sprintf("partition consumer error while closing [%s] ", er))
				}
			}

			c.logger.Error(fmt.Sprintf("partition consumer close failed [%s] ", err))
		}
	}

	if err := c.consumer.Close(); err != nil {
		c.logger.Error(fmt.Sprintf("consumer close failed [%s] ", err))
	}

	if err := c.offsets.Close(); err != nil {
		c.logger.Error(fmt.Sprintf("cannot close offsets [%s] ", err))
	}

	close(c.consumerEvents)
	c.cleanUpMetrics()
	c.logger.Info(fmt.Sprintf("[%s] closed", c.id))
	return nil
}

func (c *partitionConsumer) cleanUpMetrics() {
	c.metrics.consumerBuffer.UnRegister()
	c.metrics.consumerBufferMax.UnRegister()
	c.metrics.endToEndLatency.UnRegister()
}
