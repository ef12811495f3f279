/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package producer writes records to kafka, the kafka sink of a windowed stage uses it.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	saramaMetrics "github.com/rcrowley/go-metrics"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/data"
)

func init() {
	// sarama registers its internal meters on go-metrics, they are never read
	saramaMetrics.UseNilMetrics = true
}

// Producer writes committed records to kafka. Every record is stamped with the window it was
// committed in (see Config.WindowHeader).
type Producer interface {
	Produce(ctx context.Context, record *data.Record) (partition int32, offset int64, err error)
	Close() error
}

type saramaProducer struct {
	id             string
	windowHeader   string
	saramaProducer sarama.SyncProducer
	logger         log.Logger
	metrics        struct {
		produceLatency metrics.Observer
		produced       metrics.Counter
	}
}

func NewProducer(configs *Config) (Producer, error) {
	if err := configs.validate(); err != nil {
		return nil, err
	}

	logger := configs.Logger.NewLog(log.Prefixed(fmt.Sprintf(`producer-%s`, configs.Id)))
	prd, err := sarama.NewSyncProducer(configs.BootstrapServers, configs.Config)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] init failed`, configs.Id))
	}

	p := &saramaProducer{
		id:             configs.Id,
		windowHeader:   configs.WindowHeader,
		saramaProducer: prd,
		logger:         logger,
	}

	constLabels := map[string]string{`producer_id`: configs.Id}
	p.metrics.produceLatency = configs.MetricsReporter.Observer(metrics.MetricConf{
		Path:        `windowsync_producer_produce_latency_microseconds`,
		Labels:      []string{`topic`},
		ConstLabels: constLabels,
	})
	p.metrics.produced = configs.MetricsReporter.Counter(metrics.MetricConf{
		Path:        `windowsync_producer_produced_records`,
		Labels:      []string{`topic`, `partition`},
		ConstLabels: constLabels,
	})

	logger.Info(fmt.Sprintf(`producer ready, acks %s window header %q`, configs.RequiredAcks, configs.WindowHeader))

	return p, nil
}

func (p *saramaProducer) Close() error {
	defer p.logger.Info(`producer closed`)
	return p.saramaProducer.Close()
}

// Produce sends record synchronously. A done ctx is reported before anything is sent, an in
// flight send cannot be cancelled.
func (p *saramaProducer) Produce(ctx context.Context, record *data.Record) (partition int32, offset int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, errors.WithPrevious(err, fmt.Sprintf(`window [%d] not produced`, record.Window))
	}

	t := time.Now()
	pr, o, err := p.saramaProducer.SendMessage(newMessage(record, p.windowHeader, t))
	if err != nil {
		return 0, 0, errors.WithPrevious(err, fmt.Sprintf(`cannot send record of window [%d] to %s`, record.Window, record.Topic))
	}

	p.metrics.produceLatency.Observe(float64(time.Since(t).Nanoseconds()/1e3), map[string]string{`topic`: record.Topic})
	p.metrics.produced.Count(1, map[string]string{`topic`: record.Topic, `partition`: fmt.Sprint(pr)})

	p.logger.TraceContext(ctx, fmt.Sprintf(`window [%d] record delivered to %s[%d] at %d`, record.Window, record.Topic, pr, o))

	return pr, o, nil
}
