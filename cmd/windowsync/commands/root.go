package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/admin"
	"github.com/tryfix/windowsync/backend/memory"
	"github.com/tryfix/windowsync/consumer"
	"github.com/tryfix/windowsync/data"
	"github.com/tryfix/windowsync/engine"
	"github.com/tryfix/windowsync/producer"
	"github.com/tryfix/windowsync/sink"
	"github.com/tryfix/windowsync/synchronizer"
)

const (
	sinkKafka  = `kafka`
	sinkRedis  = `redis`
	sinkMemory = `memory`
)

type flags struct {
	name              string
	brokers           []string
	topic             string
	partition         int32
	sink              string
	targetTopic       string
	createTarget      bool
	targetPartitions  int32
	replication       int16
	redisAddr         string
	redisTTL          time.Duration
	windowSize        int
	windowInterval    time.Duration
	checkpointWindows int
	spin              time.Duration
	shutdownTimeout   time.Duration
	httpHost          string
	logLevel          string
	metrics           bool
}

func (f *flags) validate() error {
	if f.topic == `` {
		return errors.New(`--topic is required`)
	}

	if len(f.brokers) < 1 {
		return errors.New(`--brokers cannot be empty`)
	}

	switch f.sink {
	case sinkKafka:
		if f.targetTopic == `` {
			return errors.New(`--target-topic is required for the kafka sink`)
		}
	case sinkRedis:
		if f.redisAddr == `` {
			return errors.New(`--redis-addr is required for the redis sink`)
		}
	case sinkMemory:
	default:
		return errors.New(fmt.Sprintf(`unsupported sink %q, expected one of %s, %s, %s`, f.sink, sinkKafka, sinkRedis, sinkMemory))
	}

	return nil
}

func NewRootCommand() *cobra.Command {
	f := new(flags)

	command := &cobra.Command{
		Use:           "windowsync",
		Short:         "Commit records of a kafka partition to a sink once their window is checkpointed",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.validate(); err != nil {
				cmd.HelpFunc()(cmd, args)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, f)
		},
	}

	command.Flags().StringVar(&f.name, "name", "windowsync", "Stage name, checkpoints and metrics are labelled with it")
	command.Flags().StringSliceVar(&f.brokers, "brokers", []string{"localhost:9092"}, "Kafka bootstrap servers")
	command.Flags().StringVar(&f.topic, "topic", "", "Source topic")
	command.Flags().Int32Var(&f.partition, "partition", 0, "Source partition")
	command.Flags().StringVar(&f.sink, "sink", sinkKafka, "Sink committed records go to, kafka, redis or memory")
	command.Flags().StringVar(&f.targetTopic, "target-topic", "", "Topic the kafka sink produces to")
	command.Flags().BoolVar(&f.createTarget, "create-target-topic", false, "Create the kafka sink topic when it does not exist")
	command.Flags().Int32Var(&f.targetPartitions, "target-partitions", 1, "Partitions of a created sink topic")
	command.Flags().Int16Var(&f.replication, "target-replication-factor", 1, "Replication factor of a created sink topic")
	command.Flags().StringVar(&f.redisAddr, "redis-addr", "localhost:6379", "Redis address for the redis sink")
	command.Flags().DurationVar(&f.redisTTL, "redis-ttl", 0, "Expiry of keys written by the redis sink, 0 keeps them")
	command.Flags().IntVar(&f.windowSize, "window-size", 1000, "Records per window")
	command.Flags().DurationVar(&f.windowInterval, "window-interval", 500*time.Millisecond, "Maximum window duration")
	command.Flags().IntVar(&f.checkpointWindows, "checkpoint-windows", 60, "Windows between two checkpoints")
	command.Flags().DurationVar(&f.spin, "spin", 10*time.Millisecond, "Idle sleep of the stage and wait of its worker")
	command.Flags().DurationVar(&f.shutdownTimeout, "shutdown-timeout", 5*time.Second, "How long shutdown waits for an in-flight commit")
	command.Flags().StringVar(&f.httpHost, "http-host", ":8100", "Stats endpoint address, empty disables it")
	command.Flags().StringVar(&f.logLevel, "log-level", "INFO", "Log level, TRACE, DEBUG, INFO, WARN or ERROR")
	command.Flags().BoolVar(&f.metrics, "metrics", false, "Report prometheus metrics on /metrics of the stats endpoint")

	return command
}

func run(ctx context.Context, f *flags) error {
	logger := log.NewLog(
		log.WithLevel(log.Level(strings.ToUpper(f.logLevel))),
		log.WithColors(true),
		log.Prefixed(`windowsync`),
	).Log()

	reporter := metrics.NoopReporter()
	if f.metrics {
		reporter = metrics.PrometheusReporter(reporterConf(f))
	}

	kafkaAdmin, err := admin.NewKafkaAdmin(f.brokers, admin.WithLogger(logger))
	if err != nil {
		return err
	}

	err = prepareTopics(kafkaAdmin, f)
	kafkaAdmin.Close()
	if err != nil {
		return err
	}

	sinkCommitter, closeSink, err := newSink(ctx, f, logger, reporter)
	if err != nil {
		return err
	}
	defer closeSink()

	stage, err := synchronizer.New[*data.Record, *data.Record](f.name, synchronizer.Identity[*data.Record](), sinkCommitter,
		synchronizer.WithSpinTime(f.spin),
		synchronizer.WithShutdownTimeout(f.shutdownTimeout),
		synchronizer.WithLogger(logger),
		synchronizer.WithMetricsReporter(reporter))
	if err != nil {
		return err
	}

	checkpointConf := memory.NewConfig()
	checkpointConf.Logger = logger
	checkpointConf.MetricsReporter = reporter
	checkpoints, err := memory.Builder(checkpointConf)(fmt.Sprintf(`%s_checkpoints`, f.name))
	if err != nil {
		return err
	}
	defer checkpoints.Close()

	conf := engine.NewConfig()
	conf.Name = f.name
	conf.Topic = f.topic
	conf.Partition = f.partition
	conf.Sink = sinkCommitter.String()
	conf.WindowSize = f.windowSize
	conf.WindowInterval = f.windowInterval
	conf.CheckpointWindowCount = f.checkpointWindows
	conf.Checkpoints = checkpoints
	conf.Consumer.Id = fmt.Sprintf(`%s-consumer`, f.name)
	conf.Consumer.BootstrapServers = f.brokers
	conf.Consumer.Logger = logger
	conf.Consumer.MetricsReporter = reporter
	conf.Logger = logger
	conf.MetricsReporter = reporter

	e, err := engine.New(conf, consumer.NewPartitionConsumer, stage)
	if err != nil {
		return err
	}

	if f.httpHost != `` {
		registry := engine.NewRegistry()
		if err := registry.Register(e); err != nil {
			return err
		}

		srv := serve(f, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error(fmt.Sprintf(`http server shutdown failed due to %s`, err))
			}
		}()
	}

	return e.Run(ctx)
}

// prepareTopics fails fast when the source partition is missing, creating the sink topic if asked.
func prepareTopics(kafkaAdmin admin.KafkaAdmin, f *flags) error {
	if err := admin.CheckPartition(kafkaAdmin, f.topic, f.partition); err != nil {
		return errors.WithPrevious(err, `source topic check failed`)
	}

	if f.sink != sinkKafka {
		return nil
	}

	if f.createTarget {
		if err := kafkaAdmin.CreateTopics(map[string]*admin.Topic{
			f.targetTopic: {
				Name:              f.targetTopic,
				NumPartitions:     f.targetPartitions,
				ReplicationFactor: f.replication,
			},
		}); err != nil {
			return err
		}
	}

	if err := admin.CheckPartition(kafkaAdmin, f.targetTopic, 0); err != nil {
		return errors.WithPrevious(err, `sink topic check failed`)
	}

	return nil
}

// reporterConf namespaces stage metrics by stage name. Prometheus names cannot hold dashes.
func reporterConf(f *flags) metrics.ReporterConf {
	return metrics.ReporterConf{
		System:      `windowsync`,
		Subsystem:   strings.ReplaceAll(f.name, `-`, `_`),
		ConstLabels: nil,
	}
}

type committer interface {
	synchronizer.Committer[*data.Record]
	fmt.Stringer
}

func newSink(ctx context.Context, f *flags, logger log.Logger, reporter metrics.Reporter) (committer, func(), error) {
	switch f.sink {
	case sinkKafka:
		conf := producer.NewConfig()
		conf.Id = fmt.Sprintf(`%s-producer`, f.name)
		conf.BootstrapServers = f.brokers
		conf.Logger = logger
		conf.MetricsReporter = reporter
		p, err := producer.NewProducer(conf)
		if err != nil {
			return nil, nil, err
		}

		k, err := sink.NewKafka(f.targetTopic, p, logger)
		if err != nil {
			_ = p.Close()
			return nil, nil, err
		}

		return k, func() {
			if err := p.Close(); err != nil {
				logger.Error(err)
			}
		}, nil

	case sinkRedis:
		client, err := sink.NewRedisClient(ctx, f.redisAddr)
		if err != nil {
			return nil, nil, err
		}

		r, err := sink.NewRedis(client, sink.WithTTL(f.redisTTL), sink.WithRedisLogger(logger))
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		return r, func() {
			if err := client.Close(); err != nil {
				logger.Error(err)
			}
		}, nil

	default:
		store := memory.NewMemoryBackend(logger, reporter)
		b, err := sink.NewBackend(store, nil, 0, logger)
		if err != nil {
			return nil, nil, err
		}

		return b, func() { _ = store.Close() }, nil
	}
}

func serve(f *flags, registry *engine.Registry, logger log.Logger) *http.Server {
	r := mux.NewRouter()
	if f.metrics {
		r.Handle(`/metrics`, promhttp.Handler())
	}
	r.PathPrefix(`/`).Handler(engine.Router(registry, logger))

	srv := &http.Server{
		Addr:    f.httpHost,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf(`cannot start web server : %+v`, err))
		}
	}()

	logger.Info(fmt.Sprintf(`http server started on %s`, f.httpHost))

	return srv
}
