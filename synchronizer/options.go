package synchronizer

import (
	"time"

	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type stageOptions struct {
	spinTime        time.Duration
	shutdownTimeout time.Duration
	logger          log.Logger
	metricsReporter metrics.Reporter
}

type Option func(opts *stageOptions)

func (o *stageOptions) apply(opts ...Option) {
	o.applyDefaults()

	for _, opt := range opts {
		opt(o)
	}
}

func (o *stageOptions) applyDefaults() {
	o.spinTime = 10 * time.Millisecond
	o.shutdownTimeout = 5 * time.Second
	o.logger = log.NewNoopLogger()
	o.metricsReporter = metrics.NoopReporter()
}

// WithSpinTime sets how long the worker waits for a ready batch and how long an idle callback
// sleeps when nothing has failed.
func WithSpinTime(d time.Duration) Option {
	return func(opts *stageOptions) {
		if d > 0 {
			opts.spinTime = d
		}
	}
}

// WithShutdownTimeout bounds how long Teardown waits for the worker to return from an in-flight
// commit.
func WithShutdownTimeout(d time.Duration) Option {
	return func(opts *stageOptions) {
		opts.shutdownTimeout = d
	}
}

func WithLogger(logger log.Logger) Option {
	return func(opts *stageOptions) {
		opts.logger = logger
	}
}

func WithMetricsReporter(reporter metrics.Reporter) Option {
	return func(opts *stageOptions) {
		opts.metricsReporter = reporter
	}
}
