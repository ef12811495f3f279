package engine

import (
	"bytes"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"github.com/tryfix/windowsync/backend"
	"github.com/tryfix/windowsync/backend/memory"
	"github.com/tryfix/windowsync/consumer"
	"github.com/tryfix/windowsync/util"
)

type Config struct {
	// Name identifies the stage, checkpoints are keyed by it
	Name      string
	Topic     string
	Partition int32
	// Sink describes where committed items go, only used for display
	Sink string
	// WindowSize closes a window once it holds this many records
	WindowSize int
	// WindowInterval closes a window once it has been open this long
	WindowInterval time.Duration
	// CheckpointWindowCount is the number of windows between two checkpoints
	CheckpointWindowCount int
	Checkpoints           backend.Backend
	Consumer              *consumer.Config
	Logger                log.Logger
	MetricsReporter       metrics.Reporter
}

func NewConfig() *Config {
	c := new(Config)
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	c.WindowSize = 1000
	c.WindowInterval = 500 * time.Millisecond
	c.CheckpointWindowCount = 60
	c.Consumer = consumer.NewConsumerConfig()
	c.Logger = log.NewNoopLogger()
	c.MetricsReporter = metrics.NoopReporter()
}

func (c *Config) validate() error {
	if c.Name == `` {
		return errors.New(`windowsync.engine.Config: Name cannot be empty`)
	}

	if c.Topic == `` {
		return errors.New(`windowsync.engine.Config: Topic cannot be empty`)
	}

	if c.Partition < 0 {
		return errors.New(`windowsync.engine.Config: Partition cannot be negative`)
	}

	if c.WindowSize < 1 {
		return errors.New(`windowsync.engine.Config: WindowSize should be greater than 0`)
	}

	if c.WindowInterval <= 0 {
		return errors.New(`windowsync.engine.Config: WindowInterval should be greater than 0`)
	}

	if c.CheckpointWindowCount < 1 {
		return errors.New(`windowsync.engine.Config: CheckpointWindowCount should be greater than 0`)
	}

	if c.Consumer == nil {
		return errors.New(`windowsync.engine.Config: Consumer cannot be nil`)
	}

	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}

	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}

	if c.Checkpoints == nil {
		conf := memory.NewConfig()
		conf.Logger = c.Logger
		conf.MetricsReporter = c.MetricsReporter
		b, err := memory.Builder(conf)(fmt.Sprintf(`%s_checkpoints`, c.Name))
		if err != nil {
			return errors.WithPrevious(err, `cannot build checkpoint backend`)
		}
		c.Logger.Warn(`no checkpoint backend configured, checkpoints will not survive a restart`)
		c.Checkpoints = b
	}

	return nil
}

// String renders the config as a table for startup logs.
func (c *Config) String() string {
	view := struct {
		Name                  string
		Topic                 string
		Partition             int32
		Sink                  string
		WindowSize            int
		WindowInterval        time.Duration
		CheckpointWindowCount int
		Checkpoints           backend.Backend
	}{
		Name:                  c.Name,
		Topic:                 c.Topic,
		Partition:             c.Partition,
		Sink:                  c.Sink,
		WindowSize:            c.WindowSize,
		WindowInterval:        c.WindowInterval,
		CheckpointWindowCount: c.CheckpointWindowCount,
		Checkpoints:           c.Checkpoints,
	}

	data := util.StrToMap(`engine`, view)
	if c.Consumer != nil {
		data = append(data,
			[]string{`engine.Consumer.Id`, c.Consumer.Id},
			[]string{`engine.Consumer.BootstrapServers`, fmt.Sprint(c.Consumer.BootstrapServers)},
			[]string{`engine.Consumer.OutOfRange`, c.Consumer.OutOfRange.String()},
		)
		if c.Consumer.Config != nil {
			data = append(data, []string{`engine.Consumer.Version`, c.Consumer.Version.String()})
		}
	}

	b := new(bytes.Buffer)
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{`Config`, `Value`})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})
	table.AppendBulk(data)
	table.Render()

	return b.String()
}
