package consumer

import (
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

// Config configures a single partition consumer. The stage owns its offsets through checkpoints,
// so there is no group id.
type Config struct {
	Id               string
	BootstrapServers []string
	// OutOfRange is where consumption starts when the requested offset is no longer retained,
	// Earliest replays everything still on the broker, Latest skips to new records.
	OutOfRange      Offset
	MetricsReporter metrics.Reporter
	Logger          log.Logger
	*sarama.Config
}

func NewConsumerConfig() *Config {
	c := new(Config)
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	c.Config = sarama.NewConfig()
	c.Config.Version = sarama.V2_3_0_0
	c.Consumer.Return.Errors = true
	c.ChannelBufferSize = 100
	c.OutOfRange = Earliest
	c.MetricsReporter = metrics.NoopReporter()
	c.Logger = log.NewNoopLogger()
}

func (c *Config) validate() error {
	if c.Id == `` {
		return errors.New(`windowsync.consumer.Config: Id cannot be empty`)
	}

	if len(c.BootstrapServers) < 1 {
		return errors.New(`windowsync.consumer.Config: BootstrapServers cannot be empty`)
	}

	if c.OutOfRange != Earliest && c.OutOfRange != Latest {
		return errors.New(fmt.Sprintf(`windowsync.consumer.Config: OutOfRange must be %s or %s, have %s`, Earliest, Latest, c.OutOfRange))
	}

	return c.Config.Validate()
}
