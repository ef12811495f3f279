package producer

import (
	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

type RequiredAcks int

const (
	// NoResponse doesn't send any response, the TCP ACK is all you get.
	NoResponse RequiredAcks = 0

	// WaitForLeader waits for only the local commit to succeed before responding.
	WaitForLeader RequiredAcks = 1

	// WaitForAll waits for all in-sync replicas to commit before responding. A committed window
	// is only acknowledged once its records survive a leader change, so this is the default.
	WaitForAll RequiredAcks = -1
)

func (ack RequiredAcks) String() string {
	switch ack {
	case WaitForLeader:
		return `WaitForLeader`
	case WaitForAll:
		return `WaitForAll`
	default:
		return `NoResponse`
	}
}

type Partitioner int

const (
	HashBased Partitioner = iota
	Manual
	Random
)

func (p Partitioner) saramaPartitioner() sarama.PartitionerConstructor {
	switch p {
	case Manual:
		return sarama.NewManualPartitioner
	case Random:
		return sarama.NewRandomPartitioner
	default:
		return sarama.NewHashPartitioner
	}
}

type Config struct {
	Id string
	*sarama.Config
	BootstrapServers []string
	RequiredAcks     RequiredAcks
	Partitioner      Partitioner
	// WindowHeader names the header stamped with the record's commit window, empty disables it.
	WindowHeader    string
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig() *Config {
	c := new(Config)
	c.setDefaults()
	return c
}

func (c *Config) setDefaults() {
	c.Config = sarama.NewConfig()
	c.Config.Version = sarama.V1_0_0_0
	c.Producer.Return.Errors = true
	c.Producer.Return.Successes = true
	c.Producer.Compression = sarama.CompressionSnappy
	c.RequiredAcks = WaitForAll
	c.Partitioner = HashBased
	c.WindowHeader = DefaultWindowHeader
	c.Logger = log.NewNoopLogger()
	c.MetricsReporter = metrics.NoopReporter()
}

func (c *Config) validate() error {
	if c.Id == `` {
		return errors.New(`windowsync.producer.Config: Id cannot be empty`)
	}

	if len(c.BootstrapServers) < 1 {
		return errors.New(`windowsync.producer.Config: BootstrapServers cannot be empty`)
	}

	// record headers need produce request v3
	if c.WindowHeader != `` && !c.Version.IsAtLeast(sarama.V0_11_0_0) {
		return errors.New(`windowsync.producer.Config: WindowHeader needs kafka version 0.11 or later`)
	}

	c.Producer.Partitioner = c.Partitioner.saramaPartitioner()
	c.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)

	return c.Config.Validate()
}
