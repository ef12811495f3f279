/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

// Package admin checks and prepares the kafka topics a stage reads from and commits into
package admin

import (
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

type Partition struct {
	Id    int32
	Error error
}

type Topic struct {
	Name              string
	Partitions        []Partition
	Error             error
	NumPartitions     int32
	ReplicationFactor int16
	ConfigEntries     map[string]string
}

type KafkaAdmin interface {
	FetchInfo(topics []string) (map[string]*Topic, error)
	CreateTopics(topics map[string]*Topic) error
	Close()
}

type kafkaAdminOptions struct {
	KafkaVersion sarama.KafkaVersion
	Logger       log.Logger
}

func (opts *kafkaAdminOptions) apply(options ...KafkaAdminOption) {
	opts.KafkaVersion = sarama.V2_4_0_0
	opts.Logger = log.NewNoopLogger()
	for _, opt := range options {
		opt(opts)
	}
}

type KafkaAdminOption func(*kafkaAdminOptions)

func WithKafkaVersion(version sarama.KafkaVersion) KafkaAdminOption {
	return func(options *kafkaAdminOptions) {
		options.KafkaVersion = version
	}
}

func WithLogger(logger log.Logger) KafkaAdminOption {
	return func(options *kafkaAdminOptions) {
		options.Logger = logger
	}
}

type kafkaAdmin struct {
	admin  sarama.ClusterAdmin
	logger log.Logger
}

func NewKafkaAdmin(bootstrapServers []string, options ...KafkaAdminOption) (KafkaAdmin, error) {
	opts := new(kafkaAdminOptions)
	opts.apply(options...)

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = opts.KafkaVersion

	admin, err := sarama.NewClusterAdmin(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot connect to the cluster controller`)
	}

	return &kafkaAdmin{
		admin:  admin,
		logger: opts.Logger.NewLog(log.Prefixed(`kafka-admin`)),
	}, nil
}

func (c *kafkaAdmin) FetchInfo(topics []string) (map[string]*Topic, error) {
	topicInfo := make(map[string]*Topic)
	topicMeta, err := c.admin.DescribeTopics(topics)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot get metadata`)
	}

	for _, tp := range topicMeta {
		info := &Topic{Name: tp.Name}
		for _, pt := range tp.Partitions {
			info.Partitions = append(info.Partitions, Partition{
				Id:    pt.ID,
				Error: pt.Err,
			})
		}
		info.NumPartitions = int32(len(info.Partitions))
		if tp.Err != sarama.ErrNoError {
			info.Error = tp.Err
		}

		topicInfo[tp.Name] = info
	}

	return topicInfo, nil
}

func (c *kafkaAdmin) CreateTopics(topics map[string]*Topic) error {
	for name, info := range topics {
		details := &sarama.TopicDetail{
			NumPartitions:     info.NumPartitions,
			ReplicationFactor: info.ReplicationFactor,
			ConfigEntries:     map[string]*string{},
		}
		for cName, config := range info.ConfigEntries {
			configCpy := config
			details.ConfigEntries[cName] = &configCpy
		}

		err := c.admin.CreateTopic(name, details, false)
		if err != nil {
			if e, ok := err.(*sarama.TopicError); ok && (e.Err == sarama.ErrTopicAlreadyExists || e.Err == sarama.ErrNoError) {
				c.logger.Warn(fmt.Sprintf(`topic [%s] already exists`, name))
				continue
			}
			return errors.WithPrevious(err, fmt.Sprintf(`could not create topic [%s]`, name))
		}

		c.logger.Info(fmt.Sprintf(`topic [%s] created with %d partitions`, name, info.NumPartitions))
	}

	return nil
}

func (c *kafkaAdmin) Close() {
	if err := c.admin.Close(); err != nil {
		c.logger.Warn(fmt.Sprintf(`cannot close cluster admin : %+v`, err))
	}
}

// CheckPartition makes sure topic exists and has the given partition.
func CheckPartition(admin KafkaAdmin, topic string, partition int32) error {
	info, err := admin.FetchInfo([]string{topic})
	if err != nil {
		return err
	}

	tp, ok := info[topic]
	if !ok {
		return errors.New(fmt.Sprintf(`topic [%s] does not exist`, topic))
	}

	if tp.Error != nil {
		return errors.WithPrevious(tp.Error, fmt.Sprintf(`topic [%s] unavailable`, topic))
	}

	if partition < 0 || partition >= tp.NumPartitions {
		return errors.New(fmt.Sprintf(`topic [%s] has no partition [%d], partitions: %d`, topic, partition, tp.NumPartitions))
	}

	return nil
}
