// Package taskqueue moves file-processing tasks from the gateway to workers
// over watermill, and carries revocations back to the worker running a task.
package taskqueue

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	ProviderGoChannel = "gochannel"
	ProviderKafka     = "kafka"

	DefaultTasksTopic    = "docflow.tasks"
	DefaultRevokeTopic   = "docflow.tasks.revoke"
	DefaultConsumerGroup = "docflow-workers"
	DefaultConcurrency   = 4
)

type Config struct {
	Provider      string   `yaml:"provider"`
	Brokers       []string `yaml:"brokers"`
	TasksTopic    string   `yaml:"tasks_topic"`
	RevokeTopic   string   `yaml:"revoke_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
	Concurrency   int      `yaml:"concurrency"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderGoChannel
	}
	if c.TasksTopic == "" {
		c.TasksTopic = DefaultTasksTopic
	}
	if c.RevokeTopic == "" {
		c.RevokeTopic = DefaultRevokeTopic
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = DefaultConsumerGroup
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
}

// Channels bundles the publisher and the two subscriptions a process needs.
// Tasks are load-balanced across workers; revocations reach every worker.
type Channels struct {
	Publisher   message.Publisher
	Tasks       message.Subscriber
	Revocations message.Subscriber
}

// Open builds the channels for the configured provider.
func Open(cfg Config, logger watermill.LoggerAdapter) (*Channels, error) {
	switch cfg.Provider {
	case ProviderGoChannel, "":
		pubSub := NewGoChannel(logger)
		return &Channels{Publisher: pubSub, Tasks: pubSub, Revocations: pubSub}, nil
	case ProviderKafka:
		return NewKafka(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported queue provider %q", cfg.Provider)
	}
}

// NewGoChannel is the in-process transport used when API and worker share a
// process, and in development.
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// NewKafka connects to the configured brokers. The revocation subscriber has
// no consumer group, so every worker reads every revocation.
func NewKafka(cfg Config, logger watermill.LoggerAdapter) (*Channels, error) {
	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return nil, errors.New("kafka brokers are not configured")
	}

	tasksConfig := kafka.DefaultSaramaSubscriberConfig()
	tasksConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	tasks, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: tasksConfig,
			ConsumerGroup:         cfg.ConsumerGroup,
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task subscriber: %w", err)
	}

	revokeConfig := kafka.DefaultSaramaSubscriberConfig()
	revokeConfig.Consumer.Offsets.Initial = sarama.OffsetNewest

	revocations, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: revokeConfig,
		},
		logger,
	)
	if err != nil {
		_ = tasks.Close()
		return nil, fmt.Errorf("failed to create revocation subscriber: %w", err)
	}

	publisherConfig := sarama.NewConfig()
	publisherConfig.Producer.Return.Successes = true
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherConfig,
		},
		logger,
	)
	if err != nil {
		_ = tasks.Close()
		_ = revocations.Close()
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	return &Channels{Publisher: publisher, Tasks: tasks, Revocations: revocations}, nil
}

// Close closes the publisher and each distinct subscriber.
func (c *Channels) Close() error {
	closed := map[any]bool{}
	var errs []error
	for _, closer := range []interface{ Close() error }{c.Publisher, c.Tasks, c.Revocations} {
		if closer == nil || closed[closer] {
			continue
		}
		closed[closer] = true
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
