package mq

import (
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"timebank/internal/config"
)

// Publisher delivers one keyed message to a topic.
type Publisher interface {
	Publish(topic, key, value string) error
	Close() error
}

// KafkaPublisher publishes through a sarama sync producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewProducerConfig is the producer setup shared by the server and tests.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll // wait for all in-sync replicas
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	return cfg
}

// NewKafkaPublisher dials the brokers in cfg.
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	log.Info().Strs("brokers", cfg.Brokers).Msg("kafka producer created")
	return NewPublisher(producer), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
