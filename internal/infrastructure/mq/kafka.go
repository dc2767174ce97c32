package mq

import (
	"fmt"

	"autopay/internal/config"

	"github.com/IBM/sarama"
)

// Producer publishes outbox messages synchronously.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducerConfig waits for all in-sync replicas and lets sarama retry transient broker errors.
func NewProducerConfig() *sarama.Config {
	c := sarama.NewConfig()
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = 3
	c.Producer.Return.Successes = true
	return c
}

func NewKafkaProducer(cfg *config.KafkaConfig) (*Producer, error) {
	p, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducer(p), nil
}

// NewProducer wraps an existing sarama producer, such as sarama/mocks in tests.
func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// Send publishes value under key. The key is the tx_ref so events for one
// transaction stay on one partition.
func (p *Producer) Send(topic, key, value string) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	})
	return err
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
