package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/santehsupply/orders-api/pkg/logger"
)

// Producer publishes order events to Kafka synchronously. Outbox
// delivery depends on the ack, so the sync producer is the right
// trade-off here despite the extra latency.
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 5 * time.Second
	return cfg
}

// NewProducer connects to the given brokers.
func NewProducer(brokers []string, logger logger.Logger) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   logger,
	}, nil
}

// SendMessage publishes value to the topic. A non-empty key pins all
// messages for one aggregate to the same partition, preserving their
// order for consumers.
func (p *Producer) SendMessage(ctx context.Context, topic string, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("Kafka publish failed", "error", err, "topic", topic, "key", key)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("Kafka publish acknowledged",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset)

	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
