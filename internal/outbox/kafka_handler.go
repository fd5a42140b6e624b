package outbox

import (
	"context"
	"fmt"

	"github.com/santehsupply/orders-api/internal/models"
	"github.com/santehsupply/orders-api/pkg/kafka"
	"github.com/santehsupply/orders-api/pkg/logger"
)

// KafkaHandler publishes outbox messages to Kafka, keyed by order id so
// events for one order stay in partition order.
type KafkaHandler struct {
	logger   logger.Logger
	producer *kafka.Producer
	topic    string
}

// NewKafkaHandler creates a new KafkaHandler
func NewKafkaHandler(producer *kafka.Producer, topic string, logger logger.Logger) *KafkaHandler {
	return &KafkaHandler{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// HandleMessage publishes one outbox message to the orders topic
func (h *KafkaHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	key := message.AggregateID

	err := h.producer.SendMessage(ctx, h.topic, key, message.Payload)
	if err != nil {
		h.logger.Error("Failed to publish message to Kafka",
			"error", err,
			"messageID", message.ID,
			"aggregateID", message.AggregateID)
		return fmt.Errorf("failed to publish message to Kafka: %w", err)
	}

	h.logger.Debug("Published message to Kafka",
		"topic", h.topic,
		"messageID", message.ID,
		"aggregateID", message.AggregateID,
		"eventType", message.EventType)

	return nil
}
