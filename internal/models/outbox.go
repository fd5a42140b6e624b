package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event types published for the order aggregate
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderClaimed       = "order_claimed"
	EventOrderAssigned      = "order_assigned"
	EventOrderDeleted       = "order_deleted"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// OutboxMessage represents a message to be published from the outbox table
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent represents the event data in the outbox message
type OutboxMessageEvent struct {
	EventType   string      `json:"event_type"`
	EventID     string      `json:"event_id"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Data        interface{} `json:"data"`
}

func newOrderEvent(orderID int64, eventType string, data interface{}) (*OutboxMessage, error) {
	aggregateID := strconv.FormatInt(orderID, 10)

	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateEventID(),
		AggregateID: aggregateID,
		OccurredAt:  GetCurrentTime(),
		Data:        data,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType:      "order",
		AggregateID:        aggregateID,
		EventType:          eventType,
		Payload:            payload,
		CreatedAt:          GetCurrentTime(),
		ProcessingAttempts: 0,
		Status:             OutboxStatusPending,
	}, nil
}

// NewOrderCreatedEvent creates an outbox message for a freshly created order
func NewOrderCreatedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderEvent(order.ID, EventOrderCreated, order)
}

// NewOrderStatusChangedEvent creates an outbox message for a status transition
func NewOrderStatusChangedEvent(order *Order, oldStatus Status) (*OutboxMessage, error) {
	return newOrderEvent(order.ID, EventOrderStatusChanged, map[string]interface{}{
		"order_id":             order.ID,
		"customer_id":          order.CustomerID,
		"old_status":           oldStatus.String(),
		"new_status":           order.Status.String(),
		"assigned_employee_id": order.AssignedEmployeeID,
	})
}

// NewOrderClaimedEvent creates an outbox message for a successful claim
func NewOrderClaimedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderEvent(order.ID, EventOrderClaimed, map[string]interface{}{
		"order_id":             order.ID,
		"customer_id":          order.CustomerID,
		"assigned_employee_id": order.AssignedEmployeeID,
	})
}

// NewOrderAssignedEvent creates an outbox message for an assignment change
func NewOrderAssignedEvent(order *Order) (*OutboxMessage, error) {
	return newOrderEvent(order.ID, EventOrderAssigned, map[string]interface{}{
		"order_id":             order.ID,
		"assigned_employee_id": order.AssignedEmployeeID,
	})
}

// NewOrderDeletedEvent creates an outbox message for an admin deletion
func NewOrderDeletedEvent(orderID int64) (*OutboxMessage, error) {
	return newOrderEvent(orderID, EventOrderDeleted, map[string]interface{}{
		"order_id": orderID,
	})
}
