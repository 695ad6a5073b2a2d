package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/requestctx"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/service"
)

var _ service.EventPublisher = (*KafkaPublisher)(nil)

// EventType represents the type of order event.
type EventType string

const (
	EventTypeOrderCreated      EventType = "order.created"
	EventTypeOrderCancelled    EventType = "order.cancelled"
	EventTypeReturnRequested   EventType = "order.return_requested"
	EventTypeReturnCancelled   EventType = "order.return_cancelled"
	EventTypeFulfilmentUpdated EventType = "order.fulfilment_updated"
)

// OrderEvent is the envelope written to the orders topic.
type OrderEvent struct {
	ID            string            `json:"id"`
	Type          EventType         `json:"type"`
	OrderID       string            `json:"order_id"`
	UserID        string            `json:"user_id"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

type statusPayload struct {
	Order          *models.Order      `json:"order"`
	PreviousStatus models.OrderStatus `json:"previous_status,omitempty"`
	NewStatus      models.OrderStatus `json:"new_status"`
}

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes order events to Kafka.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logging.Logger
}

// NewKafkaPublisher creates a publisher for the orders topic.
func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.OrdersTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, cfg.OrdersTopic)
}

func newKafkaPublisher(w messageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: w,
		topic:  topic,
		logger: logging.NewLogger("event-publisher"),
	}
}

func (p *KafkaPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	return p.publishStatus(ctx, EventTypeOrderCreated, order, "")
}

func (p *KafkaPublisher) PublishOrderCancelled(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error {
	return p.publishStatus(ctx, EventTypeOrderCancelled, order, previousStatus)
}

func (p *KafkaPublisher) PublishReturnRequested(ctx context.Context, order *models.Order) error {
	return p.publishStatus(ctx, EventTypeReturnRequested, order, models.OrderStatusDelivered)
}

func (p *KafkaPublisher) PublishReturnCancelled(ctx context.Context, order *models.Order) error {
	return p.publishStatus(ctx, EventTypeReturnCancelled, order, models.OrderStatusReturned)
}

func (p *KafkaPublisher) PublishFulfilmentUpdated(ctx context.Context, order *models.Order, previousStatus models.OrderStatus) error {
	return p.publishStatus(ctx, EventTypeFulfilmentUpdated, order, previousStatus)
}

func (p *KafkaPublisher) publishStatus(ctx context.Context, eventType EventType, order *models.Order, previous models.OrderStatus) error {
	p.logger.Debug("Publishing order event", logging.Fields{
		"order_id":        order.OrderID,
		"event_type":      eventType,
		"previous_status": previous,
		"new_status":      order.Status,
	})

	data, err := json.Marshal(statusPayload{
		Order:          order,
		PreviousStatus: previous,
		NewStatus:      order.Status,
	})
	if err != nil {
		return err
	}

	return p.publish(ctx, p.createEvent(ctx, eventType, order, data))
}

func (p *KafkaPublisher) createEvent(ctx context.Context, eventType EventType, order *models.Order, data []byte) *OrderEvent {
	event := &OrderEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Data:      data,
		Metadata:  map[string]string{"version": strconv.FormatInt(order.Version, 10)},
		Timestamp: time.Now().UTC(),
	}

	if requestID := requestctx.RequestIDFromContext(ctx); requestID != "" {
		event.CorrelationID = requestID
	}

	return event
}

func (p *KafkaPublisher) publish(ctx context.Context, event *OrderEvent) error {
	eventData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(event.OrderID),
		Value: eventData,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", logging.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
			"order_id":   event.OrderID,
			"error":      err.Error(),
		})
		return err
	}

	p.logger.Info("Event published", logging.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
		"order_id":   event.OrderID,
		"topic":      p.topic,
	})

	return nil
}

// Close closes the Kafka writer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing Kafka publisher")
	return p.writer.Close()
}

