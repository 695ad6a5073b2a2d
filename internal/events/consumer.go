package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/config"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/requestctx"
)

// FulfilmentEventType is the type of an inbound delivery or payment update.
type FulfilmentEventType string

const (
	PaymentCompleted       FulfilmentEventType = "payment.completed"
	ShipmentShipped        FulfilmentEventType = "shipment.shipped"
	ShipmentOutForDelivery FulfilmentEventType = "shipment.out_for_delivery"
	ShipmentDelivered      FulfilmentEventType = "shipment.delivered"
	ShipmentTracking       FulfilmentEventType = "shipment.tracking_updated"
	ReturnPickupScheduled  FulfilmentEventType = "return.pickup_scheduled"
	ReturnRefunded         FulfilmentEventType = "return.refunded"
)

// FulfilmentEvent is a message on the fulfilment topic.
type FulfilmentEvent struct {
	ID           string              `json:"id"`
	Type         FulfilmentEventType `json:"type"`
	OrderID      string              `json:"order_id"`
	TrackingInfo string              `json:"tracking_info,omitempty"`
	Timestamp    time.Time           `json:"timestamp"`
}

// FulfilmentApplier applies a fulfilment update to an order.
type FulfilmentApplier interface {
	ApplyFulfilmentUpdate(ctx context.Context, orderID string, update *models.FulfilmentUpdate) (*models.Order, error)
}

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// KafkaConsumer applies fulfilment events from Kafka.
type KafkaConsumer struct {
	reader       messageReader
	applier      FulfilmentApplier
	logger       *logging.Logger
	stopCh       chan struct{}
	stopOnce     sync.Once
	retryBackoff time.Duration
}

// NewKafkaConsumer creates a consumer on the fulfilment topic.
func NewKafkaConsumer(cfg config.KafkaConfig, applier FulfilmentApplier) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.FulfilmentTopic,
		GroupID:  cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	return newKafkaConsumer(reader, applier)
}

func newKafkaConsumer(r messageReader, applier FulfilmentApplier) *KafkaConsumer {
	return &KafkaConsumer{
		reader:       r,
		applier:      applier,
		logger:       logging.NewLogger("fulfilment-consumer"),
		stopCh:       make(chan struct{}),
		retryBackoff: defaultRetryBackoff,
	}
}

// Start consumes until ctx is done or Stop is called.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			c.logger.Info("Kafka consumer stopped")
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-c.stopCh:
				c.logger.Info("Kafka consumer stopped")
				return nil
			default:
			}
			c.logger.Error("Failed to read message", logging.Fields{"error": err.Error()})
			continue
		}

		if !c.process(ctx, msg) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message", logging.Fields{
				"offset": msg.Offset,
				"error":  err.Error(),
			})
		}
	}
}

// Stop stops the consumer. It is safe to call more than once.
func (c *KafkaConsumer) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if err := c.reader.Close(); err != nil {
			c.logger.Error("Failed to close Kafka reader", logging.Fields{"error": err.Error()})
		}
	})
}

// process handles msg until it is applied or rejected, retrying transient
// failures with capped exponential backoff. Commits are cumulative per
// partition, so the consumer never moves past a message it failed to apply.
// It returns false only when the consumer is shutting down.
func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) bool {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		if c.handleMessage(ctx, msg) {
			return true
		}

		c.logger.Warn("Retrying fulfilment event", logging.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
			"attempt":   attempt,
			"backoff":   backoff.String(),
		})

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-c.stopCh:
			timer.Stop()
			return false
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// handleMessage reports whether the message is done with and may be
// committed. Only transient failures report false.
func (c *KafkaConsumer) handleMessage(ctx context.Context, msg kafka.Message) bool {
	c.logger.Debug("Received message", logging.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event FulfilmentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("Failed to unmarshal event", logging.Fields{"error": err.Error()})
		return true
	}

	update, ok := toFulfilmentUpdate(&event)
	if !ok {
		c.logger.Debug("Ignoring unknown event type", logging.Fields{"type": event.Type})
		return true
	}

	ctx = requestctx.WithRequestID(ctx, event.ID)
	_, err := c.applier.ApplyFulfilmentUpdate(ctx, event.OrderID, update)
	if err == nil {
		c.logger.Info("Fulfilment event applied", logging.Fields{
			"event_id": event.ID,
			"type":     event.Type,
			"order_id": event.OrderID,
		})
		return true
	}

	switch errors.KindOf(err) {
	case errors.KindValidation, errors.KindNotFound, errors.KindState:
		c.logger.Warn("Rejected fulfilment event", logging.Fields{
			"event_id": event.ID,
			"type":     event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
		return true
	default:
		c.logger.Error("Failed to apply fulfilment event", logging.Fields{
			"event_id": event.ID,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
		return false
	}
}

func toFulfilmentUpdate(event *FulfilmentEvent) (*models.FulfilmentUpdate, bool) {
	update := &models.FulfilmentUpdate{TrackingInfo: event.TrackingInfo}
	if !event.Timestamp.IsZero() {
		ts := event.Timestamp
		update.OccurredAt = &ts
	}

	switch event.Type {
	case PaymentCompleted:
		update.PaymentStatus = models.PaymentStatusSuccessful
	case ShipmentShipped:
		update.Status = models.OrderStatusShipped
	case ShipmentOutForDelivery:
		update.Status = models.OrderStatusOutForDelivery
	case ShipmentDelivered:
		update.Status = models.OrderStatusDelivered
	case ShipmentTracking:
		if event.TrackingInfo == "" {
			return nil, false
		}
	case ReturnPickupScheduled:
		update.ReturnStatus = models.ReturnStatusPickupScheduled
	case ReturnRefunded:
		update.ReturnStatus = models.ReturnStatusRefunded
	default:
		return nil, false
	}
	return update, true
}
