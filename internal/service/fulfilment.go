package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/errors"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/logging"
	"github.com/tm-acme-shop/acme-shop-storefront-orders/internal/models"
)

// maxClockSkew tolerates carrier clocks running slightly ahead of ours.
const maxClockSkew = 5 * time.Minute

// ApplyFulfilmentUpdate applies a seller or carrier update to an order.
// Status only moves forward; repeating the current status is a no-op for
// that field so redelivered events are harmless.
func (s *OrderService) ApplyFulfilmentUpdate(ctx context.Context, orderID string, update *models.FulfilmentUpdate) (*models.Order, error) {
	order, err := s.applyFulfilmentUpdate(ctx, orderID, update)
	if err != nil {
		s.observeError(OpFulfilment, err)
	}
	return order, err
}

// deliveredAt resolves the delivery timestamp. A carrier-supplied time must
// fall between order creation and now (plus clock skew). Stored values are
// truncated to milliseconds so every storage driver round-trips them equally.
func (s *OrderService) deliveredAt(order *models.Order, occurredAt *time.Time) (time.Time, error) {
	now := s.now().UTC()
	if occurredAt == nil {
		return now.Truncate(time.Millisecond), nil
	}

	at := occurredAt.UTC()
	if at.After(now.Add(maxClockSkew)) {
		return time.Time{}, errors.NewValidationError("occurred_at", "delivery time cannot be in the future")
	}
	if !order.CreatedAt.IsZero() && at.Before(order.CreatedAt) {
		return time.Time{}, errors.NewValidationError("occurred_at", "delivery time cannot precede order creation")
	}
	return at.Truncate(time.Millisecond), nil
}

func (s *OrderService) applyFulfilmentUpdate(ctx context.Context, orderID string, update *models.FulfilmentUpdate) (*models.Order, error) {
	if err := ValidateFulfilmentUpdate(update); err != nil {
		return nil, err
	}

	s.logger.Info("Applying fulfilment update", logging.Fields{
		"order_id":      orderID,
		"status":        update.Status,
		"return_status": update.ReturnStatus,
	})

	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	previous := order.Status
	changed := false

	if update.PaymentStatus != "" && update.PaymentStatus != order.PaymentStatus {
		order.PaymentStatus = update.PaymentStatus
		changed = true
	}

	target := update.Status
	if target == "" && order.Status == models.OrderStatusPending && order.PaymentStatus.IsSuccessful() {
		target = models.OrderStatusPlaced
	}

	if target != "" && target != order.Status {
		if !isValidFulfilmentTransition(order.Status, target) {
			return nil, errors.NewStateError(OpFulfilment, string(order.Status),
				fmt.Sprintf("cannot move to %q", target))
		}
		if target == models.OrderStatusDelivered {
			deliveredAt, err := s.deliveredAt(order, update.OccurredAt)
			if err != nil {
				return nil, err
			}
			order.DeliveredAt = &deliveredAt
		}
		order.Status = target
		changed = true
	}

	if update.ReturnStatus != "" && update.ReturnStatus != order.ReturnStatus {
		if order.Status != models.OrderStatusReturned {
			return nil, errors.NewStateError(OpFulfilment, string(order.Status), "order has no return in progress")
		}
		if !isValidReturnTransition(order.ReturnStatus, update.ReturnStatus) {
			return nil, errors.NewStateError(OpFulfilment, string(order.Status),
				fmt.Sprintf("cannot move return from %q to %q", order.ReturnStatus, update.ReturnStatus))
		}
		order.ReturnStatus = update.ReturnStatus
		changed = true
	}

	if update.TrackingInfo != "" && update.TrackingInfo != order.TrackingInfo {
		order.TrackingInfo = update.TrackingInfo
		changed = true
	}

	if !changed {
		s.logger.Debug("Fulfilment update changed nothing", logging.Fields{"order_id": orderID})
		return order, nil
	}

	if err := s.save(ctx, OpFulfilment, order, previous); err != nil {
		return nil, err
	}

	if s.eventsEnabled() {
		if err := s.publisher.PublishFulfilmentUpdated(ctx, order, previous); err != nil {
			s.logger.Error("Failed to publish fulfilment event", logging.Fields{
				"order_id": order.OrderID,
				"error":    err.Error(),
			})
		}
	}
	if previous != order.Status {
		s.notify(ctx, order, previous)
	}

	return order, nil
}

func isValidFulfilmentTransition(from, to models.OrderStatus) bool {
	validTransitions := map[models.OrderStatus][]models.OrderStatus{
		models.OrderStatusPending:        {models.OrderStatusPlaced},
		models.OrderStatusPlaced:         {models.OrderStatusShipped, models.OrderStatusDelivered},
		models.OrderStatusShipped:        {models.OrderStatusOutForDelivery, models.OrderStatusDelivered},
		models.OrderStatusOutForDelivery: {models.OrderStatusDelivered},
		models.OrderStatusDelivered:      {},
		models.OrderStatusCancelled:      {},
		models.OrderStatusReturned:       {},
	}

	for _, status := range validTransitions[from] {
		if status == to {
			return true
		}
	}
	return false
}

func isValidReturnTransition(from, to models.ReturnStatus) bool {
	switch from {
	case models.ReturnStatusRequested:
		return to == models.ReturnStatusPickupScheduled || to == models.ReturnStatusRefunded
	case models.ReturnStatusPickupScheduled:
		return to == models.ReturnStatusRefunded
	}
	return false
}
